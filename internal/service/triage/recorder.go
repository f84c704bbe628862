// Package triage stores classification results and applies the emergency
// alert policy whenever one is written.
package triage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"snapaid/internal/apperr"
	"snapaid/internal/logging"
	"snapaid/internal/models"
	"snapaid/internal/storage"
)

// EmergencyNotifier is told about every case whose triage carries an emergency label.
type EmergencyNotifier interface {
	NotifyEmergency(ctx context.Context, caseID string)
}

// Fields are the writable columns of a triage result.
type Fields struct {
	Labels            []string `json:"labels"`
	Summary           string   `json:"summary"`
	RecommendedAction string   `json:"recommended_action"`
	RiskScore         *float64 `json:"risk_score"`
}

// Recorder persists triage results for cases.
type Recorder struct {
	db       *storage.DB
	notifier EmergencyNotifier
	logger   *slog.Logger
}

// NewRecorder builds a recorder. A nil notifier disables alerts.
func NewRecorder(db *storage.DB, notifier EmergencyNotifier) *Recorder {
	return &Recorder{db: db, notifier: notifier, logger: logging.New("triage")}
}

const triageColumns = `id, case_id, labels, summary, recommended_action, risk_score, created_at, updated_at`

// Create inserts a triage row for caseID. Returns sql.ErrNoRows when the case does not exist.
func (r *Recorder) Create(ctx context.Context, caseID string, f Fields) (*models.TriageResult, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, apperr.Validation("case_id", "is required")
	}
	exists, err := r.caseExists(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, sql.ErrNoRows
	}
	labels, err := encodeLabels(f.Labels)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	id, err := r.db.InsertReturningID(ctx,
		`INSERT INTO triage_results (case_id, labels, summary, recommended_action, risk_score, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		caseID, labels, f.Summary, f.RecommendedAction, f.RiskScore, now, now,
	)
	if err != nil {
		return nil, apperr.Storage("insert triage", err)
	}
	result := &models.TriageResult{
		ID:                id,
		CaseID:            caseID,
		Labels:            normalizeLabels(f.Labels),
		Summary:           f.Summary,
		RecommendedAction: f.RecommendedAction,
		RiskScore:         f.RiskScore,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.applyEmergencyPolicy(ctx, result)
	return result, nil
}

// Update overwrites the triage of caseID in place. Returns sql.ErrNoRows when
// the case has no triage yet; emergency labels on such a write still alert
// as long as the case itself exists.
func (r *Recorder) Update(ctx context.Context, caseID string, f Fields) (*models.TriageResult, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, apperr.Validation("case_id", "is required")
	}
	labels, err := encodeLabels(f.Labels)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE triage_results SET labels = ?, summary = ?, recommended_action = ?, risk_score = ?, updated_at = ? WHERE case_id = ?`,
		labels, f.Summary, f.RecommendedAction, f.RiskScore, time.Now().UTC(), caseID,
	)
	if err != nil {
		return nil, apperr.Storage("update triage", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// no row to overwrite, but the labels still reached us
		exists, err := r.caseExists(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if exists {
			r.applyEmergencyPolicy(ctx, &models.TriageResult{CaseID: caseID, Labels: normalizeLabels(f.Labels)})
		}
		return nil, sql.ErrNoRows
	}
	result, err := r.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	r.applyEmergencyPolicy(ctx, result)
	return result, nil
}

// Get returns the most recent triage row of caseID, or sql.ErrNoRows.
func (r *Recorder) Get(ctx context.Context, caseID string) (*models.TriageResult, error) {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return nil, apperr.Validation("case_id", "is required")
	}
	var (
		t         models.TriageResult
		rawLabels string
		risk      sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+triageColumns+` FROM triage_results WHERE case_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, caseID,
	).Scan(&t.ID, &t.CaseID, &rawLabels, &t.Summary, &t.RecommendedAction, &risk, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, apperr.Storage("get triage", err)
	}
	if err := json.Unmarshal([]byte(rawLabels), &t.Labels); err != nil {
		return nil, apperr.Storage("decode triage labels", err)
	}
	t.Labels = normalizeLabels(t.Labels)
	if risk.Valid {
		v := risk.Float64
		t.RiskScore = &v
	}
	return &t, nil
}

// applyEmergencyPolicy alerts on every write that carries an emergency label,
// including repeated writes for the same case.
func (r *Recorder) applyEmergencyPolicy(ctx context.Context, t *models.TriageResult) {
	if r.notifier == nil || !models.HasEmergencyLabel(t.Labels) {
		return
	}
	r.logger.Info("emergency label detected", "case_id", t.CaseID, "labels", t.Labels)
	r.notifier.NotifyEmergency(ctx, t.CaseID)
}

func (r *Recorder) caseExists(ctx context.Context, caseID string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = ?)`, caseID).Scan(&exists); err != nil {
		return false, apperr.Storage("check case", err)
	}
	return exists, nil
}

func encodeLabels(labels []string) (string, error) {
	data, err := json.Marshal(normalizeLabels(labels))
	if err != nil {
		return "", apperr.Validation("labels", err.Error())
	}
	return string(data), nil
}

func normalizeLabels(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
