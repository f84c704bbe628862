// Package cases implements case intake and the case read/update operations.
package cases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"snapaid/internal/apperr"
	"snapaid/internal/logging"
	"snapaid/internal/models"
	"snapaid/internal/service/classifier"
	"snapaid/internal/service/triage"
)

// TriageStore is the subset of triage.Recorder used by the case service.
type TriageStore interface {
	Create(ctx context.Context, caseID string, f triage.Fields) (*models.TriageResult, error)
	Update(ctx context.Context, caseID string, f triage.Fields) (*models.TriageResult, error)
	Get(ctx context.Context, caseID string) (*models.TriageResult, error)
}

// Options tune the case service.
type Options struct {
	// EnforceStatusValues rejects status names outside models.KnownStatuses.
	EnforceStatusValues bool
}

// Service runs the intake pipeline and the case query/update operations.
type Service struct {
	store      *Store
	classifier classifier.Classifier
	triage     TriageStore
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewService wires the case service.
func NewService(store *Store, cls classifier.Classifier, tri TriageStore, opts Options) *Service {
	return &Service{
		store:      store,
		classifier: cls,
		triage:     tri,
		opts:       opts,
		logger:     logging.New("cases"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// CreateInput is a case submission.
type CreateInput struct {
	UserID     string  `json:"user_id"`
	InputText  string  `json:"input_text"`
	InputImage *string `json:"input_image"`
	InputVoice *string `json:"input_voice"`
}

// Create persists a new case, then classifies it and records the triage.
// The case is returned even when classification or the triage write fails;
// only validation and the case insert are fatal.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Case, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, apperr.Validation("user_id", "is required")
	}
	if strings.TrimSpace(in.InputText) == "" {
		return nil, apperr.Validation("input_text", "is required")
	}
	now := s.now()
	c := &models.Case{
		ID:                  s.newID(),
		UserID:              in.UserID,
		Status:              models.StatusOpened,
		InputText:           in.InputText,
		InputImage:          blankToNil(in.InputImage),
		InputVoice:          blankToNil(in.InputVoice),
		ConversationHistory: []models.Message{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("case created", "case_id", c.ID, "user_id", c.UserID)

	res, err := s.classify(ctx, c, c.InputText)
	if err != nil {
		s.logger.Error("classification failed", "case_id", c.ID, "error", err)
		return c, nil
	}
	if _, err := s.triage.Create(ctx, c.ID, fieldsFrom(res)); err != nil {
		s.logger.Error("record triage failed", "case_id", c.ID, "error", err)
	}
	return c, nil
}

// Reclassify classifies the case again, including its conversation, and
// overwrites the stored triage. A case without triage gets one created.
func (s *Service) Reclassify(ctx context.Context, id string) (*models.TriageResult, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := s.classify(ctx, c, transcript(c))
	if err != nil {
		return nil, err
	}
	if _, err := s.triage.Get(ctx, c.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.triage.Create(ctx, c.ID, fieldsFrom(res))
		}
		return nil, err
	}
	return s.triage.Update(ctx, c.ID, fieldsFrom(res))
}

func (s *Service) classify(ctx context.Context, c *models.Case, text string) (*classifier.Result, error) {
	if s.classifier == nil {
		return nil, &apperr.ClassificationError{Err: errors.New("no classifier configured")}
	}
	return s.classifier.Classify(ctx, classifier.Input{
		Text:  text,
		Image: c.InputImage,
		Voice: c.InputVoice,
	})
}

// Get returns a case by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Case, error) {
	return s.store.Get(ctx, id)
}

// GetWithTriage returns a case and its triage, which is nil when none was recorded.
func (s *Service) GetWithTriage(ctx context.Context, id string) (*models.Case, *models.TriageResult, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.triage.Get(ctx, c.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, nil, nil
		}
		return nil, nil, err
	}
	return c, t, nil
}

// List returns every case, or only userID's cases when userID is set.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Case, error) {
	return s.store.List(ctx, userID)
}

// UpdateStatus writes status as given. Transitions are not checked; with
// EnforceStatusValues the name must be a known status.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*models.Case, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("case_id", "is required")
	}
	if strings.TrimSpace(status) == "" {
		return nil, apperr.Validation("status", "is required")
	}
	st := models.CaseStatus(status)
	if s.opts.EnforceStatusValues && !st.IsKnown() {
		return nil, apperr.Validation("status", fmt.Sprintf("invalid status value %q", status))
	}
	if err := s.store.SetStatus(ctx, id, st); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// ReplaceConversation overwrites the conversation of a case.
func (s *Service) ReplaceConversation(ctx context.Context, id string, msgs []models.Message) (*models.Case, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("case_id", "is required")
	}
	if msgs == nil {
		return nil, apperr.Validation("conversation_history", "is required")
	}
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}
	if err := s.store.SetConversation(ctx, id, msgs); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// AppendConversation adds messages to the end of a case conversation.
// Concurrent appends are last-write-wins.
func (s *Service) AppendConversation(ctx context.Context, id string, msgs []models.Message) (*models.Case, error) {
	if len(msgs) == 0 {
		return nil, apperr.Validation("messages", "at least one message is required")
	}
	if err := validateMessages(msgs); err != nil {
		return nil, err
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	history := append(append([]models.Message{}, c.ConversationHistory...), msgs...)
	if err := s.store.SetConversation(ctx, c.ID, history); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, c.ID)
}

func validateMessages(msgs []models.Message) error {
	for i, m := range msgs {
		if strings.TrimSpace(string(m.Role)) == "" {
			return apperr.Validation(fmt.Sprintf("messages[%d].role", i), "is required")
		}
	}
	return nil
}

func transcript(c *models.Case) string {
	if len(c.ConversationHistory) == 0 {
		return c.InputText
	}
	var b strings.Builder
	b.WriteString(c.InputText)
	b.WriteString("\n\nConversation:\n")
	for _, m := range c.ConversationHistory {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func fieldsFrom(r *classifier.Result) triage.Fields {
	return triage.Fields{
		Labels:            r.Labels,
		Summary:           r.Summary,
		RecommendedAction: r.RecommendedAction,
		RiskScore:         r.RiskScore,
	}
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
