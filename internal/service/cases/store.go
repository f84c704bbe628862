package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"snapaid/internal/apperr"
	"snapaid/internal/logging"
	"snapaid/internal/models"
	"snapaid/internal/redis"
	"snapaid/internal/storage"
)

// Store is the persistence layer for cases.
type Store struct {
	db    *storage.DB
	cache *caseCache
}

// NewStore builds a case store. rdb may be nil.
func NewStore(db *storage.DB, rdb *redis.Client) *Store {
	return &Store{
		db:    db,
		cache: &caseCache{client: rdb, logger: logging.New("cases.cache")},
	}
}

const caseColumns = `id, user_id, status, input_text, input_image, input_voice, conversation_history, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.Case, error) {
	var (
		c            models.Case
		status, conv string
		image, voice sql.NullString
	)
	if err := row.Scan(&c.ID, &c.UserID, &status, &c.InputText, &image, &voice, &conv, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CaseStatus(status)
	if image.Valid {
		c.InputImage = &image.String
	}
	if voice.Valid {
		c.InputVoice = &voice.String
	}
	c.ConversationHistory = []models.Message{}
	if conv != "" {
		if err := json.Unmarshal([]byte(conv), &c.ConversationHistory); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func encodeConversation(msgs []models.Message) (string, error) {
	if msgs == nil {
		msgs = []models.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Insert writes a new case row.
func (s *Store) Insert(ctx context.Context, c *models.Case) error {
	conv, err := encodeConversation(c.ConversationHistory)
	if err != nil {
		return apperr.Storage("encode conversation", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (`+caseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, string(c.Status), c.InputText, c.InputImage, c.InputVoice, conv, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return apperr.Storage("insert case", err)
	}
	return nil
}

// Get loads a case, consulting the cache first. Returns sql.ErrNoRows when absent.
func (s *Store) Get(ctx context.Context, id string) (*models.Case, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("case_id", "is required")
	}
	if c, ok := s.cache.load(ctx, id); ok {
		return c, nil
	}
	gen, cacheable := s.cache.generation(ctx, id)
	c, err := scanCase(s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, apperr.Storage("get case", err)
	}
	if cacheable {
		s.cache.store(ctx, c, gen)
	}
	return c, nil
}

// List returns cases newest first, restricted to userID when it is not empty.
func (s *Store) List(ctx context.Context, userID string) ([]*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases`
	var args []any
	if userID = strings.TrimSpace(userID); userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("list cases", err)
	}
	defer rows.Close()

	out := []*models.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, apperr.Storage("scan case", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list cases", err)
	}
	return out, nil
}

// SetStatus overwrites the status column.
func (s *Store) SetStatus(ctx context.Context, id string, status models.CaseStatus) error {
	return s.exec(ctx, "update status", id,
		`UPDATE cases SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
}

// SetConversation overwrites the conversation history.
func (s *Store) SetConversation(ctx context.Context, id string, msgs []models.Message) error {
	conv, err := encodeConversation(msgs)
	if err != nil {
		return apperr.Storage("encode conversation", err)
	}
	return s.exec(ctx, "update conversation", id,
		`UPDATE cases SET conversation_history = ?, updated_at = ? WHERE id = ?`,
		conv, time.Now().UTC(), id)
}

func (s *Store) exec(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Storage(op, err)
	}
	s.cache.invalidate(ctx, id)
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
