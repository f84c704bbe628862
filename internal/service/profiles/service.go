package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapaid/internal/apperr"
	"snapaid/internal/models"
	"snapaid/internal/storage"
)

// Service reads and writes user profiles.
type Service struct {
	db *storage.DB
}

// NewService builds a profile service on db.
func NewService(db *storage.DB) *Service {
	return &Service{db: db}
}

const profileColumns = `user_id, name, age, gender, role, email, image, username, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p                                 models.Profile
		name, gender, email, image, uname sql.NullString
		age                               sql.NullInt64
		role                              string
	)
	if err := row.Scan(&p.UserID, &name, &age, &gender, &role, &email, &image, &uname, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = models.ProfileRole(role)
	p.Name = nullString(name)
	p.Gender = nullString(gender)
	p.Email = nullString(email)
	p.Image = nullString(image)
	p.Username = nullString(uname)
	if age.Valid {
		v := int(age.Int64)
		p.Age = &v
	}
	return &p, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// Get returns the profile for userID, or sql.ErrNoRows.
func (s *Service) Get(ctx context.Context, userID string) (*models.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("user_id", "is required")
	}
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, apperr.Storage("get profile", err)
	}
	return p, nil
}

// Exists reports whether a profile row exists for userID.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM profiles WHERE user_id = ?)`, userID,
	).Scan(&exists); err != nil {
		return false, apperr.Storage("check profile", err)
	}
	return exists, nil
}

// ListByRole returns every profile with the given role.
func (s *Service) ListByRole(ctx context.Context, role models.ProfileRole) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE role = ? ORDER BY created_at ASC`, string(role))
	if err != nil {
		return nil, apperr.Storage("list profiles", err)
	}
	defer rows.Close()

	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, apperr.Storage("scan profile", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list profiles", err)
	}
	return out, nil
}

// Update holds the user-editable profile fields.
type Update struct {
	Name   *string `json:"name"`
	Age    *int    `json:"age"`
	Gender *string `json:"gender"`
}

// UpdateDetails overwrites name, age and gender and returns the stored profile.
func (s *Service) UpdateDetails(ctx context.Context, userID string, upd Update) (*models.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation("user_id", "is required in payload")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET name = ?, age = ?, gender = ?, updated_at = ? WHERE user_id = ?`,
		upd.Name, upd.Age, upd.Gender, time.Now().UTC(), userID,
	)
	if err != nil {
		return nil, apperr.Storage("update profile", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, sql.ErrNoRows
	}
	return s.Get(ctx, userID)
}

// Identity is the subset of an identity-provider user mirrored into profiles.
type Identity struct {
	UserID   string
	Name     string
	Email    *string
	Image    *string
	Username *string
	Role     models.ProfileRole
}

// UpsertIdentity inserts the profile or refreshes its identity fields.
// Age and gender are owned by the user and never touched here.
func (s *Service) UpsertIdentity(ctx context.Context, id Identity) (*models.Profile, error) {
	id.UserID = strings.TrimSpace(id.UserID)
	if id.UserID == "" {
		return nil, apperr.Validation("id", "is required")
	}
	if id.Role == "" {
		id.Role = models.RolePatient
	}
	exists, err := s.Exists(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if exists {
		_, err = s.db.ExecContext(ctx,
			`UPDATE profiles SET name = ?, image = ?, username = ?, role = ?, email = COALESCE(?, email), updated_at = ? WHERE user_id = ?`,
			id.Name, id.Image, id.Username, string(id.Role), id.Email, now, id.UserID,
		)
		if err != nil {
			return nil, apperr.Storage("update identity", err)
		}
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO profiles (user_id, name, role, email, image, username, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id.UserID, id.Name, string(id.Role), id.Email, id.Image, id.Username, now, now,
		)
		if err != nil {
			return nil, apperr.Storage("insert identity", err)
		}
	}
	p, err := s.Get(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("reload profile: %w", err)
	}
	return p, nil
}
