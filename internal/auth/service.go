// Package auth handles API bearer tokens and identity webhook signatures.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"snapaid/internal/logging"
	"snapaid/internal/redis"
	"snapaid/internal/storage"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
)

// Service issues, validates, and revokes API tokens bound to profile ids.
type Service struct {
	db         *storage.DB
	rdb        *redis.Client
	tokenTTL   time.Duration
	headerName string
	logger     *slog.Logger
}

// NewService constructs an auth service with the supplied token lifetime.
// rdb may be nil, in which case every validation reads the database.
func NewService(db *storage.DB, rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:         db,
		rdb:        rdb,
		tokenTTL:   ttl,
		headerName: "Authorization",
		logger:     logging.New("auth"),
	}
}

// IssueToken mints a new random token for the profile and persists it.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("invalid user id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	var lastErr error
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, userID, now, expiresAt,
		)
		if err == nil {
			s.cacheToken(ctx, token, userID, expiresAt)
			return token, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("could not issue token: %w", lastErr)
}

// ValidateToken verifies the token exists and has not expired, returning the profile id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", ErrTokenRequired
	}
	if userID, err := s.rdb.Get(ctx, tokenKey(authToken)); err == nil && userID != "" {
		return userID, nil
	}
	var (
		userID  string
		expires time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token = ?`, authToken,
	).Scan(&userID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken)
		return "", ErrTokenExpired
	}
	s.cacheToken(ctx, authToken, userID, expires)
	return userID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token = ?`, authToken); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.forgetTokens(ctx, authToken)
	return nil
}

// RevokeUserTokens removes all tokens belonging to the profile and returns how many were removed.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM user_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("list user tokens: %w", err)
	}
	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan user token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("list user tokens: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	s.forgetTokens(ctx, tokens...)
	return len(tokens), nil
}

func (s *Service) cacheToken(ctx context.Context, token, userID string, expiresAt time.Time) {
	if s.rdb == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if err := s.rdb.Set(ctx, tokenKey(token), userID, ttl); err != nil {
		s.logger.Warn("cache token failed", "error", err)
	}
}

func (s *Service) forgetTokens(ctx context.Context, tokens ...string) {
	if s.rdb == nil || len(tokens) == 0 {
		return
	}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, tokenKey(t))
	}
	if err := s.rdb.Del(ctx, keys...); err != nil {
		s.logger.Warn("evict cached tokens failed", "error", err)
	}
}

func tokenKey(token string) string {
	return redis.Key("token", token)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
