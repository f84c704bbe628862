package cases

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"snapaid/internal/models"
	"snapaid/internal/redis"
)

const (
	caseCacheTTL = 30 * time.Minute
	// generations must outlive any cached copy they guard
	caseGenTTL = 2 * caseCacheTTL
)

// caseCache keeps recently read cases in redis. A nil client turns every
// call into a no-op or a miss.
//
// Every write bumps a per-case generation counter. A reader captures the
// generation before it queries the database and only caches its row if the
// generation is still the same, so a row read before a write never outlives
// that write in the cache.
type caseCache struct {
	client *redis.Client
	logger *slog.Logger
}

func caseKey(id string) string {
	return redis.Key("case", id)
}

func caseGenKey(id string) string {
	return redis.Key("case", id, "gen")
}

func (c *caseCache) load(ctx context.Context, id string) (*models.Case, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	var out models.Case
	if err := c.client.GetJSON(ctx, caseKey(id), &out); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("case cache read failed", "case_id", id, "error", err)
		}
		return nil, false
	}
	return &out, true
}

// generation returns the current write generation of id; "" when none.
func (c *caseCache) generation(ctx context.Context, id string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	gen, err := c.client.Get(ctx, caseGenKey(id))
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", true
		}
		c.logger.Warn("case cache generation read failed", "case_id", id, "error", err)
		return "", false
	}
	return gen, true
}

// store caches cs unless a write bumped its generation since gen was read.
func (c *caseCache) store(ctx context.Context, cs *models.Case, gen string) {
	if c == nil || c.client == nil || cs == nil || cs.ID == "" {
		return
	}
	err := c.client.SetJSONIfUnchanged(ctx, caseGenKey(cs.ID), gen, caseKey(cs.ID), cs, caseCacheTTL)
	switch {
	case err == nil:
	case errors.Is(err, redis.ErrGuardChanged):
		c.logger.Debug("case cache write skipped after concurrent update", "case_id", cs.ID)
	default:
		c.logger.Warn("case cache write failed", "case_id", cs.ID, "error", err)
	}
}

// invalidate runs after a committed write.
func (c *caseCache) invalidate(ctx context.Context, id string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Bump(ctx, caseGenKey(id), caseGenTTL); err != nil {
		c.logger.Warn("case cache generation bump failed", "case_id", id, "error", err)
	}
	if err := c.client.Del(ctx, caseKey(id)); err != nil {
		c.logger.Warn("case cache invalidate failed", "case_id", id, "error", err)
	}
}
