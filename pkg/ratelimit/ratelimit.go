// Package ratelimit implements the Rate Limiter (component B): a
// per-(scopeKey, goal) token bucket accounted in the Durable Store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kilnworks/companykernel/internal/store"
	"github.com/kilnworks/companykernel/internal/telemetry"
)

// Rule is the token bucket shape for one goal, sourced from the Governor
// Config document.
type Rule struct {
	Capacity     float64
	RefillPerSec float64
}

// Result is the outcome of a Take call.
type Result struct {
	Allowed     bool
	Remaining   float64
	NextRetryAt *time.Time
}

// Limiter accounts tokens for (scopeKey, goal) pairs against the store.
type Limiter struct {
	store *store.Store
}

// New builds a Limiter backed by s.
func New(s *store.Store) *Limiter {
	return &Limiter{store: s}
}

// Take runs the read-refill-consume algorithm inside a single transaction,
// serializing the read-modify-write per bucket key.
func (l *Limiter) Take(ctx context.Context, scopeKey, goal string, rule Rule, now time.Time) (Result, error) {
	key := fmt.Sprintf("%s|%s", scopeKey, goal)
	var result Result

	err := l.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var tokens float64
		var updatedAt time.Time

		row := tx.QueryRow(ctx, `SELECT tokens, updated_at FROM rate_limit_buckets WHERE key = $1 FOR UPDATE`, key)
		switch err := row.Scan(&tokens, &updatedAt); err {
		case nil:
		case pgx.ErrNoRows:
			tokens = rule.Capacity
			updatedAt = now
		default:
			return fmt.Errorf("reading rate bucket %s: %w", key, err)
		}

		elapsed := now.Sub(updatedAt).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		refilled := tokens + elapsed*rule.RefillPerSec
		if refilled > rule.Capacity {
			refilled = rule.Capacity
		}

		var remaining float64
		if refilled >= 1 {
			result.Allowed = true
			remaining = refilled - 1
		} else {
			result.Allowed = false
			remaining = refilled
			if rule.RefillPerSec > 0 {
				retryAt := now.Add(time.Duration((1 - refilled) / rule.RefillPerSec * float64(time.Second)))
				result.NextRetryAt = &retryAt
			}
		}
		result.Remaining = remaining

		_, err := tx.Exec(ctx, `
			INSERT INTO rate_limit_buckets (key, tokens, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET tokens = EXCLUDED.tokens, updated_at = EXCLUDED.updated_at
		`, key, remaining, now)
		if err != nil {
			return fmt.Errorf("upserting rate bucket %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	allowedLabel := "false"
	if result.Allowed {
		allowedLabel = "true"
	}
	telemetry.RateLimiterAdmissionsTotal.WithLabelValues(allowedLabel).Inc()

	return result, nil
}
