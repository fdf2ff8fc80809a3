package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// CooldownStore implements domain.CooldownStore using PostgreSQL.
type CooldownStore struct {
	pool *pgxpool.Pool
}

// NewCooldownStore creates a new CooldownStore backed by the given connection pool.
func NewCooldownStore(pool *pgxpool.Pool) *CooldownStore {
	return &CooldownStore{pool: pool}
}

// Set inserts or replaces the active cooldown for a strategy/market/token key.
func (s *CooldownStore) Set(ctx context.Context, c domain.Cooldown) error {
	const query = `
		INSERT INTO cooldowns (strategy_name, market_id, token_id, reason, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (strategy_name, market_id, token_id) DO UPDATE SET
			reason     = EXCLUDED.reason,
			started_at = EXCLUDED.started_at,
			expires_at = EXCLUDED.expires_at`

	_, err := s.pool.Exec(ctx, query,
		c.Strategy, c.MarketID, c.TokenID, c.Reason, c.StartedAt, c.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: set cooldown %s/%s/%s: %w", c.Strategy, c.MarketID, c.TokenID, err)
	}
	return nil
}

// Get retrieves the active cooldown for a strategy/market/token key.
func (s *CooldownStore) Get(ctx context.Context, strategy, marketID, tokenID string) (domain.Cooldown, error) {
	const query = `
		SELECT strategy_name, market_id, token_id, reason, started_at, expires_at
		FROM cooldowns WHERE strategy_name = $1 AND market_id = $2 AND token_id = $3`

	var c domain.Cooldown
	err := s.pool.QueryRow(ctx, query, strategy, marketID, tokenID).Scan(
		&c.Strategy, &c.MarketID, &c.TokenID, &c.Reason, &c.StartedAt, &c.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Cooldown{}, domain.ErrNotFound
		}
		return domain.Cooldown{}, fmt.Errorf("postgres: get cooldown %s/%s/%s: %w", strategy, marketID, tokenID, err)
	}
	return c, nil
}

// Clear removes an active cooldown, letting the strategy act again immediately.
func (s *CooldownStore) Clear(ctx context.Context, strategy, marketID, tokenID string) error {
	const query = `DELETE FROM cooldowns WHERE strategy_name = $1 AND market_id = $2 AND token_id = $3`

	_, err := s.pool.Exec(ctx, query, strategy, marketID, tokenID)
	if err != nil {
		return fmt.Errorf("postgres: clear cooldown %s/%s/%s: %w", strategy, marketID, tokenID, err)
	}
	return nil
}
