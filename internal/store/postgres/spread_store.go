package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}

// SpreadStore implements domain.SpreadStore using PostgreSQL. A spread
// groups the positions opened together by a multi-leg strategy; legs are
// stored in a child table keyed by spread ID.
type SpreadStore struct {
	pool *pgxpool.Pool
}

// NewSpreadStore creates a new SpreadStore backed by the given connection pool.
func NewSpreadStore(pool *pgxpool.Pool) *SpreadStore {
	return &SpreadStore{pool: pool}
}

// Create inserts a new spread group.
func (s *SpreadStore) Create(ctx context.Context, sp domain.Spread) error {
	const query = `
		INSERT INTO spreads (id, strategy_name, policy, status, max_leg_gap_seconds, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		sp.ID, sp.Strategy, string(sp.Policy), string(sp.Status),
		int64(sp.MaxLegGap.Seconds()), sp.OpenedAt, sp.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create spread %s: %w", sp.ID, err)
	}
	return nil
}

// AddLeg links a position into a spread's leg list.
func (s *SpreadStore) AddLeg(ctx context.Context, leg domain.PositionLeg) error {
	const query = `
		INSERT INTO spread_legs (spread_id, position_id, leg_index, token_id, filled, filled_at, slippage)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (spread_id, position_id) DO UPDATE SET
			filled     = EXCLUDED.filled,
			filled_at  = EXCLUDED.filled_at,
			slippage   = EXCLUDED.slippage`

	_, err := s.pool.Exec(ctx, query,
		leg.SpreadID, leg.PositionID, leg.LegIndex, leg.TokenID,
		leg.Filled, leg.FilledAt, leg.Slippage,
	)
	if err != nil {
		return fmt.Errorf("postgres: add leg to spread %s: %w", leg.SpreadID, err)
	}
	return nil
}

// Update replaces a spread's mutable fields (status, closed_at).
func (s *SpreadStore) Update(ctx context.Context, sp domain.Spread) error {
	const query = `
		UPDATE spreads SET status = $2, closed_at = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, sp.ID, string(sp.Status), sp.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: update spread %s: %w", sp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a spread and its leg position IDs.
func (s *SpreadStore) GetByID(ctx context.Context, id string) (domain.Spread, error) {
	const query = `
		SELECT id, strategy_name, policy, status, max_leg_gap_seconds, opened_at, closed_at
		FROM spreads WHERE id = $1`

	var sp domain.Spread
	var policy, status string
	var maxLegGapSeconds int64
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sp.ID, &sp.Strategy, &policy, &status, &maxLegGapSeconds, &sp.OpenedAt, &sp.ClosedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Spread{}, domain.ErrNotFound
		}
		return domain.Spread{}, fmt.Errorf("postgres: get spread %s: %w", id, err)
	}
	sp.Policy = domain.LegPolicy(policy)
	sp.Status = domain.SpreadStatus(status)
	sp.MaxLegGap = secondsToDuration(maxLegGapSeconds)

	legIDs, err := s.legIDs(ctx, id)
	if err != nil {
		return domain.Spread{}, err
	}
	sp.LegIDs = legIDs
	return sp, nil
}

// ListLegs returns all legs belonging to a spread, ordered by leg index.
func (s *SpreadStore) ListLegs(ctx context.Context, spreadID string) ([]domain.PositionLeg, error) {
	const query = `
		SELECT spread_id, position_id, leg_index, token_id, filled, filled_at, slippage
		FROM spread_legs WHERE spread_id = $1 ORDER BY leg_index`

	rows, err := s.pool.Query(ctx, query, spreadID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs for spread %s: %w", spreadID, err)
	}
	defer rows.Close()

	var legs []domain.PositionLeg
	for rows.Next() {
		var leg domain.PositionLeg
		if err := rows.Scan(
			&leg.SpreadID, &leg.PositionID, &leg.LegIndex, &leg.TokenID,
			&leg.Filled, &leg.FilledAt, &leg.Slippage,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// ListOpen returns spreads still opening or open for the given strategy.
func (s *SpreadStore) ListOpen(ctx context.Context, strategy string) ([]domain.Spread, error) {
	const query = `
		SELECT id, strategy_name, policy, status, max_leg_gap_seconds, opened_at, closed_at
		FROM spreads
		WHERE strategy_name = $1 AND status IN ('opening', 'open')
		ORDER BY opened_at DESC`

	rows, err := s.pool.Query(ctx, query, strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open spreads for %s: %w", strategy, err)
	}
	defer rows.Close()

	var spreads []domain.Spread
	for rows.Next() {
		var sp domain.Spread
		var policy, status string
		var maxLegGapSeconds int64
		if err := rows.Scan(
			&sp.ID, &sp.Strategy, &policy, &status, &maxLegGapSeconds, &sp.OpenedAt, &sp.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan spread: %w", err)
		}
		sp.Policy = domain.LegPolicy(policy)
		sp.Status = domain.SpreadStatus(status)
		sp.MaxLegGap = secondsToDuration(maxLegGapSeconds)
		spreads = append(spreads, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open spreads rows: %w", err)
	}

	for i := range spreads {
		legIDs, err := s.legIDs(ctx, spreads[i].ID)
		if err != nil {
			return nil, err
		}
		spreads[i].LegIDs = legIDs
	}
	return spreads, nil
}

func (s *SpreadStore) legIDs(ctx context.Context, spreadID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT position_id FROM spread_legs WHERE spread_id = $1 ORDER BY leg_index`, spreadID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list leg ids for spread %s: %w", spreadID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
