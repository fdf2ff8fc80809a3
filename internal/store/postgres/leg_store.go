package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// LegStore implements domain.LegStore using PostgreSQL.
type LegStore struct {
	pool *pgxpool.Pool
}

// NewLegStore creates a new LegStore backed by the given connection pool.
func NewLegStore(pool *pgxpool.Pool) *LegStore {
	return &LegStore{pool: pool}
}

const legSelectCols = `id, position_id, sequence, delta_shares, price, cost_delta, trigger_reason, created_at`

func scanLegRow(row pgx.Row) (domain.FillLeg, error) {
	var l domain.FillLeg
	err := row.Scan(&l.ID, &l.PositionID, &l.Sequence, &l.DeltaShares, &l.Price, &l.CostDelta, &l.TriggerReason, &l.CreatedAt)
	return l, err
}

// Append inserts the next leg in a position's fill ledger. Sequence is
// assigned atomically from the current max for the position, so callers
// never need to track it themselves.
func (s *LegStore) Append(ctx context.Context, leg domain.FillLeg) error {
	const query = `
		INSERT INTO position_legs (
			id, position_id, sequence, delta_shares, price, cost_delta, trigger_reason, created_at
		) VALUES (
			$1, $2, COALESCE((SELECT MAX(sequence) + 1 FROM position_legs WHERE position_id = $2), 0),
			$3, $4, $5, $6, NOW()
		)`

	_, err := s.pool.Exec(ctx, query, leg.ID, leg.PositionID, leg.DeltaShares, leg.Price, leg.CostDelta, leg.TriggerReason)
	if err != nil {
		return fmt.Errorf("postgres: append leg for position %s: %w", leg.PositionID, err)
	}
	return nil
}

// ListByPosition returns every leg recorded against a position, in
// sequence order, so its state can be reconstructed by summing them.
func (s *LegStore) ListByPosition(ctx context.Context, positionID string) ([]domain.FillLeg, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+legSelectCols+` FROM position_legs WHERE position_id = $1 ORDER BY sequence ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list legs for position %s: %w", positionID, err)
	}
	defer rows.Close()

	var legs []domain.FillLeg
	for rows.Next() {
		l, err := scanLegRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan leg: %w", err)
		}
		legs = append(legs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list legs rows: %w", err)
	}
	return legs, nil
}
