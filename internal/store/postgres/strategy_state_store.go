package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// StrategyStateStore implements domain.StrategyStateStore using PostgreSQL.
type StrategyStateStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStateStore creates a new StrategyStateStore backed by the given connection pool.
func NewStrategyStateStore(pool *pgxpool.Pool) *StrategyStateStore {
	return &StrategyStateStore{pool: pool}
}

const strategyStateCols = `
	name, is_active, allocated_usd, available_usd, total_realized_pnl, total_unrealized_pnl,
	trade_count, win_count, loss_count, high_water_mark, max_drawdown,
	open_positions, signals_sent, error_count, last_signal_at, last_error, updated_at`

func scanStrategyStateRow(row pgx.Row) (domain.StrategyState, error) {
	var st domain.StrategyState
	err := row.Scan(
		&st.Name, &st.IsActive, &st.AllocatedUSD, &st.AvailableUSD, &st.TotalRealizedPnL, &st.TotalUnrealizedPnL,
		&st.TradeCount, &st.WinCount, &st.LossCount, &st.HighWaterMark, &st.MaxDrawdown,
		&st.OpenPositions, &st.SignalsSent, &st.ErrorCount, &st.LastSignalAt, &st.LastError, &st.UpdatedAt,
	)
	return st, err
}

// Get retrieves a single strategy's persisted capital ledger and state.
func (s *StrategyStateStore) Get(ctx context.Context, name string) (domain.StrategyState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+strategyStateCols+` FROM strategy_states WHERE name = $1`, name)

	st, err := scanStrategyStateRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.StrategyState{}, domain.ErrNotFound
		}
		return domain.StrategyState{}, fmt.Errorf("postgres: get strategy state %s: %w", name, err)
	}
	return st, nil
}

// Upsert inserts or updates a strategy's full capital ledger snapshot.
func (s *StrategyStateStore) Upsert(ctx context.Context, st domain.StrategyState) error {
	const query = `
		INSERT INTO strategy_states (
			name, is_active, allocated_usd, available_usd, total_realized_pnl, total_unrealized_pnl,
			trade_count, win_count, loss_count, high_water_mark, max_drawdown,
			open_positions, signals_sent, error_count, last_signal_at, last_error, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (name) DO UPDATE SET
			is_active             = EXCLUDED.is_active,
			allocated_usd         = EXCLUDED.allocated_usd,
			available_usd         = EXCLUDED.available_usd,
			total_realized_pnl    = EXCLUDED.total_realized_pnl,
			total_unrealized_pnl  = EXCLUDED.total_unrealized_pnl,
			trade_count           = EXCLUDED.trade_count,
			win_count             = EXCLUDED.win_count,
			loss_count            = EXCLUDED.loss_count,
			high_water_mark       = EXCLUDED.high_water_mark,
			max_drawdown          = EXCLUDED.max_drawdown,
			open_positions        = EXCLUDED.open_positions,
			signals_sent          = EXCLUDED.signals_sent,
			error_count           = EXCLUDED.error_count,
			last_signal_at        = EXCLUDED.last_signal_at,
			last_error            = EXCLUDED.last_error,
			updated_at            = NOW()`

	_, err := s.pool.Exec(ctx, query,
		st.Name, st.IsActive, st.AllocatedUSD, st.AvailableUSD, st.TotalRealizedPnL, st.TotalUnrealizedPnL,
		st.TradeCount, st.WinCount, st.LossCount, st.HighWaterMark, st.MaxDrawdown,
		st.OpenPositions, st.SignalsSent, st.ErrorCount, st.LastSignalAt, st.LastError,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy state %s: %w", st.Name, err)
	}
	return nil
}

// List returns the persisted state of every known strategy.
func (s *StrategyStateStore) List(ctx context.Context) ([]domain.StrategyState, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+strategyStateCols+` FROM strategy_states ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategy states: %w", err)
	}
	defer rows.Close()

	var states []domain.StrategyState
	for rows.Next() {
		st, err := scanStrategyStateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategy states rows: %w", err)
	}
	return states, nil
}
