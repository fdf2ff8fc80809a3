package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, token_id, token_type, wallet, direction,
	entry_price, current_price, size, remaining_shares, cost_basis,
	unrealized_pnl, realized_pnl, take_profit, stop_loss,
	status, close_reason, strategy_name, spread_id,
	opened_at, closed_at, exit_price`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var tokenType, direction, status, closeReason string

	err := row.Scan(
		&p.ID, &p.MarketID, &p.TokenID, &tokenType, &p.Wallet, &direction,
		&p.EntryPrice, &p.CurrentPrice, &p.Size, &p.RemainingShares, &p.CostBasis,
		&p.UnrealizedPnL, &p.RealizedPnL, &p.TakeProfit, &p.StopLoss,
		&status, &closeReason, &p.Strategy, &p.SpreadID,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.TokenType = domain.TokenType(tokenType)
	p.Direction = domain.OrderSide(direction)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(closeReason)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, market_id, token_id, token_type, wallet, direction,
			entry_price, current_price, size, remaining_shares, cost_basis,
			unrealized_pnl, realized_pnl, take_profit, stop_loss,
			status, close_reason, strategy_name, spread_id,
			opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.TokenID, string(p.TokenType), p.Wallet, string(p.Direction),
		p.EntryPrice, p.CurrentPrice, p.Size, p.RemainingShares, p.CostBasis,
		p.UnrealizedPnL, p.RealizedPnL, p.TakeProfit, p.StopLoss,
		string(p.Status), string(p.CloseReason), p.Strategy, p.SpreadID,
		p.OpenedAt, p.ClosedAt, p.ExitPrice,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			current_price    = $2,
			remaining_shares  = $3,
			cost_basis        = $4,
			unrealized_pnl    = $5,
			realized_pnl      = $6,
			take_profit       = $7,
			stop_loss         = $8,
			status            = $9,
			close_reason      = $10,
			closed_at         = $11,
			exit_price        = $12,
			size              = $13,
			updated_at        = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.CurrentPrice, p.RemainingShares, p.CostBasis,
		p.UnrealizedPnL, p.RealizedPnL, p.TakeProfit, p.StopLoss,
		string(p.Status), string(p.CloseReason),
		p.ClosedAt, p.ExitPrice, p.Size,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close marks a position as closed or resolved, setting the exit price,
// close reason and closed_at timestamp. A market_resolution reason closes
// into the terminal resolved state; any other reason closes into closed.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason) error {
	status := domain.PositionStatusClosed
	if reason == domain.CloseReasonResolution {
		status = domain.PositionStatusResolved
	}

	const query = `
		UPDATE positions SET
			status           = $2,
			close_reason     = $3,
			exit_price       = $4,
			remaining_shares = 0,
			closed_at        = NOW(),
			updated_at       = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, string(status), string(reason), exitPrice)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetOpen returns all open positions for the given wallet.
func (s *PositionStore) GetOpen(ctx context.Context, wallet string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE wallet = $1 AND status = 'open'
		 ORDER BY opened_at DESC`, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// GetOpenByMarket returns the open position for a given market/token pair,
// used to detect an existing position before opening a new one.
func (s *PositionStore) GetOpenByMarket(ctx context.Context, marketID, tokenID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND token_id = $2 AND status = 'open'
		 LIMIT 1`, marketID, tokenID)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position by market %s/%s: %w", marketID, tokenID, err)
	}
	return p, nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListHistory returns positions for the given wallet with pagination and optional time filtering.
func (s *PositionStore) ListHistory(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE wallet = $1`
	args := []any{wallet}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}
