package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// DecisionStore implements domain.DecisionStore using PostgreSQL. It
// persists the two-phase trade decision record: pending before an order is
// placed, finalized once the outcome is known, so a crash between the two
// writes is recoverable on startup.
type DecisionStore struct {
	pool *pgxpool.Pool
}

// NewDecisionStore creates a new DecisionStore backed by the given connection pool.
func NewDecisionStore(pool *pgxpool.Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Create inserts a new pending decision record.
func (s *DecisionStore) Create(ctx context.Context, d domain.TradeDecision) error {
	detailJSON, err := json.Marshal(d.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal decision detail: %w", err)
	}

	const query = `
		INSERT INTO trade_decisions (
			id, action_id, strategy, market_id, token_id,
			status, rejected_gate, reject_reason, order_id, detail, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err = s.pool.Exec(ctx, query,
		d.ID, d.ActionID, d.Strategy, d.MarketID, d.TokenID,
		string(d.Status), d.RejectedGate, d.RejectReason, d.OrderID, detailJSON, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create decision %s: %w", d.ID, err)
	}
	return nil
}

// Finalize records the terminal outcome of a decision: executed with an
// order ID, or rejected with the gate and reason that rejected it.
func (s *DecisionStore) Finalize(ctx context.Context, id string, status domain.DecisionStatus, orderID, rejectGate, rejectReason string, at time.Time) error {
	const query = `
		UPDATE trade_decisions SET
			status        = $2,
			order_id      = $3,
			rejected_gate = $4,
			reject_reason = $5,
			finalized_at  = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), orderID, rejectGate, rejectReason, at)
	if err != nil {
		return fmt.Errorf("postgres: finalize decision %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const decisionSelectCols = `id, action_id, strategy, market_id, token_id,
	status, rejected_gate, reject_reason, order_id, detail, created_at, finalized_at`

func scanDecisionRow(row pgx.Row) (domain.TradeDecision, error) {
	var d domain.TradeDecision
	var status string
	var detailJSON []byte

	err := row.Scan(
		&d.ID, &d.ActionID, &d.Strategy, &d.MarketID, &d.TokenID,
		&status, &d.RejectedGate, &d.RejectReason, &d.OrderID, &detailJSON,
		&d.CreatedAt, &d.FinalizedAt,
	)
	if err != nil {
		return domain.TradeDecision{}, err
	}
	d.Status = domain.DecisionStatus(status)
	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &d.Detail); err != nil {
			return domain.TradeDecision{}, fmt.Errorf("postgres: unmarshal decision detail: %w", err)
		}
	}
	return d, nil
}

func scanDecisionRows(rows pgx.Rows) ([]domain.TradeDecision, error) {
	var decisions []domain.TradeDecision
	for rows.Next() {
		d, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// GetByID retrieves a single decision by its ID.
func (s *DecisionStore) GetByID(ctx context.Context, id string) (domain.TradeDecision, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+decisionSelectCols+` FROM trade_decisions WHERE id = $1`, id)
	d, err := scanDecisionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.TradeDecision{}, domain.ErrNotFound
		}
		return domain.TradeDecision{}, fmt.Errorf("postgres: get decision %s: %w", id, err)
	}
	return d, nil
}

// ListPending returns decisions still awaiting finalization, used to
// reconcile state after a crash between the pending write and finalize.
func (s *DecisionStore) ListPending(ctx context.Context) ([]domain.TradeDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionSelectCols+` FROM trade_decisions WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending decisions: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending decisions: %w", err)
	}
	return decisions, nil
}

// ListBefore returns all finalized decisions created strictly before the
// given cutoff, used by the archiver to find rows eligible for cold storage.
func (s *DecisionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeDecision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+decisionSelectCols+` FROM trade_decisions
		 WHERE created_at < $1 AND status != 'pending'
		 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list decisions before %s: %w", before, err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions before cutoff: %w", err)
	}
	return decisions, nil
}

// List returns decisions with pagination and optional time filtering.
func (s *DecisionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeDecision, error) {
	query := `SELECT ` + decisionSelectCols + ` FROM trade_decisions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list decisions: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan decisions: %w", err)
	}
	return decisions, nil
}
