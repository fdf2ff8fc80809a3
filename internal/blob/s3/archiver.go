package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// These follow the Interface Segregation Principle: the archiver only
// requires the query methods it actually calls, not the full domain store
// interfaces. The Postgres stores satisfy these implicitly through their
// ListBefore methods.
// ---------------------------------------------------------------------------

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListBefore returns all trades with a timestamp strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// OrderArchiveStore provides read access to orders for archival purposes.
type OrderArchiveStore interface {
	// ListBefore returns all orders created strictly before the given cutoff
	// time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// DecisionArchiveStore provides read access to finalized trade decisions for
// archival purposes.
type DecisionArchiveStore interface {
	// ListBefore returns all finalized decisions created strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeDecision, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	trades    TradeArchiveStore
	orders    OrderArchiveStore
	decisions DecisionArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	orders OrderArchiveStore,
	decisions DecisionArchiveStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		trades:    trades,
		orders:    orders,
		decisions: decisions,
	}
}

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/trades/YYYY-MM.jsonl. The
// count of archived records is returned.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// ArchiveOrders queries all orders before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/orders/YYYY-MM.jsonl. The
// count of archived records is returned.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	return int64(len(orders)), nil
}

// ArchiveDecisions queries all finalized trade decisions before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/decisions/YYYY-MM.jsonl. The count of archived records is
// returned.
func (a *ArchiveImpl) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	decisions, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	if len(decisions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(decisions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions marshal: %w", err)
	}

	path := archivePath("decisions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions upload: %w", err)
	}

	return int64(len(decisions)), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/orders/2025-01.jsonl
//	archive/decisions/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
