package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/polyengine/internal/crypto"
	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Signer abstracts EIP-712 order signing so the service layer never depends
// on concrete key-management implementations.
type Signer interface {
	SignOrder(payload crypto.OrderPayload) (string, error)
	Address() common.Address
}

// ClobPoster submits signed orders to the Polymarket CLOB API.
type ClobPoster interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// OrderService signs and submits already-priced orders, satisfying the
// executor's OrderPlacer and OrderCanceller interfaces in live mode. Price
// and size are decided upstream by the Execution & Safety Pipeline; this
// service only turns a fully formed domain.Order into a signed, persisted,
// and (optionally) exchange-submitted one.
type OrderService struct {
	orders     domain.OrderStore
	limiter    domain.RateLimiter
	bus        domain.SignalBus
	signer     Signer
	clobClient ClobPoster
	logger     *slog.Logger
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	orders domain.OrderStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	signer Signer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:  orders,
		limiter: limiter,
		bus:     bus,
		signer:  signer,
		logger:  logger,
	}
}

// WithClobClient attaches a CLOB poster so PlaceOrder submits orders to the
// exchange after persisting locally. Without a CLOB client, PlaceOrder works
// in local-only mode (useful for testing).
func (s *OrderService) WithClobClient(poster ClobPoster) *OrderService {
	s.clobClient = poster
	return s
}

// PlaceOrder signs and submits a priced order. The caller (the executor) is
// responsible for setting MarketID, TokenID, Side, Kind, PriceTicks,
// SizeUnits and Strategy; PlaceOrder fills in Wallet, CreatedAt, Status,
// the EIP-712 signature, and MakerAmount/TakerAmount.
func (s *OrderService) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	wallet := s.signer.Address().Hex()

	allowed, err := s.limiter.Allow(ctx, "orders:"+wallet, 10, time.Second)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("order_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.OrderResult{
			Success:     false,
			Message:     "rate limited",
			ShouldRetry: true,
		}, domain.ErrRateLimited
	}

	order.Wallet = wallet
	order.Status = domain.OrderStatusPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	sideInt := 0
	if order.Side == domain.OrderSideSell {
		sideInt = 1
	}
	makerAmount := big.NewInt(order.PriceTicks)
	takerAmount := big.NewInt(order.SizeUnits)
	order.MakerAmount = makerAmount
	order.TakerAmount = takerAmount

	payload := crypto.OrderPayload{
		Salt:          fmt.Sprintf("%d", time.Now().UnixNano()),
		Maker:         wallet,
		Signer:        wallet,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: 0,
	}

	signature, err := s.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResult{Success: false, Message: "signing failed"}, fmt.Errorf("order_service: sign order: %w", err)
	}
	order.Signature = signature

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.OrderResult{Success: false, Message: "persist failed"}, fmt.Errorf("order_service: create order: %w", err)
	}

	if s.clobClient == nil {
		s.logger.InfoContext(ctx, "order_service: order placed (local only)",
			slog.String("order_id", order.ID),
			slog.String("market", order.MarketID),
			slog.String("side", string(order.Side)),
		)
		return domain.OrderResult{Success: true, OrderID: order.ID, Status: domain.OrderStatusPending, Message: "order placed"}, nil
	}

	clobResult, clobErr := s.clobClient.PostOrder(ctx, order)
	if clobErr != nil {
		_ = s.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusFailed)
		return domain.OrderResult{Success: false, OrderID: order.ID, Message: clobErr.Error()}, fmt.Errorf("order_service: clob post order: %w", clobErr)
	}
	if clobResult.Status != "" {
		_ = s.orders.UpdateStatus(ctx, order.ID, clobResult.Status)
	}
	if clobResult.OrderID == "" {
		clobResult.OrderID = order.ID
	}

	s.publish(ctx, "order_placed", map[string]any{
		"order_id": clobResult.OrderID,
		"market":   order.MarketID,
		"side":     string(order.Side),
		"status":   string(clobResult.Status),
	})

	s.logger.InfoContext(ctx, "order_service: order placed via CLOB",
		slog.String("order_id", clobResult.OrderID),
		slog.String("market", order.MarketID),
		slog.String("side", string(order.Side)),
		slog.String("status", string(clobResult.Status)),
	)

	return clobResult, nil
}

// CancelOrder cancels a single order by updating its status and publishing
// a cancellation event.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) error {
	if err := s.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled); err != nil {
		return fmt.Errorf("order_service: cancel order %q: %w", orderID, err)
	}

	s.publish(ctx, "order_cancelled", map[string]any{"order_id": orderID})

	s.logger.InfoContext(ctx, "order_service: order cancelled",
		slog.String("order_id", orderID),
	)

	return nil
}

func (s *OrderService) publish(ctx context.Context, event string, fields map[string]any) {
	fields["event"] = event
	evt, _ := json.Marshal(fields)
	if err := s.bus.Publish(ctx, "orders", evt); err != nil {
		s.logger.WarnContext(ctx, "order_service: publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// CancelAll cancels all open orders for the given wallet address.
func (s *OrderService) CancelAll(ctx context.Context, wallet string) error {
	openOrders, err := s.orders.ListOpen(ctx, wallet)
	if err != nil {
		return fmt.Errorf("order_service: list open orders for %q: %w", wallet, err)
	}

	var firstErr error
	for _, o := range openOrders {
		if cancelErr := s.CancelOrder(ctx, o.ID); cancelErr != nil {
			s.logger.ErrorContext(ctx, "order_service: cancel failed during cancel-all",
				slog.String("order_id", o.ID),
				slog.String("error", cancelErr.Error()),
			)
			if firstErr == nil {
				firstErr = cancelErr
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("order_service: cancel all for %q: %w", wallet, firstErr)
	}

	s.logger.InfoContext(ctx, "order_service: cancelled all open orders",
		slog.String("wallet", wallet),
		slog.Int("count", len(openOrders)),
	)

	return nil
}

// GetOrder retrieves a single order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get order %q: %w", id, err)
	}
	return order, nil
}

// ListOpen returns all open orders for the given wallet address.
func (s *OrderService) ListOpen(ctx context.Context, wallet string) ([]domain.Order, error) {
	orders, err := s.orders.ListOpen(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("order_service: list open for %q: %w", wallet, err)
	}
	return orders, nil
}

// ListByMarket returns orders for a specific market with pagination.
func (s *OrderService) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.orders.ListByMarket(ctx, marketID, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list by market %q: %w", marketID, err)
	}
	return orders, nil
}
