package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// heartbeatPeriod sends a ping at this interval.
	heartbeatPeriod = 30 * time.Second

	// heartbeatTimeout is the read deadline; a missed heartbeat for 2x
	// heartbeatPeriod without a pong is treated as a dead connection.
	heartbeatTimeout = 2 * heartbeatPeriod

	// reconnectBaseDelay is the starting backoff before reconnecting.
	reconnectBaseDelay = 5 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// subscribeBatchSize bounds how many token IDs go in a single
	// subscribe command; the exchange rejects oversized batches.
	subscribeBatchSize = 500
)

// BookUpdateHandler is called when a full orderbook snapshot is received.
type BookUpdateHandler func(domain.OrderbookSnapshot)

// PriceChangeHandler is called when an incremental price level update is received.
type PriceChangeHandler func(domain.PriceChange)

// LastTradePriceHandler is called when a last trade price message is received.
type LastTradePriceHandler func(domain.LastTradePrice)

// WSClient is a WebSocket client for the exchange's real-time market data
// feed. It manages the connection lifecycle, subscriptions, and dispatches
// messages to registered handlers. Frames may arrive as JSON text or
// MsgPack binary; handleMessage dispatches on the frame's wire type.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	subscriptions []WSCommand

	bookHandlers      []BookUpdateHandler
	priceHandlers     []PriceChangeHandler
	lastTradeHandlers []LastTradePriceHandler
	handlerMu         sync.RWMutex

	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes a WebSocket connection to the exchange's market
// data feed.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("exchange/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("exchange/ws: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	for _, batch := range batchSubscriptions(w.subscriptions) {
		if err := w.sendCommand(batch); err != nil {
			return fmt.Errorf("exchange/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// batchSubscriptions splits subscriptions so each command carries at
// most subscribeBatchSize asset IDs.
func batchSubscriptions(cmds []WSCommand) []WSCommand {
	var out []WSCommand
	for _, cmd := range cmds {
		if len(cmd.Assets) <= subscribeBatchSize {
			out = append(out, cmd)
			continue
		}
		for i := 0; i < len(cmd.Assets); i += subscribeBatchSize {
			end := i + subscribeBatchSize
			if end > len(cmd.Assets) {
				end = len(cmd.Assets)
			}
			part := cmd
			part.Assets = cmd.Assets[i:end]
			out = append(out, part)
		}
	}
	return out
}

// Subscribe subscribes to the given channels for the specified asset IDs.
// Valid channels include "book", "price_change", "last_trade_price".
func (w *WSClient) Subscribe(ctx context.Context, channels []string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("exchange/ws: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{Type: "subscribe", Channel: ch, Assets: assetIDs}

		for _, batch := range batchSubscriptions([]WSCommand{cmd}) {
			if err := w.sendCommand(batch); err != nil {
				return fmt.Errorf("exchange/ws: subscribe to %s: %w", ch, err)
			}
		}
		w.subscriptions = append(w.subscriptions, cmd)
	}

	return nil
}

// Unsubscribe unsubscribes from the given channels for the specified asset IDs.
func (w *WSClient) Unsubscribe(ctx context.Context, channels []string, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("exchange/ws: not connected")
	}

	for _, ch := range channels {
		cmd := WSCommand{Type: "unsubscribe", Channel: ch, Assets: assetIDs}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("exchange/ws: unsubscribe from %s: %w", ch, err)
		}
	}

	assetSet := make(map[string]struct{}, len(assetIDs))
	for _, a := range assetIDs {
		assetSet[a] = struct{}{}
	}
	channelSet := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		channelSet[c] = struct{}{}
	}

	filtered := w.subscriptions[:0]
	for _, sub := range w.subscriptions {
		if _, chMatch := channelSet[sub.Channel]; chMatch {
			remaining := make([]string, 0, len(sub.Assets))
			for _, a := range sub.Assets {
				if _, found := assetSet[a]; !found {
					remaining = append(remaining, a)
				}
			}
			if len(remaining) > 0 {
				sub.Assets = remaining
				filtered = append(filtered, sub)
			}
		} else {
			filtered = append(filtered, sub)
		}
	}
	w.subscriptions = filtered

	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnBookUpdate registers a handler called for every full orderbook snapshot.
func (w *WSClient) OnBookUpdate(handler BookUpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.bookHandlers = append(w.bookHandlers, handler)
}

// OnPriceChange registers a handler called for every incremental price
// level update.
func (w *WSClient) OnPriceChange(handler PriceChangeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, handler)
}

// OnLastTradePrice registers a handler called for every last trade price message.
func (w *WSClient) OnLastTradePrice(handler LastTradePriceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.lastTradeHandlers = append(w.lastTradeHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the appropriate handlers. On disconnect, it triggers a
// reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		frameType, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.handleMessage(frameType, message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive and
// detect a stalled peer within heartbeatTimeout.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket message and routes it to the
// appropriate handler. Binary frames are decoded as MsgPack; text frames
// as JSON.
func (w *WSClient) handleMessage(frameType int, raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type" msgpack:"msg_type"`
		Event   string `json:"event_type" msgpack:"event_type"`
	}

	decode := json.Unmarshal
	if frameType == websocket.BinaryMessage {
		decode = msgpack.Unmarshal
	}

	if err := decode(raw, &envelope); err != nil {
		return // drop unparseable frames
	}

	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "book":
		var book BookMessage
		if err := decode(raw, &book); err != nil {
			return
		}
		snap := BookToDomainSnapshot(&book)

		w.handlerMu.RLock()
		handlers := w.bookHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}

	case "price_change":
		var pc PriceChangeMessage
		if err := decode(raw, &pc); err != nil {
			return
		}
		change := PriceChangeToDomain(&pc)

		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(change)
		}

	case "last_trade_price":
		var ltp PriceMessage
		if err := decode(raw, &ltp); err != nil {
			return
		}
		trade := PriceToDomainLastTrade(&ltp)

		w.handlerMu.RLock()
		handlers := w.lastTradeHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(trade)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff plus jitter. It blocks until successful or the
// client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectBaseDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		time.Sleep(delay + jitter)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
