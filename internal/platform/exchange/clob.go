package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyengine/internal/crypto"
	"github.com/alanyoungcy/polyengine/internal/domain"
)

// Client is the REST client for the exchange's central limit order book
// API. It handles order book reads, order placement, cancellation, and
// fill polling.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClient creates a new exchange REST client.
//
// baseURL is the CLOB API root. signer is the EIP-712 signer used for
// order signatures and the auth handshake in live mode; it may be nil in
// paper mode, where orders are never signed or sent.
func NewClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		hmacAuth:   hmac,
	}
}

// GetOrderBook fetches the current order book for a token.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error) {
	path := fmt.Sprintf("/book?token_id=%s", tokenID)
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("exchange: get book %s: %w", tokenID, err)
	}

	var resp APIBookResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("exchange: decode book: %w", err)
	}
	return BookResponseToDomainSnapshot(&resp), nil
}

// GetFeeRate returns the current taker fee rate in basis points for a
// token, consulted by the Execution & Safety Pipeline's fee gate.
func (c *Client) GetFeeRate(ctx context.Context, tokenID string) (int64, error) {
	path := fmt.Sprintf("/fee-rate?token_id=%s", tokenID)
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("exchange: get fee rate %s: %w", tokenID, err)
	}
	var resp APIFeeRate
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("exchange: decode fee rate: %w", err)
	}
	return resp.FeeRateBps, nil
}

// PostOrder submits an order to the exchange and returns the result.
// In live mode, order.Signature/MakerAmount/TakerAmount must already be
// populated by the caller (see crypto.Signer).
func (c *Client) PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	body := map[string]any{
		"token_id": order.TokenID,
		"side":     string(order.Side),
		"type":     string(order.Kind),
		"size_usd": order.Size(),
	}
	if order.Kind == domain.OrderKindLimit {
		body["limit_price"] = order.Price()
	}
	if order.Signature != "" {
		body["maker"] = order.Wallet
		body["signer"] = order.Wallet
		body["signature"] = order.Signature
		body["makerAmount"] = order.MakerAmount.String()
		body["takerAmount"] = order.TakerAmount.String()
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: post order: %w", err)
	}

	var apiResult APIOrderResult
	if err := json.Unmarshal(respBody, &apiResult); err != nil {
		return domain.OrderResult{}, fmt.Errorf("exchange: decode order result: %w", err)
	}

	result := apiResult.ToDomainOrderResult()
	if !result.Success {
		return result, fmt.Errorf("exchange: order rejected: %s", result.Message)
	}
	return result, nil
}

// CancelOrder cancels a single order by its ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	body := map[string]any{"orderID": orderID}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/order", body)
	if err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", orderID, err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("exchange: decode cancel response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("exchange: cancel failed: %s", result.ErrorMsg)
	}
	return nil
}

// CancelAll cancels all open orders for the authenticated wallet, used
// when the engine shuts down in live mode.
func (c *Client) CancelAll(ctx context.Context) error {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodDelete, "/cancel-all", nil)
	if err != nil {
		return fmt.Errorf("exchange: cancel all: %w", err)
	}

	var result struct {
		Success  bool   `json:"success"`
		ErrorMsg string `json:"errorMsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("exchange: decode cancel-all response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("exchange: cancel-all failed: %s", result.ErrorMsg)
	}
	return nil
}

// GetOrder retrieves a single order by ID, used to poll for fills.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	path := fmt.Sprintf("/order/%s", orderID)

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("exchange: get order %s: %w", orderID, err)
	}

	var apiOrder APIOrder
	if err := json.Unmarshal(respBody, &apiOrder); err != nil {
		return domain.Order{}, fmt.Errorf("exchange: decode order: %w", err)
	}
	return apiOrder.ToDomainOrder(), nil
}

// GetOpenOrders returns all open orders for the authenticated wallet.
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: get open orders: %w", err)
	}

	var apiOrders []APIOrder
	if err := json.Unmarshal(respBody, &apiOrders); err != nil {
		return nil, fmt.Errorf("exchange: decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(apiOrders))
	for i := range apiOrders {
		orders = append(orders, apiOrders[i].ToDomainOrder())
	}
	return orders, nil
}

// DeriveAPIKey performs the exchange auth flow to obtain an HMAC API key.
// It signs an EIP-712 auth message and sends it with L1 headers to the
// derive-api-key endpoint: POLY_ADDRESS, POLY_SIGNATURE, POLY_TIMESTAMP,
// POLY_NONCE. On success it populates the client's hmacAuth field.
func (c *Client) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("exchange: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("exchange: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("exchange: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("exchange: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil && c.signer != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
