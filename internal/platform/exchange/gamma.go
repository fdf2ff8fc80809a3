package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/polyengine/internal/domain"
)

// GammaClient is the read-only REST client for the exchange's market
// metadata and resolution API. It is unauthenticated: market discovery
// and resolution status are public.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client. baseURL is the Gamma
// API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiGammaMarket is the subset of the Gamma market payload needed to
// determine resolution state.
type apiGammaMarket struct {
	ConditionID string `json:"conditionId"`
	Closed      bool   `json:"closed"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
		Winner  bool   `json:"winner"`
	} `json:"tokens"`
}

// GetMarketResolution reports whether a market has closed and, if so,
// which side won. It is polled by the settlement cron for every market
// with an open position. closed is false until the market closes; callers
// must not settle on it.
func (g *GammaClient) GetMarketResolution(ctx context.Context, conditionID string) (closed bool, winner domain.TokenType, err error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(conditionID))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return false, "", fmt.Errorf("exchange/gamma: get market %s: %w", conditionID, err)
	}

	var m apiGammaMarket
	if err := json.Unmarshal(body, &m); err != nil {
		return false, "", fmt.Errorf("exchange/gamma: decode market %s: %w", conditionID, err)
	}
	if !m.Closed {
		return false, "", nil
	}

	for _, t := range m.Tokens {
		if !t.Winner {
			continue
		}
		switch t.Outcome {
		case "Yes":
			return true, domain.TokenYes, nil
		case "No":
			return true, domain.TokenNo, nil
		}
	}
	return true, "", fmt.Errorf("exchange/gamma: market %s closed with no declared winner", conditionID)
}

func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gamma api error (HTTP %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
