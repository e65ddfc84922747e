// Package marketdata serves cached price quotes for crypto assets.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrProvider = errors.New("price provider request failed")

type Quote struct {
	Asset     string    `json:"asset"`
	Currency  string    `json:"currency"`
	Price     float64   `json:"price"`
	Change24h float64   `json:"change24h"`
	MarketCap float64   `json:"marketCap"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Provider interface {
	Prices(ctx context.Context, assets []string, currency string) ([]Quote, error)
}

// CoinGecko reads the simple/price endpoint of a CoinGecko compatible API.
type CoinGecko struct {
	baseURL string
	client  *http.Client
}

func NewCoinGecko(baseURL string, timeout time.Duration) *CoinGecko {
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Prices returns quotes for the assets the provider knows; unknown ids are left out.
func (c *CoinGecko) Prices(ctx context.Context, assets []string, currency string) ([]Quote, error) {
	q := url.Values{
		"ids":                     {strings.Join(assets, ",")},
		"vs_currencies":           {currency},
		"include_24hr_change":     {"true"},
		"include_market_cap":      {"true"},
		"include_last_updated_at": {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrProvider, resp.Status)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrProvider)
	}

	quotes := make([]Quote, 0, len(assets))
	for _, asset := range assets {
		entry := gjson.GetBytes(body, asset)
		price := entry.Get(currency)
		if !price.Exists() {
			continue
		}
		quote := Quote{
			Asset:     asset,
			Currency:  currency,
			Price:     price.Float(),
			Change24h: entry.Get(currency + "_24h_change").Float(),
			MarketCap: entry.Get(currency + "_market_cap").Float(),
		}
		if ts := entry.Get("last_updated_at").Int(); ts > 0 {
			quote.UpdatedAt = time.Unix(ts, 0).UTC()
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}
