package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/stellara-labs/stellara/internal/marketdata"
	"github.com/stellara-labs/stellara/internal/util"
)

type MarketService interface {
	Assets() []string
	Prices(ctx context.Context, assets []string) ([]marketdata.Quote, error)
	Price(ctx context.Context, asset string) (*marketdata.Quote, error)
}

type MarketController struct {
	Market MarketService
}

func NewMarketController(service MarketService) *MarketController {
	return &MarketController{Market: service}
}

func (c *MarketController) handleAssets(w http.ResponseWriter, r *http.Request) {
	util.WriteJSONResponse(w, http.StatusOK, c.Market.Assets())
}

// handlePrices answers ?assets=stellar,usd-coin; without the parameter the configured assets are used.
func (c *MarketController) handlePrices(w http.ResponseWriter, r *http.Request) {
	var assets []string
	for _, a := range strings.Split(r.URL.Query().Get("assets"), ",") {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			assets = append(assets, a)
		}
	}
	quotes, err := c.Market.Prices(r.Context(), assets)
	if err != nil {
		writeServiceError(w, r, err, "load prices")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, quotes)
}

func (c *MarketController) handlePrice(w http.ResponseWriter, r *http.Request) {
	quote, err := c.Market.Price(r.Context(), strings.ToLower(r.PathValue("asset")))
	if err != nil {
		writeServiceError(w, r, err, "load price")
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, quote)
}
