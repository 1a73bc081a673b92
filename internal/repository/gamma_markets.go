package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PolyBot/internal/domain/models"
	svccache "PolyBot/internal/service/cache"
	xhttp "PolyBot/pkg/http"
)

// GammaMarketFetcher resolves the live hourly/15-minute crypto markets from
// the Polymarket Gamma API. Responses are cached briefly per family so a
// tight refresh loop does not refetch unchanged listings.
type GammaMarketFetcher struct {
	client  *xhttp.Client
	baseURL string
	assets  []models.Asset
	cache   *svccache.TTLCache
	cacheTTL time.Duration
}

// NewGammaMarketFetcher creates the fetcher for the given assets.
func NewGammaMarketFetcher(client *xhttp.Client, baseURL string, assets []models.Asset) *GammaMarketFetcher {
	if baseURL == "" {
		baseURL = "https://gamma-api.polymarket.com"
	}
	return &GammaMarketFetcher{
		client:   client,
		baseURL:  baseURL,
		assets:   assets,
		cache:    svccache.NewTTLCache(),
		cacheTTL: 30 * time.Second,
	}
}

type gammaMarket struct {
	Slug        string   `json:"slug"`
	EndDateISO  string   `json:"endDateIso"`
	Active      bool     `json:"active"`
	Closed      bool     `json:"closed"`
	ClobTokenID []string `json:"clobTokenIds"`
	TickSize    float64  `json:"orderPriceMinTickSize"`
	MinSize     float64  `json:"orderMinSize"`
}

// FetchMarkets queries the up/down market families per asset and timeframe.
func (g *GammaMarketFetcher) FetchMarkets(ctx context.Context) ([]models.Market, error) {
	var out []models.Market
	for _, asset := range g.assets {
		for _, tf := range models.AllTimeframes() {
			ms, err := g.fetchFamily(ctx, asset, tf)
			if err != nil {
				return nil, err
			}
			out = append(out, ms...)
		}
	}
	return out, nil
}

func familySlug(asset models.Asset, tf models.Timeframe) string {
	name := strings.ToLower(string(asset))
	switch asset {
	case models.AssetBTC:
		name = "bitcoin"
	case models.AssetETH:
		name = "ethereum"
	case models.AssetSOL:
		name = "solana"
	case models.AssetXRP:
		name = "xrp"
	}
	if tf == models.TimeframeHour1 {
		return name + "-up-or-down-1h"
	}
	return name + "-up-or-down-15m"
}

func (g *GammaMarketFetcher) fetchFamily(ctx context.Context, asset models.Asset, tf models.Timeframe) ([]models.Market, error) {
	cacheKey := familySlug(asset, tf)
	if v, ok := g.cache.Get(cacheKey); ok {
		if ms, ok := v.([]models.Market); ok {
			return ms, nil
		}
	}

	var raw []gammaMarket
	err := g.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    g.baseURL + "/markets",
		QueryParams: map[string][]string{
			"slug_contains": {familySlug(asset, tf)},
			"active":        {"true"},
			"closed":        {"false"},
			"limit":         {"5"},
		},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("gamma markets %s %s: %w", asset, tf, err)
	}

	out := make([]models.Market, 0, len(raw))
	for _, gm := range raw {
		if gm.Closed || !gm.Active || len(gm.ClobTokenID) < 2 {
			continue
		}
		end, err := time.Parse(time.RFC3339, gm.EndDateISO)
		if err != nil {
			continue
		}
		out = append(out, models.Market{
			Slug:      gm.Slug,
			Asset:     asset,
			Timeframe: tf,
			CloseTS:   end.UnixMilli(),
			TokenUp:   gm.ClobTokenID[0],
			TokenDown: gm.ClobTokenID[1],
			TickSize:  gm.TickSize,
			MinSize:   gm.MinSize,
			Active:    true,
		})
	}
	g.cache.Set(cacheKey, out, g.cacheTTL)
	return out, nil
}
