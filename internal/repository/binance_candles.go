package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"PolyBot/internal/domain/models"
	xhttp "PolyBot/pkg/http"
)

// BinanceCandleHistory fetches closed klines over REST for warm-up seeding.
type BinanceCandleHistory struct {
	client  *xhttp.Client
	baseURL string
}

// NewBinanceCandleHistory creates the fetcher.
func NewBinanceCandleHistory(client *xhttp.Client, baseURL string) *BinanceCandleHistory {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &BinanceCandleHistory{client: client, baseURL: baseURL}
}

func binanceInterval(tf models.Timeframe) string {
	if tf == models.TimeframeHour1 {
		return "1h"
	}
	return "15m"
}

// Fetch returns up to count closed candles ending now, oldest first.
func (h *BinanceCandleHistory) Fetch(ctx context.Context, asset models.Asset, tf models.Timeframe, count int) ([]models.Candle, error) {
	if count <= 0 {
		count = 200
	}
	if count > 1000 {
		count = 1000
	}

	var raw json.RawMessage
	err := h.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    h.baseURL + "/api/v3/klines",
		QueryParams: map[string][]string{
			"symbol":   {asset.TradingPair()},
			"interval": {binanceInterval(tf)},
			"limit":    {strconv.Itoa(count)},
		},
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", asset, tf, err)
	}

	// Klines arrive as arrays of mixed types:
	// [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("binance klines decode: %w", err)
	}

	out := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		o, err1 := quotedFloat(row[1])
		hi, err2 := quotedFloat(row[2])
		lo, err3 := quotedFloat(row[3])
		cl, err4 := quotedFloat(row[4])
		vol, err5 := quotedFloat(row[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		c := models.Candle{
			Asset:     asset,
			Timeframe: tf,
			OpenTS:    tf.BucketStart(openTime),
			Open:      o,
			High:      hi,
			Low:       lo,
			Close:     cl,
			Volume:    vol,
		}
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out, nil
}

func quotedFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var f float64
		if err2 := json.Unmarshal(raw, &f); err2 == nil {
			return f, nil
		}
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
