package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"PolyBot/internal/domain/models"
	drepo "PolyBot/internal/domain/repository"
)

// Client implements a TickStream backed by the Binance spot ticker stream.
type Client struct {
	websocketURL   string
	assets         []models.Asset
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a Binance TickStream.
func New(websocketURL string, assets []models.Asset, reconnectDelay, pingInterval time.Duration) drepo.TickStream {
	return &Client{
		websocketURL:   websocketURL,
		assets:         assets,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

func (c *Client) Source() models.Source { return models.SourceBinance }

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	return nil
}

// Subscribe subscribes to the ticker stream of every configured asset.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("binance not connected")
	}
	params := make([]string, 0, len(c.assets))
	for _, a := range c.assets {
		params = append(params, strings.ToLower(a.TradingPair())+"@ticker")
	}
	msg := map[string]interface{}{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("binance subscribe: %w", err)
	}
	return nil
}

type tickerEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	BestBid   string `json:"b"`
	BestAsk   string `json:"a"`
	LastPrice string `json:"c"`
}

// Read streams ticks and errors until the context ends or the socket drops.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("binance conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("binance read: %w", err)
					return
				}
				var ev tickerEvent
				if err := json.Unmarshal(b, &ev); err != nil || ev.EventType != "24hrTicker" {
					continue
				}
				t := c.toTick(ev)
				if t == nil {
					continue
				}
				select {
				case ticks <- t:
				default:
					// drop on backpressure; the router dedupes anyway
				}
			}
		}
	}()

	return ticks, errs
}

func (c *Client) toTick(ev tickerEvent) *models.Tick {
	asset, ok := assetForPair(ev.Symbol)
	if !ok {
		return nil
	}
	bid, err1 := strconv.ParseFloat(ev.BestBid, 64)
	ask, err2 := strconv.ParseFloat(ev.BestAsk, 64)
	last, err3 := strconv.ParseFloat(ev.LastPrice, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	mid := 0.0
	if bid > 0 && ask > 0 {
		mid = (bid + ask) / 2
	} else if err3 == nil {
		mid = last
	}
	local := time.Now().UnixMilli()
	latency := local - ev.EventTime
	if latency < 0 {
		latency = 0
	}
	return &models.Tick{
		Asset:     asset,
		Source:    models.SourceBinance,
		Bid:       bid,
		Ask:       ask,
		Mid:       mid,
		TS:        ev.EventTime,
		LocalTS:   local,
		LatencyMs: latency,
	}
}

func assetForPair(symbol string) (models.Asset, bool) {
	for _, a := range models.AllAssets() {
		if a.TradingPair() == symbol {
			return a, true
		}
	}
	return "", false
}

// Reconnect closes and re-establishes the stream.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
