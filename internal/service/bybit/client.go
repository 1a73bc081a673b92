package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"PolyBot/internal/domain/models"
	drepo "PolyBot/internal/domain/repository"
)

// Client implements a TickStream backed by the Bybit v5 public spot ticker
// topic.
type Client struct {
	websocketURL   string
	assets         []models.Asset
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
	// lastBid/lastAsk patch Bybit's delta frames, which omit unchanged
	// fields.
	lastBid map[string]float64
	lastAsk map[string]float64
}

// New creates a Bybit TickStream.
func New(websocketURL string, assets []models.Asset, reconnectDelay, pingInterval time.Duration) drepo.TickStream {
	return &Client{
		websocketURL:   websocketURL,
		assets:         assets,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		lastBid:        make(map[string]float64),
		lastAsk:        make(map[string]float64),
	}
}

func (c *Client) Source() models.Source { return models.SourceBybit }

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("bybit connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	return nil
}

// Subscribe subscribes to the tickers topic per asset.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("bybit not connected")
	}
	args := make([]string, 0, len(c.assets))
	for _, a := range c.assets {
		args = append(args, "tickers."+a.TradingPair())
	}
	msg := map[string]interface{}{"op": "subscribe", "args": args}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("bybit subscribe: %w", err)
	}
	return nil
}

type tickerFrame struct {
	Topic string `json:"topic"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
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
					_ = c.conn.WriteJSON(map[string]string{"op": "ping"})
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
					errs <- fmt.Errorf("bybit conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("bybit read: %w", err)
					return
				}
				var frame tickerFrame
				if err := json.Unmarshal(b, &frame); err != nil || frame.Data.Symbol == "" {
					continue
				}
				t := c.toTick(frame)
				if t == nil {
					continue
				}
				select {
				case ticks <- t:
				default:
				}
			}
		}
	}()

	return ticks, errs
}

func (c *Client) toTick(frame tickerFrame) *models.Tick {
	asset, ok := assetForPair(frame.Data.Symbol)
	if !ok {
		return nil
	}
	bid := c.lastBid[frame.Data.Symbol]
	ask := c.lastAsk[frame.Data.Symbol]
	if v, err := strconv.ParseFloat(frame.Data.Bid1Price, 64); err == nil {
		bid = v
		c.lastBid[frame.Data.Symbol] = v
	}
	if v, err := strconv.ParseFloat(frame.Data.Ask1Price, 64); err == nil {
		ask = v
		c.lastAsk[frame.Data.Symbol] = v
	}
	mid := 0.0
	if bid > 0 && ask > 0 {
		mid = (bid + ask) / 2
	} else if v, err := strconv.ParseFloat(frame.Data.LastPrice, 64); err == nil {
		mid = v
	}
	if mid <= 0 {
		return nil
	}
	local := time.Now().UnixMilli()
	latency := local - frame.TS
	if latency < 0 {
		latency = 0
	}
	return &models.Tick{
		Asset:     asset,
		Source:    models.SourceBybit,
		Bid:       bid,
		Ask:       ask,
		Mid:       mid,
		TS:        frame.TS,
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
