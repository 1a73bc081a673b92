package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"PolyBot/internal/domain/models"
	"PolyBot/internal/service/ratelimit"
	xhttp "PolyBot/pkg/http"
)

// SimulatedOrderGateway fills instantly at the requested limit price. Used
// in dry-run mode and as the demotion target for failed live operations.
type SimulatedOrderGateway struct{}

// NewSimulatedOrderGateway creates the simulator.
func NewSimulatedOrderGateway() *SimulatedOrderGateway { return &SimulatedOrderGateway{} }

func (g *SimulatedOrderGateway) Submit(_ context.Context, req models.OrderRequest) (string, error) {
	if req.SizeUSDC <= 0 {
		return "", fmt.Errorf("size must be positive, got %v", req.SizeUSDC)
	}
	if req.TokenID == "" {
		return "", fmt.Errorf("token id required")
	}
	return "sim-" + uuid.NewString(), nil
}

func (g *SimulatedOrderGateway) Cancel(_ context.Context, _ string) error { return nil }

// HTTPOrderGateway posts orders to a CLOB relay that owns signing and
// authentication. The core never sees keys; the relay is the trust
// boundary. Submissions are token-bucket limited per market so a runaway
// signal loop cannot hammer the venue.
type HTTPOrderGateway struct {
	client  *xhttp.Client
	baseURL string
	limiter *ratelimit.Limiter
}

// NewHTTPOrderGateway creates the live gateway.
func NewHTTPOrderGateway(client *xhttp.Client, baseURL string) *HTTPOrderGateway {
	return &HTTPOrderGateway{client: client, baseURL: baseURL, limiter: ratelimit.New()}
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

func (g *HTTPOrderGateway) Submit(ctx context.Context, req models.OrderRequest) (string, error) {
	if !g.limiter.Allow(req.MarketSlug, 5, 0.5) {
		return "", fmt.Errorf("submit rate limited for %s", req.MarketSlug)
	}
	var resp orderResponse
	err := g.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    g.baseURL + "/orders",
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: req,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("submit order: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("submit order rejected: %s", resp.Error)
	}
	return resp.OrderID, nil
}

func (g *HTTPOrderGateway) Cancel(ctx context.Context, orderID string) error {
	err := g.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodDelete,
		URL:    g.baseURL + "/orders/" + orderID,
	}, nil)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}
