package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// SimulatedGateway is an in-process payment rail. Shoppers "pay" with
// MarkPaid; a share of status checks fail with ErrTransport to mimic a
// flaky network.
type SimulatedGateway struct {
	mu       sync.RWMutex
	paid     map[string]time.Time
	failRate int
	latency  time.Duration
}

// NewSimulatedGateway fails failRate percent of checks (0-100) and sleeps
// latency before answering.
func NewSimulatedGateway(failRate int, latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		paid:     make(map[string]time.Time),
		failRate: failRate,
		latency:  latency,
	}
}

// MarkPaid settles the transaction behind fingerprint.
func (g *SimulatedGateway) MarkPaid(fingerprint string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.paid[fingerprint]; !ok {
		g.paid[fingerprint] = time.Now()
	}
}

func (g *SimulatedGateway) CheckStatus(ctx context.Context, fingerprint string) (*StatusResponse, error) {
	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTransport, ctx.Err())
		case <-time.After(g.latency):
		}
	}

	if g.failRate > 0 && rand.IntN(100) < g.failRate {
		return nil, fmt.Errorf("%w: connection timeout", ErrTransport)
	}

	g.mu.RLock()
	paidAt, ok := g.paid[fingerprint]
	g.mu.RUnlock()

	var body map[string]any
	if ok {
		body = map[string]any{
			"success": true,
			"status":  StatusPaid,
			"md5":     fingerprint,
			"paid_at": paidAt.UnixMilli(),
		}
	} else {
		body = map[string]any{
			"success": false,
			"status":  "NOT_FOUND",
			"md5":     fingerprint,
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{
		Success: ok,
		Status:  body["status"].(string),
		Raw:     raw,
	}, nil
}
