package worker_test

import (
	"context"
	"encoding/json"
	"sync"

	"topup-checkout/internal/domain"
	"topup-checkout/internal/guard"
	"topup-checkout/internal/infrastructure/payment"
)

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
	saves  int
}

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	r := &memOrderRepo{orders: make(map[string]*domain.Order)}
	for i := range orders {
		o := orders[i]
		r.orders[o.OrderID] = &o
	}
	return r
}

func (r *memOrderRepo) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.OrderID]; ok {
		return domain.ErrDuplicateKey
	}
	o := *order
	r.orders[o.OrderID] = &o
	return nil
}

func (r *memOrderRepo) FindById(_ context.Context, orderID string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, orderID string, u domain.StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.Status != domain.OrderUnpaid {
		return false, nil
	}
	o.Status = u.Status
	if u.PaidAt != nil {
		o.PaidAt = u.PaidAt
	}
	if u.PaymentResponse != nil {
		o.PaymentResponse = u.PaymentResponse
	}
	return true, nil
}

func (r *memOrderRepo) SavePaymentResponse(_ context.Context, orderID string, raw json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.PaymentResponse = raw
		r.saves++
	}
	return nil
}

func (r *memOrderRepo) ListByUser(_ context.Context, userID int64) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memOrderRepo) FindUnpaid(_ context.Context) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderUnpaid {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memOrderRepo) get(orderID string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.orders[orderID]
}

func (r *memOrderRepo) set(orderID string, status domain.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[orderID].Status = status
}

// snapshotRepo serves a fixed FindUnpaid result regardless of what the
// underlying store holds.
type snapshotRepo struct {
	*memOrderRepo
	unpaid []domain.Order
}

func (r *snapshotRepo) FindUnpaid(_ context.Context) ([]domain.Order, error) {
	return r.unpaid, nil
}

// ctxGuard fails writes on a done context, like a network-backed guard.
type ctxGuard struct {
	guard.ActiveOrderGuard
}

func (g ctxGuard) Set(ctx context.Context, userID int64, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.ActiveOrderGuard.Set(ctx, userID, orderID)
}

func (g ctxGuard) Clear(ctx context.Context, userID int64, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.ActiveOrderGuard.Clear(ctx, userID, orderID)
}

type reply struct {
	resp *payment.StatusResponse
	err  error
}

// scriptGateway replays replies in order per fingerprint, repeating the
// last one once the script is exhausted.
type scriptGateway struct {
	mu      sync.Mutex
	scripts map[string][]reply
	calls   map[string]int
}

func newScriptGateway() *scriptGateway {
	return &scriptGateway{scripts: map[string][]reply{}, calls: map[string]int{}}
}

func (g *scriptGateway) on(fingerprint string, replies ...reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[fingerprint] = replies
}

func (g *scriptGateway) count(fingerprint string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[fingerprint]
}

func (g *scriptGateway) CheckStatus(ctx context.Context, fingerprint string) (*payment.StatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.calls[fingerprint]
	g.calls[fingerprint]++

	script := g.scripts[fingerprint]
	if len(script) == 0 {
		return pending(), nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].resp, script[n].err
}

func paid() *payment.StatusResponse {
	return &payment.StatusResponse{
		Success: true,
		Status:  "PAID",
		Raw:     json.RawMessage(`{"success":true,"status":"PAID","data":{"amount":0.03}}`),
	}
}

func pending() *payment.StatusResponse {
	return &payment.StatusResponse{
		Success: false,
		Status:  "NOT_FOUND",
		Raw:     json.RawMessage(`{"success":false,"status":"NOT_FOUND"}`),
	}
}

func transportErr() reply {
	return reply{err: payment.ErrTransport}
}
