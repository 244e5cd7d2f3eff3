package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"topup-checkout/internal/guard"
)

type task struct {
	userID int64
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the running pollers, one per order id.
type Registry struct {
	poller *Poller
	guard  guard.ActiveOrderGuard

	mu        sync.Mutex
	tasks     map[string]*task
	cancelled map[string]struct{}
	closed    bool
	wg        sync.WaitGroup

	root       context.Context
	cancelRoot context.CancelFunc
}

func NewRegistry(poller *Poller, activeGuard guard.ActiveOrderGuard) *Registry {
	root, cancel := context.WithCancel(context.Background())
	return &Registry{
		poller:     poller,
		guard:      activeGuard,
		tasks:      make(map[string]*task),
		cancelled:  make(map[string]struct{}),
		root:       root,
		cancelRoot: cancel,
	}
}

// Start launches a poller for job. It returns false when the order is
// already tracked or the registry has been shut down.
func (r *Registry) Start(job Job) bool {
	orderID := job.Order.OrderID

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.tasks[orderID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(r.root)
	t := &task{userID: job.Order.UserID, cancel: cancel, done: make(chan struct{})}
	r.tasks[orderID] = t
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(t.done)
		defer cancel()

		status := r.poller.Run(ctx, job)
		r.remove(orderID, t)
		log.Debug().Str("order_id", orderID).Stringer("status", status).Msg("poller finished")
	}()
	return true
}

// Cancel stops the order's poller, waits for it to exit and clears the
// user's guard entry. The stored order status is left as is, and the order
// is remembered so reconciliation does not resume it.
func (r *Registry) Cancel(ctx context.Context, orderID string) bool {
	r.mu.Lock()
	t, ok := r.tasks[orderID]
	if ok {
		delete(r.tasks, orderID)
		r.cancelled[orderID] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
	}

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := r.guard.Clear(clearCtx, t.userID, orderID); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("failed to clear active order")
	}
	log.Info().Str("order_id", orderID).Msg("polling cancelled")
	return true
}

// Cancelled reports whether polling for the order was stopped by Cancel.
func (r *Registry) Cancelled(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[orderID]
	return ok
}

func (r *Registry) forget(orderID string) {
	r.mu.Lock()
	delete(r.cancelled, orderID)
	r.mu.Unlock()
}

func (r *Registry) Active(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[orderID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown cancels every poller and waits for them until ctx is done.
// Interrupted orders stay UNPAID.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	n := len(r.tasks)
	r.mu.Unlock()

	log.Info().Int("pollers", n).Msg("stopping pollers")
	r.cancelRoot()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) remove(orderID string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tasks[orderID] == t {
		delete(r.tasks, orderID)
	}
}
