package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"topup-checkout/internal/domain"
	"topup-checkout/internal/guard"
	"topup-checkout/internal/repo"
)

// ReconciliationWorker picks up UNPAID orders nobody is polling, typically
// after a restart. Orders still inside their budget get a fresh poller;
// the rest receive one final check and are settled. Orders whose polling
// was cancelled are not resumed, only settled once past their budget.
type ReconciliationWorker struct {
	orderRepo repo.OrderRepo
	registry  *Registry
	poller    *Poller
	guard     guard.ActiveOrderGuard
	timeout   time.Duration
	interval  time.Duration
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	registry *Registry,
	poller *Poller,
	activeGuard guard.ActiveOrderGuard,
	timeout time.Duration,
	interval time.Duration,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orderRepo: orderRepo,
		registry:  registry,
		poller:    poller,
		guard:     activeGuard,
		timeout:   timeout,
		interval:  interval,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", rw.interval).Msg("reconciliation worker started")

	for {
		if _, _, err := rw.Process(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reconciliation failed")
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("reconciliation worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Process runs one sweep and reports how many orders were resumed and
// settled.
func (rw *ReconciliationWorker) Process(ctx context.Context) (resumed, settled int, err error) {
	orders, err := rw.orderRepo.FindUnpaid(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := time.Now()
	for _, snapshot := range orders {
		if ctx.Err() != nil {
			return resumed, settled, ctx.Err()
		}
		if rw.registry.Active(snapshot.OrderID) {
			continue
		}

		// the snapshot may predate a poller that settled the order since
		order, err := rw.orderRepo.FindById(ctx, snapshot.OrderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", snapshot.OrderID).Msg("failed to reload order")
			continue
		}
		if order.Status != domain.OrderUnpaid {
			continue
		}

		deadline := order.CreatedAt.Add(rw.timeout)
		if now.Before(deadline) {
			if rw.registry.Cancelled(order.OrderID) {
				continue
			}
			if err := rw.guard.Set(ctx, order.UserID, order.OrderID); err != nil {
				log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to restore active order")
			}
			if rw.registry.Start(Job{Order: *order, Deadline: deadline}) {
				resumed++
				log.Info().
					Str("order_id", order.OrderID).
					Dur("remaining", deadline.Sub(now)).
					Msg("resumed polling for orphaned order")
			}
			continue
		}

		status := rw.poller.Run(ctx, Job{Order: *order, Deadline: now})
		if status != "" && status != domain.OrderUnpaid {
			rw.registry.forget(order.OrderID)
		}
		settled++
		log.Info().
			Str("order_id", order.OrderID).
			Stringer("status", status).
			Msg("settled orphaned order")
	}

	if resumed+settled > 0 {
		log.Info().Int("resumed", resumed).Int("settled", settled).Msg("reconciliation sweep done")
	}
	return resumed, settled, nil
}
