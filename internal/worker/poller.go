package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"topup-checkout/internal/domain"
	"topup-checkout/internal/guard"
	"topup-checkout/internal/infrastructure/payment"
	"topup-checkout/internal/repo"
)

// storeTimeout bounds each write the poller makes. Writes are detached from
// the task context so a PAID observed right before cancellation still lands.
const storeTimeout = 5 * time.Second

// Job is one order to watch until Deadline.
type Job struct {
	Order    domain.Order
	Deadline time.Time
}

type Poller struct {
	orderRepo repo.OrderRepo
	gateway   payment.Gateway
	guard     guard.ActiveOrderGuard
	interval  time.Duration
	now       func() time.Time
}

func NewPoller(
	orderRepo repo.OrderRepo,
	gateway payment.Gateway,
	activeGuard guard.ActiveOrderGuard,
	interval time.Duration,
	loc *time.Location,
) *Poller {
	if loc == nil {
		loc = time.UTC
	}
	return &Poller{
		orderRepo: orderRepo,
		gateway:   gateway,
		guard:     activeGuard,
		interval:  interval,
		now:       func() time.Time { return time.Now().In(loc) },
	}
}

// Run checks the rail immediately and then every interval until the order is
// paid or the deadline passes. It returns the status it settled the order
// to, or "" when ctx was cancelled first.
func (p *Poller) Run(ctx context.Context, job Job) domain.OrderStatus {
	order := job.Order
	logger := log.With().
		Str("order_id", order.OrderID).
		Int64("user_id", order.UserID).
		Str("fingerprint", order.Fingerprint).
		Logger()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(time.Until(job.Deadline))
	defer deadline.Stop()

	logger.Debug().Time("deadline", job.Deadline).Msg("polling started")

	for {
		if status := p.check(ctx, job); status != "" {
			return status
		}
		if !time.Now().Before(job.Deadline) {
			return p.expire(ctx, job)
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("polling cancelled")
			return ""
		case <-deadline.C:
			return p.expire(ctx, job)
		case <-ticker.C:
		}
	}
}

// check performs one rail call and records its outcome. It returns the
// order's settled status once the rail reports PAID, or "" to keep polling.
func (p *Poller) check(ctx context.Context, job Job) domain.OrderStatus {
	order := job.Order

	resp, err := p.gateway.CheckStatus(ctx, order.Fingerprint)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("order_id", order.OrderID).Msg("payment status check failed")
		}
		return ""
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := p.orderRepo.SavePaymentResponse(storeCtx, order.OrderID, resp.Raw); err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to save payment response")
	}

	if !resp.IsPaid() {
		return ""
	}

	paidAt := p.now()
	changed, err := p.orderRepo.UpdateStatus(storeCtx, order.OrderID, domain.StatusUpdate{
		Status:          domain.OrderPaid,
		PaidAt:          &paidAt,
		PaymentResponse: resp.Raw,
	})
	if err != nil {
		// Retry on the next tick; the rail will keep answering PAID.
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to mark order paid")
		return ""
	}
	p.release(storeCtx, order)

	if changed {
		log.Info().Str("order_id", order.OrderID).Time("paid_at", paidAt).Msg("order paid")
		return domain.OrderPaid
	}

	current, err := p.orderRepo.FindById(storeCtx, order.OrderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to reload order")
		return domain.OrderPaid
	}
	switch current.Status {
	case domain.OrderUnpaid:
		return ""
	case domain.OrderExpired:
		log.Warn().Str("order_id", order.OrderID).Stringer("status", current.Status).Msg("rail reported paid for an expired order")
	}
	return current.Status
}

func (p *Poller) expire(ctx context.Context, job Job) domain.OrderStatus {
	order := job.Order
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	defer p.release(storeCtx, order)

	changed, err := p.orderRepo.UpdateStatus(storeCtx, order.OrderID, domain.StatusUpdate{Status: domain.OrderExpired})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to expire order")
		return domain.OrderUnpaid
	}
	if changed {
		log.Info().Str("order_id", order.OrderID).Msg("order expired")
		return domain.OrderExpired
	}

	current, err := p.orderRepo.FindById(storeCtx, order.OrderID)
	if err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to reload order")
		return domain.OrderUnpaid
	}
	log.Info().Str("order_id", order.OrderID).Stringer("status", current.Status).Msg("order already settled, expiry skipped")
	return current.Status
}

func (p *Poller) release(ctx context.Context, order domain.Order) {
	if err := p.guard.Clear(ctx, order.UserID, order.OrderID); err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to clear active order")
	}
}
