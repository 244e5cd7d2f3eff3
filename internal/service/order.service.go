package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"topup-checkout/internal/domain"
	"topup-checkout/internal/guard"
	"topup-checkout/internal/infrastructure/khqr"
	"topup-checkout/internal/repo"
	"topup-checkout/internal/worker"
)

const (
	orderIDLen      = 8
	orderIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxIDAttempts   = 3
)

type PurchaseRequest struct {
	UserID   int64  `validate:"required"`
	Game     string `validate:"required"`
	ItemID   string `validate:"required"`
	ServerID string `validate:"required"`
	ZoneID   string `validate:"required"`
}

type PurchaseResult struct {
	Order *domain.Order
	QR    *khqr.QR
}

type OrderStatusView struct {
	Status          domain.OrderStatus `json:"status"`
	PaymentResponse json.RawMessage    `json:"payment_response"`
	PaidAt          *time.Time         `json:"paid_at"`
}

type QRIssuer interface {
	Issue(amount decimal.Decimal) (*khqr.QR, error)
}

type PollerRegistry interface {
	Start(job worker.Job) bool
	Cancel(ctx context.Context, orderID string) bool
	Active(orderID string) bool
}

type Options struct {
	PollTimeout time.Duration
	// StrictGuard rejects a purchase while the user still has an order
	// awaiting payment.
	StrictGuard bool
	Location    *time.Location
}

type OrderService interface {
	ListCatalog(ctx context.Context, game string) (map[string]domain.Price, error)
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	GetStatus(ctx context.Context, orderID string) (*OrderStatusView, error)
	IsUserCurrentlyPaying(ctx context.Context, userID int64) (bool, error)
	ListOrders(ctx context.Context, userID int64) ([]domain.Order, error)
	CancelPolling(ctx context.Context, orderID string) error
	ProvisionUser(ctx context.Context, userID int64, username string) error
	IsReseller(ctx context.Context, userID int64) (bool, error)
}

type orderService struct {
	orderRepo   repo.OrderRepo
	catalogRepo repo.CatalogRepo
	userRepo    repo.UserRepo
	issuer      QRIssuer
	guard       guard.ActiveOrderGuard
	registry    PollerRegistry
	validate    *validator.Validate
	opts        Options
	newID       func() string
}

func NewOrderService(
	orderRepo repo.OrderRepo,
	catalogRepo repo.CatalogRepo,
	userRepo repo.UserRepo,
	issuer QRIssuer,
	activeGuard guard.ActiveOrderGuard,
	registry PollerRegistry,
	opts Options,
) OrderService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &orderService{
		orderRepo:   orderRepo,
		catalogRepo: catalogRepo,
		userRepo:    userRepo,
		issuer:      issuer,
		guard:       activeGuard,
		registry:    registry,
		validate:    validator.New(),
		opts:        opts,
		newID:       newOrderID,
	}
}

func (s *orderService) ListCatalog(ctx context.Context, game string) (map[string]domain.Price, error) {
	items, err := s.catalogRepo.ListByGame(ctx, game)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]domain.Price, len(items))
	for _, item := range items {
		prices[item.ItemID] = domain.Price{Normal: item.NormalPrice, Reseller: item.ResellerPrice}
	}
	return prices, nil
}

func (s *orderService) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	req.Game = strings.TrimSpace(req.Game)
	req.ItemID = strings.TrimSpace(req.ItemID)
	req.ServerID = strings.TrimSpace(req.ServerID)
	req.ZoneID = strings.TrimSpace(req.ZoneID)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return nil, fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(fields, ", "))
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	if s.opts.StrictGuard {
		busy, err := s.guard.IsSet(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if busy {
			return nil, domain.ErrPaymentInProgress
		}
	}

	price, err := s.catalogRepo.FindNormalPrice(ctx, req.Game, req.ItemID)
	if err != nil {
		return nil, err
	}

	qr, err := s.issuer.Issue(price)
	if err != nil {
		if !errors.Is(err, domain.ErrQRGenerationFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrQRGenerationFailed, err)
		}
		log.Error().Err(err).Int64("user_id", req.UserID).Str("item_id", req.ItemID).Msg("qr generation failed")
		return nil, err
	}

	order := &domain.Order{
		UserID:      req.UserID,
		Game:        req.Game,
		ItemID:      req.ItemID,
		Amount:      price,
		ServerID:    req.ServerID,
		ZoneID:      req.ZoneID,
		Fingerprint: qr.Fingerprint,
		Status:      domain.OrderUnpaid,
	}
	if err := s.create(ctx, order); err != nil {
		return nil, err
	}

	if err := s.guard.Set(ctx, order.UserID, order.OrderID); err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to mark active order")
	}
	if !s.registry.Start(worker.Job{Order: *order, Deadline: order.CreatedAt.Add(s.opts.PollTimeout)}) {
		log.Warn().Str("order_id", order.OrderID).Msg("poller not started, order left for reconciliation")
		if !s.registry.Active(order.OrderID) {
			if err := s.guard.Clear(ctx, order.UserID, order.OrderID); err != nil {
				log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to clear active order")
			}
		}
	}

	log.Info().
		Str("order_id", order.OrderID).
		Int64("user_id", order.UserID).
		Str("item_id", order.ItemID).
		Str("amount", order.Amount.StringFixed(2)).
		Str("fingerprint", order.Fingerprint).
		Msg("order created")

	return &PurchaseResult{Order: order, QR: qr}, nil
}

func (s *orderService) create(ctx context.Context, order *domain.Order) error {
	var err error
	for range maxIDAttempts {
		order.OrderID = s.newID()
		order.CreatedAt = time.Now().In(s.opts.Location)
		err = s.orderRepo.Create(ctx, order)
		if !errors.Is(err, domain.ErrDuplicateKey) {
			return err
		}
		log.Warn().Str("order_id", order.OrderID).Msg("order id collision, regenerating")
	}
	return err
}

func (s *orderService) GetStatus(ctx context.Context, orderID string) (*OrderStatusView, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderStatusView{
		Status:          order.Status,
		PaymentResponse: order.PaymentResponse,
		PaidAt:          order.PaidAt,
	}, nil
}

func (s *orderService) IsUserCurrentlyPaying(ctx context.Context, userID int64) (bool, error) {
	return s.guard.IsSet(ctx, userID)
}

func (s *orderService) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	return s.orderRepo.ListByUser(ctx, userID)
}

func (s *orderService) CancelPolling(ctx context.Context, orderID string) error {
	if !s.registry.Cancel(ctx, orderID) {
		return domain.ErrNotPolling
	}
	return nil
}

func (s *orderService) ProvisionUser(ctx context.Context, userID int64, username string) error {
	return s.userRepo.EnsureUser(ctx, userID, username)
}

func (s *orderService) IsReseller(ctx context.Context, userID int64) (bool, error) {
	return s.userRepo.IsReseller(ctx, userID)
}

func newOrderID() string {
	b := make([]byte, orderIDLen)
	for i := range b {
		b[i] = orderIDAlphabet[rand.IntN(len(orderIDAlphabet))]
	}
	return string(b)
}
