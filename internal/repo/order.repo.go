package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"topup-checkout/internal/domain"
)

type OrderRepo interface {
	Create(ctx context.Context, order *domain.Order) error
	FindById(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, update domain.StatusUpdate) (bool, error)
	SavePaymentResponse(ctx context.Context, orderID string, raw json.RawMessage) error
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
	FindUnpaid(ctx context.Context) ([]domain.Order, error)
}

type orderRepo struct {
	db  *sql.DB
	loc *time.Location
}

// NewOrderRepo returns a Postgres-backed OrderRepo. Timestamps read back
// are converted to loc.
func NewOrderRepo(db *sql.DB, loc *time.Location) OrderRepo {
	if loc == nil {
		loc = time.UTC
	}
	return &orderRepo{db: db, loc: loc}
}

const orderColumns = `order_id, user_id, game, item_id, amount, server_id, zone_id, md5, status, payment_response, created_at, paid_at`

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderUnpaid
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().In(r.loc)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (order_id, user_id, game, item_id, amount, server_id, zone_id, md5, status, payment_response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.OrderID, order.UserID, order.Game, order.ItemID, order.Amount,
		order.ServerID, order.ZoneID, order.Fingerprint, order.Status,
		nullJSON(order.PaymentResponse), order.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("create order %s: %w", order.OrderID, domain.ErrDuplicateKey)
		}
		return fmt.Errorf("create order %s: %w", order.OrderID, err)
	}
	return nil
}

func (r *orderRepo) FindById(ctx context.Context, orderID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = $1", orderID)
	order, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	return order, nil
}

// UpdateStatus applies update in a single statement, and only while the row
// is still UNPAID. It reports whether a row changed.
func (r *orderRepo) UpdateStatus(ctx context.Context, orderID string, update domain.StatusUpdate) (bool, error) {
	if !domain.OrderUnpaid.CanTransition(update.Status) {
		return false, fmt.Errorf("update order %s: invalid target status %q", orderID, update.Status)
	}

	var paidAt any
	if update.PaidAt != nil {
		paidAt = *update.PaidAt
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = $2,
		     paid_at = COALESCE($3::timestamptz, paid_at),
		     payment_response = COALESCE($4::jsonb, payment_response)
		 WHERE order_id = $1 AND status = 'UNPAID'`,
		orderID, update.Status, paidAt, nullJSON(update.PaymentResponse),
	)
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *orderRepo) SavePaymentResponse(ctx context.Context, orderID string, raw json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE orders SET payment_response = $2::jsonb WHERE order_id = $1",
		orderID, nullJSON(raw),
	)
	if err != nil {
		return fmt.Errorf("save payment response %s: %w", orderID, err)
	}
	return nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	return r.query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
}

func (r *orderRepo) FindUnpaid(ctx context.Context) ([]domain.Order, error) {
	return r.query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = 'UNPAID' ORDER BY created_at",
	)
}

func (r *orderRepo) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *orderRepo) scan(row scanner) (*domain.Order, error) {
	var (
		order  domain.Order
		raw    []byte
		paidAt sql.NullTime
	)
	err := row.Scan(
		&order.OrderID,
		&order.UserID,
		&order.Game,
		&order.ItemID,
		&order.Amount,
		&order.ServerID,
		&order.ZoneID,
		&order.Fingerprint,
		&order.Status,
		&raw,
		&order.CreatedAt,
		&paidAt,
	)
	if err != nil {
		return nil, err
	}

	if len(raw) > 0 {
		order.PaymentResponse = json.RawMessage(raw)
	}
	order.CreatedAt = order.CreatedAt.In(r.loc)
	if paidAt.Valid {
		t := paidAt.Time.In(r.loc)
		order.PaidAt = &t
	}
	return &order, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
