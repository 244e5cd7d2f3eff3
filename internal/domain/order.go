package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderUnpaid  OrderStatus = "UNPAID"
	OrderPaid    OrderStatus = "PAID"
	OrderExpired OrderStatus = "EXPIRED"
)

func (s OrderStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderExpired
}

// CanTransition reports whether an order may move from s to next.
// UNPAID is the only state with outgoing edges.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return s == OrderUnpaid && next.Terminal()
}

type Order struct {
	OrderID         string          `json:"order_id"`
	UserID          int64           `json:"user_id"`
	Game            string          `json:"game"`
	ItemID          string          `json:"item_id"`
	Amount          decimal.Decimal `json:"amount"`
	ServerID        string          `json:"server_id"`
	ZoneID          string          `json:"zone_id"`
	Fingerprint     string          `json:"md5"`
	Status          OrderStatus     `json:"status"`
	PaymentResponse json.RawMessage `json:"payment_response,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

// StatusUpdate is a partial update applied by the poller. Nil fields are
// left untouched.
type StatusUpdate struct {
	Status          OrderStatus
	PaidAt          *time.Time
	PaymentResponse json.RawMessage
}
