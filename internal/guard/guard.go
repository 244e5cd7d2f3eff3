// Package guard tracks, per user, the order currently awaiting payment.
package guard

import "context"

type ActiveOrderGuard interface {
	// Set records orderID as the user's active order, replacing any older one.
	Set(ctx context.Context, userID int64, orderID string) error
	// Clear removes the user's entry only if it still points at orderID.
	Clear(ctx context.Context, userID int64, orderID string) error
	IsSet(ctx context.Context, userID int64) (bool, error)
}
