package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"topup-checkout/internal/domain"
)

type CatalogRepo interface {
	ListByGame(ctx context.Context, game string) ([]domain.CatalogItem, error)
	FindNormalPrice(ctx context.Context, game, itemID string) (decimal.Decimal, error)
}

type catalogRepo struct {
	db *sql.DB
}

func NewCatalogRepo(db *sql.DB) CatalogRepo {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) ListByGame(ctx context.Context, game string) ([]domain.CatalogItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT item_id, game, normal_price, reseller_price FROM item_prices WHERE game = $1 ORDER BY normal_price, item_id",
		game,
	)
	if err != nil {
		return nil, fmt.Errorf("list catalog %s: %w", game, err)
	}
	defer rows.Close()

	items := []domain.CatalogItem{}
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.ItemID, &item.Game, &item.NormalPrice, &item.ResellerPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *catalogRepo) FindNormalPrice(ctx context.Context, game, itemID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		"SELECT normal_price FROM item_prices WHERE item_id = $1 AND game = $2",
		itemID, game,
	).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, domain.ErrItemNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("find price %s/%s: %w", game, itemID, err)
	}
	return price, nil
}
