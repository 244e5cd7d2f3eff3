package domain

import "github.com/shopspring/decimal"

type CatalogItem struct {
	ItemID        string
	Game          string
	NormalPrice   decimal.Decimal
	ResellerPrice decimal.Decimal
}

type Price struct {
	Normal   decimal.Decimal `json:"normal"`
	Reseller decimal.Decimal `json:"reseller"`
}

type User struct {
	UserID     int64
	Username   string
	Balance    decimal.Decimal
	IsReseller bool
}
