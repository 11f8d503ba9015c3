package domain

import "github.com/shopspring/decimal"

// Stats: агрегированная статистика магазина, вычисляется по запросу.
type Stats struct {
	TotalItems    int
	TotalAmount   decimal.Decimal
	DiscountCodes []string
	TotalDiscount decimal.Decimal
	OrderCount    int
}
