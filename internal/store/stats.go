package store

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Stats агрегирует историю заказов и реестр кодов. Состояние не изменяется.
func (s *Store) Stats() domain.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.Stats{
		TotalAmount:   decimal.Zero,
		TotalDiscount: decimal.Zero,
		DiscountCodes: make([]string, 0, len(s.codes)),
		OrderCount:    s.orderCount,
	}

	for i := range s.orders {
		order := &s.orders[i]
		stats.TotalItems += order.ItemsCount()
		stats.TotalAmount = stats.TotalAmount.Add(order.Total)
		if !order.DiscountAmount.IsZero() {
			stats.TotalDiscount = stats.TotalDiscount.Add(order.DiscountAmount)
		}
	}
	for _, code := range s.codes {
		stats.DiscountCodes = append(stats.DiscountCodes, code.Code)
	}

	return stats
}
