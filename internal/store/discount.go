package store

import (
	"strconv"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// GenerateDiscountCode выдаёт новый код вне зависимости от счётчика заказов.
func (s *Store) GenerateDiscountCode() domain.DiscountCode {
	s.mu.Lock()
	code := s.generateDiscountCodeLocked()
	unused := s.unusedCodesLocked()
	s.mu.Unlock()

	s.metrics.RecordCodeIssued(metrics.IssueSourceManual)
	s.metrics.SetUnusedCodes(unused)
	s.logger.WithField("code", code.Code).Info("discount code issued manually")

	s.emit(discountIssuedEvent(code, metrics.IssueSourceManual, s.now()))
	return code
}

// DiscountCodes возвращает копию реестра кодов в порядке выдачи.
func (s *Store) DiscountCodes() []domain.DiscountCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.DiscountCode, len(s.codes))
	copy(result, s.codes)
	return result
}

// canApplyDiscountLocked проверяет окно погашения по счётчику ДО учёта текущего заказа:
// погасить код можно только заказом, который сам станет n-м, 2n-м, ... по счёту.
func (s *Store) canApplyDiscountLocked() bool {
	return s.orderCount > 1 && (s.orderCount+1)%s.interval == 0
}

// applyDiscountLocked пытается погасить code для order и возвращает результат для метрик.
// При отказе сумма и поля скидки заказа не меняются.
func (s *Store) applyDiscountLocked(order *domain.Order, code string) string {
	if !s.canApplyDiscountLocked() {
		order.DiscountStatus = domain.DiscountStatus{Applied: false, Message: domain.DiscountMessageUnavailable}
		return metrics.RedemptionUnavailable
	}

	for i := range s.codes {
		if !s.codes[i].Redeemable(code) {
			continue
		}
		s.codes[i].MarkUsed()

		amount := order.Total.Mul(s.codes[i].Percentage)
		order.DiscountCode = s.codes[i].Code
		order.DiscountAmount = amount
		order.Total = order.Total.Sub(amount)
		order.DiscountStatus = domain.DiscountStatus{Applied: true, Message: s.codes[i].Code}
		return metrics.RedemptionApplied
	}

	order.DiscountStatus = domain.DiscountStatus{Applied: false, Message: domain.DiscountMessageInvalid}
	return metrics.RedemptionInvalid
}

func (s *Store) generateDiscountCodeLocked() domain.DiscountCode {
	code := domain.DiscountCode{
		Code:       domain.DiscountCodePrefix + strconv.Itoa(len(s.codes)+1),
		Percentage: domain.DefaultDiscountPercentage,
	}
	s.codes = append(s.codes, code)
	return code
}

func (s *Store) unusedCodesLocked() int {
	unused := 0
	for _, code := range s.codes {
		if !code.Used {
			unused++
		}
	}
	return unused
}
