package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order: неизменяемый снимок корзины на момент оформления.
type Order struct {
	ID     string
	UserID string
	// Items: копия строк корзины; последующие изменения корзины на заказ не влияют.
	Items []CartItem
	// Total: сумма после вычета скидки.
	Total decimal.Decimal
	// DiscountCode пуст, если скидка не применялась.
	DiscountCode   string
	DiscountAmount decimal.Decimal
	DiscountStatus DiscountStatus
	CreatedAt      time.Time
}

// NewOrder снимает состояние корзины в новый заказ.
func NewOrder(cart *Cart, now time.Time) Order {
	return Order{
		ID:             uuid.NewString(),
		UserID:         cart.UserID,
		Items:          cart.Snapshot(),
		Total:          cart.Total(),
		DiscountAmount: decimal.Zero,
		DiscountStatus: NoDiscount(),
		CreatedAt:      now,
	}
}

// ItemsCount возвращает суммарное количество единиц товара в заказе.
func (o *Order) ItemsCount() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

// Subtotal возвращает сумму заказа до скидки.
func (o *Order) Subtotal() decimal.Decimal {
	return o.Total.Add(o.DiscountAmount)
}

// HasDiscount сообщает, была ли к заказу успешно применена скидка.
func (o *Order) HasDiscount() bool {
	return o.DiscountStatus.Applied && !o.DiscountAmount.IsZero()
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if o.Total.IsNegative() {
		errs = append(errs, ErrAmountNegative)
	}
	if !o.DiscountStatus.Applied && !o.DiscountAmount.IsZero() {
		errs = append(errs, ErrDiscountWithoutCode)
	}

	// Сверяем сумму до скидки с суммой позиций: qty * price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		calc = calc.Add(item.LineTotal())
	}
	if !calc.Equal(o.Subtotal()) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
