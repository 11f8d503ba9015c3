package domain

import "github.com/shopspring/decimal"

// Сообщения статуса скидки, которые видит клиент.
const (
	DiscountMessageNotApplied  = "No discount code applied."
	DiscountMessageUnavailable = "Discount code cannot be applied right now."
	DiscountMessageInvalid     = "Invalid discount code."

	// DiscountCodePrefix: префикс последовательно выдаваемых кодов.
	DiscountCodePrefix = "DISCOUNT"
)

// DefaultDiscountPercentage: доля скидки для каждого выданного кода (10%).
var DefaultDiscountPercentage = decimal.RequireFromString("0.10")

// DiscountCode: выданный код скидки. Флаг Used никогда не сбрасывается.
type DiscountCode struct {
	Code       string
	Percentage decimal.Decimal
	Used       bool
}

// MarkUsed помечает код использованным.
func (d *DiscountCode) MarkUsed() {
	d.Used = true
}

// Redeemable сообщает, можно ли погасить код строкой code.
func (d DiscountCode) Redeemable(code string) bool {
	return !d.Used && d.Code == code
}

// DiscountStatus: результат попытки применить скидку. Отказ не является ошибкой.
type DiscountStatus struct {
	Applied bool
	Message string
}

// NoDiscount возвращает статус по умолчанию для заказа без кода.
func NoDiscount() DiscountStatus {
	return DiscountStatus{Applied: false, Message: DiscountMessageNotApplied}
}
