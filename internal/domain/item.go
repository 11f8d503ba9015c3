package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item: позиция каталога. После создания не изменяется.
type Item struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Description string
	Category    string
}

// NewItem создаёт позицию каталога со свежим идентификатором.
func NewItem(name string, price decimal.Decimal, description, category string) *Item {
	return &Item{
		ID:          uuid.NewString(),
		Name:        name,
		Price:       price,
		Description: description,
		Category:    category,
	}
}

// Validate проверяет инварианты позиции каталога.
func (i *Item) Validate() []error {
	var errs []error

	if i.ID == "" {
		errs = append(errs, ErrItemIDRequired)
	}
	if i.Price.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}

	return errs
}

// CartItem связывает позицию каталога с количеством.
// Item указывает на запись каталога, поэтому цена читается «вживую» до момента оформления заказа.
type CartItem struct {
	Item     *Item
	Quantity int
}

// LineTotal возвращает стоимость строки: price × quantity.
func (ci CartItem) LineTotal() decimal.Decimal {
	if ci.Item == nil {
		return decimal.Zero
	}
	return ci.Item.Price.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}
