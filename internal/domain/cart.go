package domain

import "github.com/shopspring/decimal"

// Cart: изменяемая корзина пользователя.
// На каждый item id приходится не более одной строки.
type Cart struct {
	UserID string
	Items  []CartItem
}

// NewCart создаёт пустую корзину пользователя.
func NewCart(userID string) *Cart {
	return &Cart{UserID: userID}
}

// Add добавляет товар в корзину или увеличивает количество существующей строки.
func (c *Cart) Add(item *Item, quantity int) error {
	if item == nil {
		return ErrItemNotFound
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	for i := range c.Items {
		if c.Items[i].Item.ID == item.ID {
			c.Items[i].Quantity += quantity
			return nil
		}
	}
	c.Items = append(c.Items, CartItem{Item: item, Quantity: quantity})
	return nil
}

// Remove удаляет строку с указанным item id. Отсутствие строки не считается ошибкой.
func (c *Cart) Remove(itemID string) bool {
	for i := range c.Items {
		if c.Items[i].Item.ID == itemID {
			c.Items = append(c.Items[:i:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear очищает корзину, сам объект корзины сохраняется.
func (c *Cart) Clear() {
	c.Items = nil
}

// Len возвращает количество строк в корзине.
func (c *Cart) Len() int {
	return len(c.Items)
}

// Total пересчитывает сумму корзины при каждом вызове.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Snapshot возвращает копию строк корзины, не связанную с дальнейшими изменениями.
func (c *Cart) Snapshot() []CartItem {
	if len(c.Items) == 0 {
		return []CartItem{}
	}
	out := make([]CartItem, len(c.Items))
	copy(out, c.Items)
	return out
}
