package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Запросы.

type addToCartRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	ItemID   string `json:"item_id" binding:"required"`
	Quantity int    `json:"quantity"`
}

type removeFromCartRequest struct {
	UserID string `json:"user_id" binding:"required"`
	ItemID string `json:"item_id" binding:"required"`
}

type checkoutRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	DiscountCode string `json:"discount_code"`
}

// Ответы. Денежные суммы отдаются JSON-числами.

type itemResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
}

type cartLineResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type cartResponse struct {
	Items []cartLineResponse `json:"items"`
	Total float64            `json:"total"`
}

type discountStatusResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

type checkoutResponse struct {
	OrderID        string                 `json:"order_id"`
	Total          float64                `json:"total"`
	DiscountAmount float64                `json:"discount_amount"`
	DiscountStatus discountStatusResponse `json:"discount_status"`
}

type orderResponse struct {
	OrderID        string                 `json:"order_id"`
	UserID         string                 `json:"user_id"`
	Items          []cartLineResponse     `json:"items"`
	Total          float64                `json:"total"`
	DiscountCode   string                 `json:"discount_code,omitempty"`
	DiscountAmount float64                `json:"discount_amount"`
	DiscountStatus discountStatusResponse `json:"discount_status"`
	CreatedAt      string                 `json:"created_at"`
}

type statsResponse struct {
	TotalItems    int      `json:"total_items"`
	TotalAmount   float64  `json:"total_amount"`
	DiscountCodes []string `json:"discount_codes"`
	TotalDiscount float64  `json:"total_discount"`
	OrderCount    int      `json:"order_count"`
}

type discountCodeResponse struct {
	Code       string  `json:"code"`
	Percentage float64 `json:"percentage"`
	Used       bool    `json:"used"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type generateDiscountResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func toItemResponse(item domain.Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		Name:        item.Name,
		Price:       item.Price.InexactFloat64(),
		Description: item.Description,
		Category:    item.Category,
	}
}

func toCartLines(items []domain.CartItem) []cartLineResponse {
	lines := make([]cartLineResponse, 0, len(items))
	for _, line := range items {
		if line.Item == nil {
			continue
		}
		lines = append(lines, cartLineResponse{
			ID:       line.Item.ID,
			Name:     line.Item.Name,
			Price:    line.Item.Price.InexactFloat64(),
			Quantity: line.Quantity,
		})
	}
	return lines
}

func toCartResponse(cart domain.Cart) cartResponse {
	return cartResponse{
		Items: toCartLines(cart.Items),
		Total: money(cart.Total()),
	}
}

func toDiscountStatus(status domain.DiscountStatus) discountStatusResponse {
	return discountStatusResponse{Status: status.Applied, Message: status.Message}
}

func toCheckoutResponse(order domain.Order) checkoutResponse {
	return checkoutResponse{
		OrderID:        order.ID,
		Total:          money(order.Total),
		DiscountAmount: money(order.DiscountAmount),
		DiscountStatus: toDiscountStatus(order.DiscountStatus),
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	return orderResponse{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Items:          toCartLines(order.Items),
		Total:          money(order.Total),
		DiscountCode:   order.DiscountCode,
		DiscountAmount: money(order.DiscountAmount),
		DiscountStatus: toDiscountStatus(order.DiscountStatus),
		CreatedAt:      order.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toStatsResponse(stats domain.Stats) statsResponse {
	codes := stats.DiscountCodes
	if codes == nil {
		codes = []string{}
	}
	return statsResponse{
		TotalItems:    stats.TotalItems,
		TotalAmount:   money(stats.TotalAmount),
		DiscountCodes: codes,
		TotalDiscount: money(stats.TotalDiscount),
		OrderCount:    stats.OrderCount,
	}
}
