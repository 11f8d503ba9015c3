package store

import (
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

func orderCreatedEvent(order domain.Order, orderCount int) domain.Event {
	return domain.Event{
		Type:          domain.EventOrderCreated,
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		Data: map[string]any{
			"order_id":        order.ID,
			"user_id":         order.UserID,
			"items_count":     order.ItemsCount(),
			"total":           order.Total.String(),
			"discount_code":   order.DiscountCode,
			"discount_amount": order.DiscountAmount.String(),
			"order_count":     orderCount,
		},
		OccurredAt: order.CreatedAt,
	}
}

func discountOutcomeEvent(order domain.Order, code, result string) domain.Event {
	eventType := domain.EventDiscountRejected
	if result == metrics.RedemptionApplied {
		eventType = domain.EventDiscountRedeemed
	}
	return domain.Event{
		Type:          eventType,
		AggregateType: domain.AggregateDiscount,
		AggregateID:   code,
		Data: map[string]any{
			"code":     code,
			"order_id": order.ID,
			"user_id":  order.UserID,
			"result":   result,
			"message":  order.DiscountStatus.Message,
			"amount":   order.DiscountAmount.String(),
		},
		OccurredAt: order.CreatedAt,
	}
}

func discountIssuedEvent(code domain.DiscountCode, source string, at time.Time) domain.Event {
	return domain.Event{
		Type:          domain.EventDiscountIssued,
		AggregateType: domain.AggregateDiscount,
		AggregateID:   code.Code,
		Data: map[string]any{
			"code":       code.Code,
			"percentage": code.Percentage.String(),
			"source":     source,
		},
		OccurredAt: at,
	}
}

func cartEvent(eventType domain.EventType, userID, itemID string, quantity int, at time.Time) domain.Event {
	data := map[string]any{
		"user_id": userID,
		"item_id": itemID,
	}
	if quantity > 0 {
		data["quantity"] = quantity
	}
	return domain.Event{
		Type:          eventType,
		AggregateType: domain.AggregateCart,
		AggregateID:   userID,
		Data:          data,
		OccurredAt:    at,
	}
}
