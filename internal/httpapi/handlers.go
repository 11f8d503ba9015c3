package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	msgItemAdded         = "Item added to cart"
	msgItemRemoved       = "Item removed from cart"
	msgDiscountGenerated = "Discount code generated"
	msgItemNotFound      = "Item not found"

	checkoutOperation = "POST /api/checkout"
)

// GET /api/items[?category=]
func (h *Handler) listItems(c *gin.Context) {
	items := h.store.ListItems(strings.TrimSpace(c.Query("category")))

	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/categories
func (h *Handler) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Categories())
}

// GET /api/cart?user_id=
func (h *Handler) getCart(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		h.abortWithError(c, domain.ErrUserIDRequired)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(h.store.GetOrCreateCart(userID)))
}

// POST /api/cart/add
func (h *Handler) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.store.AddToCart(req.UserID, req.ItemID, req.Quantity); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: msgItemAdded})
}

// POST /api/cart/remove
func (h *Handler) removeFromCart(c *gin.Context) {
	var req removeFromCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	h.store.RemoveFromCart(req.UserID, req.ItemID)
	c.JSON(http.StatusOK, messageResponse{Message: msgItemRemoved})
}

// POST /api/checkout
// С заголовком Idempotency-Key повторный запрос получает ответ первого.
func (h *Handler) checkout(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if h.guard == nil || key == "" {
		if h.requireIdempotencyKey {
			c.JSON(http.StatusBadRequest, errorResponse{Error: domain.ErrIdempotencyKeyRequired.Error()})
			return
		}
		outcome := h.placeOrder(body)
		c.Data(outcome.Code, gin.MIMEJSON, outcome.Body)
		return
	}

	hash := idempotency.HashRequest(checkoutOperation, body)
	outcome, err := h.guard.Execute(key, hash, func() idempotency.Outcome {
		return h.placeOrder(body)
	})
	if err != nil {
		h.abortWithIdempotencyError(c, key, err)
		return
	}

	if outcome.Replayed {
		c.Header("Idempotent-Replayed", "true")
		h.logger.WithField("idempotency_key", key).Debug("checkout replayed")
	}
	c.Data(outcome.Code, gin.MIMEJSON, outcome.Body)
}

// placeOrder разбирает тело checkout и оформляет заказ; результат сериализуется для повторной выдачи.
func (h *Handler) placeOrder(body []byte) idempotency.Outcome {
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return encodeOutcome(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return encodeOutcome(http.StatusBadRequest, errorResponse{Error: domain.ErrUserIDRequired.Error()})
	}

	// код сравнивается как есть: " DISCOUNT1 " не равен DISCOUNT1
	order := h.store.CreateOrder(req.UserID, req.DiscountCode)
	return encodeOutcome(http.StatusOK, toCheckoutResponse(order))
}

// GET /api/orders?user_id=
func (h *Handler) listOrders(c *gin.Context) {
	orders := h.store.Orders(strings.TrimSpace(c.Query("user_id")))

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order))
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/admin/generate-discount
func (h *Handler) generateDiscount(c *gin.Context) {
	code := h.store.GenerateDiscountCode()
	c.JSON(http.StatusOK, generateDiscountResponse{Message: msgDiscountGenerated, Code: code.Code})
}

// GET /api/admin/discount-codes
func (h *Handler) listDiscountCodes(c *gin.Context) {
	codes := h.store.DiscountCodes()

	resp := make([]discountCodeResponse, 0, len(codes))
	for _, code := range codes {
		resp = append(resp, discountCodeResponse{
			Code:       code.Code,
			Percentage: code.Percentage.InexactFloat64(),
			Used:       code.Used,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/admin/stats
func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, toStatsResponse(h.store.Stats()))
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: msgItemNotFound})
	case domain.IsClientError(err):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.logger.WithError(err).Error("unexpected store error")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) abortWithIdempotencyError(c *gin.Context, key string, err error) {
	_ = c.Error(err)
	entry := h.logger.WithError(err).WithField("idempotency_key", key)
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		entry.Info("idempotency key reused with different payload")
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "idempotency key is already used with different request payload"})
	case errors.Is(err, idempotency.ErrInProgress):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		entry.Error("idempotent checkout failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to process idempotent request"})
	}
}

func encodeOutcome(code int, payload any) idempotency.Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("failed to encode response")
		return idempotency.Outcome{
			Body:   []byte(`{"error":"internal error"}`),
			Code:   http.StatusInternalServerError,
			Failed: true,
		}
	}
	return idempotency.Outcome{Body: body, Code: code, Failed: code >= http.StatusBadRequest}
}
