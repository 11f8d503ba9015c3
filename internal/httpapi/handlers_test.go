package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type checkoutBody struct {
	OrderID        string  `json:"order_id"`
	Total          float64 `json:"total"`
	DiscountAmount float64 `json:"discount_amount"`
	DiscountStatus struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
	} `json:"discount_status"`
}

func quietLogger() *logrus.Entry {
	logger, _ := logtest.NewNullLogger()
	return logrus.NewEntry(logger)
}

func newSeededStore(t *testing.T) (*store.Store, []*domain.Item) {
	t.Helper()
	s := store.New(store.WithLogger(quietLogger()))
	items, err := catalog.Seed(s, catalog.DefaultProducts)
	require.NoError(t, err)
	return s, items
}

func newRouter(s httpapi.Store, opts ...httpapi.Option) http.Handler {
	opts = append([]httpapi.Option{httpapi.WithLogger(quietLogger())}, opts...)
	return httpapi.NewHandler(s, opts...).Router()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestListItems(t *testing.T) {
	s, _ := newSeededStore(t)
	router := newRouter(s)

	w := do(t, router, http.MethodGet, "/api/items", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]map[string]any](t, w)
	assert.Len(t, items, 12)
	assert.Equal(t, "Smartphone", items[0]["name"])
	assert.InDelta(t, 599.99, items[0]["price"], 1e-9)

	w = do(t, router, http.MethodGet, "/api/items?category=electronics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	filtered := decode[[]map[string]any](t, w)
	require.NotEmpty(t, filtered)
	for _, item := range filtered {
		assert.Equal(t, "Electronics", item["category"])
	}

	w = do(t, router, http.MethodGet, "/api/items?category=Toys", nil, nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListCategories(t *testing.T) {
	s, _ := newSeededStore(t)

	w := do(t, newRouter(s), http.MethodGet, "/api/categories", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t,
		[]string{"Electronics", "Sports", "Health", "Books", "Home", "Fashion"},
		decode[[]string](t, w))
}

func TestCartFlow(t *testing.T) {
	s, items := newSeededStore(t)
	router := newRouter(s)
	phone := items[0]

	w := do(t, router, http.MethodGet, "/api/cart?user_id=u1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"items":[],"total":0}`, w.Body.String())

	w = do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"user_id": "u1", "item_id": phone.ID, "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Item added to cart"}`, w.Body.String())

	w = do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"user_id": "u1", "item_id": phone.ID, "quantity": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	cart := decode[struct {
		Items []struct {
			ID       string  `json:"id"`
			Name     string  `json:"name"`
			Price    float64 `json:"price"`
			Quantity int     `json:"quantity"`
		} `json:"items"`
		Total float64 `json:"total"`
	}](t, do(t, router, http.MethodGet, "/api/cart?user_id=u1", nil, nil))
	require.Len(t, cart.Items, 1)
	assert.Equal(t, phone.ID, cart.Items[0].ID)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.InDelta(t, 1799.97, cart.Total, 1e-9)

	w = do(t, router, http.MethodPost, "/api/cart/remove", map[string]any{"user_id": "u1", "item_id": phone.ID}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Item removed from cart"}`, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/cart?user_id=u1", nil, nil)
	assert.JSONEq(t, `{"items":[],"total":0}`, w.Body.String())
}

func TestCartErrors(t *testing.T) {
	s, items := newSeededStore(t)
	router := newRouter(s)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		want   string
	}{
		{
			name:   "unknown item",
			method: http.MethodPost,
			path:   "/api/cart/add",
			body:   map[string]any{"user_id": "u1", "item_id": "missing", "quantity": 1},
			status: http.StatusNotFound,
			want:   `{"error":"Item not found"}`,
		},
		{
			name:   "unknown item wins over bad quantity",
			method: http.MethodPost,
			path:   "/api/cart/add",
			body:   map[string]any{"user_id": "u1", "item_id": "missing", "quantity": 0},
			status: http.StatusNotFound,
			want:   `{"error":"Item not found"}`,
		},
		{
			name:   "non-positive quantity",
			method: http.MethodPost,
			path:   "/api/cart/add",
			body:   map[string]any{"user_id": "u1", "item_id": items[0].ID, "quantity": -1},
			status: http.StatusBadRequest,
			want:   `{"error":"quantity must be greater than zero"}`,
		},
		{
			name:   "missing user id on read",
			method: http.MethodGet,
			path:   "/api/cart",
			status: http.StatusBadRequest,
			want:   `{"error":"user_id is required"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}

	w := do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"item_id": items[0].ID}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, s.GetOrCreateCart("u1").Items)
}

func TestCheckout_ScenarioA(t *testing.T) {
	s := store.New(store.WithLogger(quietLogger()))
	item := domain.NewItem("Item", decimal.RequireFromString("100.00"), "", "Misc")
	require.NoError(t, s.AddItem(item))
	router := newRouter(s)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1"}, nil).Code)
	}
	stats := decode[map[string]any](t, do(t, router, http.MethodGet, "/api/admin/stats", nil, nil))
	assert.Equal(t, []any{"DISCOUNT1"}, stats["discount_codes"])

	for i := 0; i < 4; i++ {
		do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1", "discount_code": ""}, nil)
	}

	do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"user_id": "u1", "item_id": item.ID, "quantity": 1}, nil)
	w := do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1", "discount_code": "DISCOUNT1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[checkoutBody](t, w)
	assert.NotEmpty(t, resp.OrderID)
	assert.InDelta(t, 90.0, resp.Total, 1e-9)
	assert.InDelta(t, 10.0, resp.DiscountAmount, 1e-9)
	assert.True(t, resp.DiscountStatus.Status)
	assert.Equal(t, "DISCOUNT1", resp.DiscountStatus.Message)

	stats = decode[map[string]any](t, do(t, router, http.MethodGet, "/api/admin/stats", nil, nil))
	assert.EqualValues(t, 10, stats["order_count"])
	assert.EqualValues(t, 1, stats["total_items"])
	assert.InDelta(t, 90.0, stats["total_amount"], 1e-9)
	assert.InDelta(t, 10.0, stats["total_discount"], 1e-9)
	assert.Equal(t, []any{"DISCOUNT1", "DISCOUNT2"}, stats["discount_codes"])
}

func TestCheckout_ScenarioB(t *testing.T) {
	s := store.New(store.WithLogger(quietLogger()))
	item := domain.NewItem("Item", decimal.RequireFromString("100.00"), "", "Misc")
	require.NoError(t, s.AddItem(item))
	router := newRouter(s)

	for i := 0; i < 4; i++ {
		do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1"}, nil)
	}
	do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"user_id": "u1", "item_id": item.ID, "quantity": 1}, nil)

	resp := decode[checkoutBody](t, do(t, router, http.MethodPost, "/api/checkout",
		map[string]any{"user_id": "u1", "discount_code": "INVALID_CODE"}, nil))
	assert.InDelta(t, 100.0, resp.Total, 1e-9)
	assert.Zero(t, resp.DiscountAmount)
	assert.False(t, resp.DiscountStatus.Status)
	assert.Equal(t, "Invalid discount code.", resp.DiscountStatus.Message)
}

func TestCheckout_DiscountCodeIsNotTrimmed(t *testing.T) {
	s := store.New(store.WithLogger(quietLogger()), store.WithDiscountInterval(2))
	item := domain.NewItem("Item", decimal.RequireFromString("100.00"), "", "Misc")
	require.NoError(t, s.AddItem(item))
	router := newRouter(s)

	checkout := func(code string) checkoutBody {
		t.Helper()
		w := do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1", "discount_code": code}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		return decode[checkoutBody](t, w)
	}

	// Заказы 1 и 2 выдают DISCOUNT1.
	checkout("")
	checkout("")

	// Заказ 3 вне окна: пробельный код считается переданным.
	resp := checkout("   ")
	assert.False(t, resp.DiscountStatus.Status)
	assert.Equal(t, "Discount code cannot be applied right now.", resp.DiscountStatus.Message)

	// Заказ 4 в окне: код с пробелами не совпадает с выданным.
	resp = checkout(" DISCOUNT1 ")
	assert.False(t, resp.DiscountStatus.Status)
	assert.Equal(t, "Invalid discount code.", resp.DiscountStatus.Message)

	// Заказ 6 в окне: DISCOUNT1 не был израсходован.
	checkout("")
	do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"user_id": "u1", "item_id": item.ID, "quantity": 1}, nil)
	resp = checkout("DISCOUNT1")
	assert.True(t, resp.DiscountStatus.Status)
	assert.Equal(t, "DISCOUNT1", resp.DiscountStatus.Message)
	assert.InDelta(t, 90.0, resp.Total, 1e-9)
}

func TestCheckout_WithoutCodeAndOutsideWindow(t *testing.T) {
	s, _ := newSeededStore(t)
	router := newRouter(s)

	resp := decode[checkoutBody](t, do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1"}, nil))
	assert.False(t, resp.DiscountStatus.Status)
	assert.Equal(t, "No discount code applied.", resp.DiscountStatus.Message)

	resp = decode[checkoutBody](t, do(t, router, http.MethodPost, "/api/checkout",
		map[string]any{"user_id": "u1", "discount_code": "DISCOUNT1"}, nil))
	assert.Equal(t, "Discount code cannot be applied right now.", resp.DiscountStatus.Message)

	w := do(t, router, http.MethodPost, "/api/checkout", map[string]any{"discount_code": "X"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, s.OrderCount())
}

func TestCheckout_Idempotency(t *testing.T) {
	s, items := newSeededStore(t)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, quietLogger())
	router := newRouter(s, httpapi.WithIdempotency(guard, false))

	require.NoError(t, s.AddToCart("u1", items[0].ID, 1))
	headers := map[string]string{httpapi.IdempotencyKeyHeader: "checkout-1"}
	body := map[string]any{"user_id": "u1"}

	first := do(t, router, http.MethodPost, "/api/checkout", body, headers)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := do(t, router, http.MethodPost, "/api/checkout", body, headers)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, s.OrderCount())

	conflict := do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u2"}, headers)
	assert.Equal(t, http.StatusUnprocessableEntity, conflict.Code)

	// Без заголовка checkout выполняется как обычно.
	plain := do(t, router, http.MethodPost, "/api/checkout", body, nil)
	assert.Equal(t, http.StatusOK, plain.Code)
	assert.Equal(t, 2, s.OrderCount())
}

func TestCheckout_IdempotencyKeyRequired(t *testing.T) {
	s, _ := newSeededStore(t)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, quietLogger())
	router := newRouter(s, httpapi.WithIdempotency(guard, true))

	w := do(t, router, http.MethodPost, "/api/checkout", map[string]any{"user_id": "u1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, s.OrderCount())

	failed := do(t, router, http.MethodPost, "/api/checkout", map[string]any{}, map[string]string{httpapi.IdempotencyKeyHeader: "k"})
	assert.Equal(t, http.StatusBadRequest, failed.Code)
	replayed := do(t, router, http.MethodPost, "/api/checkout", map[string]any{}, map[string]string{httpapi.IdempotencyKeyHeader: "k"})
	assert.Equal(t, http.StatusBadRequest, replayed.Code)
	assert.Equal(t, "true", replayed.Header().Get("Idempotent-Replayed"))
}

func TestAdminEndpoints(t *testing.T) {
	s, _ := newSeededStore(t)
	router := newRouter(s)

	w := do(t, router, http.MethodPost, "/api/admin/generate-discount", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Discount code generated","code":"DISCOUNT1"}`, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/admin/discount-codes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"code":"DISCOUNT1","percentage":0.1,"used":false}]`, w.Body.String())

	w = do(t, router, http.MethodGet, "/api/admin/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"total_items":0,"total_amount":0,"discount_codes":["DISCOUNT1"],"total_discount":0,"order_count":0}`,
		w.Body.String())
}

func TestListOrders(t *testing.T) {
	s, items := newSeededStore(t)
	router := newRouter(s)

	require.NoError(t, s.AddToCart("u1", items[1].ID, 2))
	s.CreateOrder("u1", "")
	s.CreateOrder("u2", "")

	orders := decode[[]map[string]any](t, do(t, router, http.MethodGet, "/api/orders?user_id=u1", nil, nil))
	require.Len(t, orders, 1)
	assert.Equal(t, "u1", orders[0]["user_id"])
	assert.Len(t, orders[0]["items"], 1)

	all := decode[[]map[string]any](t, do(t, router, http.MethodGet, "/api/orders", nil, nil))
	assert.Len(t, all, 2)
}

func TestCORS_AllowsAnyOrigin(t *testing.T) {
	s, _ := newSeededStore(t)
	router := newRouter(s)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLoggingAndMetrics(t *testing.T) {
	s, _ := newSeededStore(t)
	logger, hook := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()
	router := httpapi.NewHandler(s,
		httpapi.WithLogger(logrus.NewEntry(logger)),
		httpapi.WithMetrics(metrics.NewHTTPMetrics(reg)),
	).Router()

	do(t, router, http.MethodGet, "/api/items", nil, nil)
	do(t, router, http.MethodPost, "/api/cart/add", map[string]any{"user_id": "u1", "item_id": "missing", "quantity": 1}, nil)

	count, err := testutil.GatherAndCount(reg, "storefront_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "http request rejected", entry.Message)
	assert.Equal(t, "/api/cart/add", entry.Data["route"])
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
}
