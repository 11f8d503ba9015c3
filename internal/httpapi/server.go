// Package httpapi реализует REST API магазина поверх gin.
package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

// IdempotencyKeyHeader: заголовок с ключом идемпотентности checkout.
const IdempotencyKeyHeader = "Idempotency-Key"

// Store: операции магазина, доступные через REST.
type Store interface {
	ListItems(category string) []domain.Item
	Categories() []string
	GetOrCreateCart(userID string) domain.Cart
	AddToCart(userID, itemID string, quantity int) error
	RemoveFromCart(userID, itemID string)
	CreateOrder(userID, discountCode string) domain.Order
	Orders(userID string) []domain.Order
	GenerateDiscountCode() domain.DiscountCode
	DiscountCodes() []domain.DiscountCode
	Stats() domain.Stats
}

// Options задаёт зависимости REST API.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.HTTPMetrics
	// Guard включает идемпотентный checkout. Без него заголовок Idempotency-Key игнорируется.
	Guard *idempotency.Guard
	// RequireIdempotencyKey делает заголовок обязательным для checkout.
	RequireIdempotencyKey bool
	AllowOrigins          []string
}

// Option настраивает REST API.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт HTTP-метрики.
func WithMetrics(m *metrics.HTTPMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithIdempotency включает идемпотентный checkout.
func WithIdempotency(guard *idempotency.Guard, required bool) Option {
	return func(opts *Options) {
		opts.Guard = guard
		opts.RequireIdempotencyKey = required
	}
}

// WithAllowOrigins ограничивает CORS списком origin. По умолчанию разрешены все.
func WithAllowOrigins(origins ...string) Option {
	return func(opts *Options) { opts.AllowOrigins = origins }
}

// Handler обслуживает REST-маршруты магазина.
type Handler struct {
	store                 Store
	guard                 *idempotency.Guard
	requireIdempotencyKey bool
	logger                *log.Entry
	metrics               *metrics.HTTPMetrics
	allowOrigins          []string
}

// NewHandler создаёт обработчик REST API.
func NewHandler(store Store, options ...Option) *Handler {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("layer", "http")
	}
	return &Handler{
		store:                 store,
		guard:                 opts.Guard,
		requireIdempotencyKey: opts.RequireIdempotencyKey && opts.Guard != nil,
		logger:                logger,
		metrics:               opts.Metrics,
		allowOrigins:          opts.AllowOrigins,
	}
}

// Router собирает gin.Engine со всеми маршрутами и middleware.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(h.requestLogger())
	router.Use(h.corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/items", h.listItems)
		api.GET("/categories", h.listCategories)

		api.GET("/cart", h.getCart)
		api.POST("/cart/add", h.addToCart)
		api.POST("/cart/remove", h.removeFromCart)

		api.POST("/checkout", h.checkout)
		api.GET("/orders", h.listOrders)

		admin := api.Group("/admin")
		admin.POST("/generate-discount", h.generateDiscount)
		admin.GET("/discount-codes", h.listDiscountCodes)
		admin.GET("/stats", h.stats)
	}

	return router
}

func (h *Handler) corsMiddleware() gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(h.allowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = h.allowOrigins
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, IdempotencyKeyHeader)
	cfg.MaxAge = 12 * time.Hour
	return cors.New(cfg)
}

// requestLogger пишет структурированный лог и метрики каждого запроса.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		duration := time.Since(started)
		status := c.Writer.Status()
		route := c.FullPath()
		h.metrics.Observe(c.Request.Method, route, status, duration)

		entry := h.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       route,
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			entry.Error("http request failed")
		case status >= 400:
			entry.Info("http request rejected")
		default:
			entry.Debug("http request served")
		}
	}
}
