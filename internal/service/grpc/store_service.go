// Package grpcsvc реализует gRPC API магазина.
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const idempotencyKeyHeader = "idempotency-key"

// Store: операции магазина, доступные через gRPC.
type Store interface {
	ListItems(category string) []domain.Item
	Categories() []string
	GetOrCreateCart(userID string) domain.Cart
	AddToCart(userID, itemID string, quantity int) error
	RemoveFromCart(userID, itemID string)
	CreateOrder(userID, discountCode string) domain.Order
	Orders(userID string) []domain.Order
	GenerateDiscountCode() domain.DiscountCode
	Stats() domain.Stats
}

// StoreService реализует StoreServiceServer поверх Store.
type StoreService struct {
	store  Store
	guard  *idempotency.Guard
	logger *log.Entry
}

var _ StoreServiceServer = (*StoreService)(nil)

// NewStoreService конструирует сервис. Если guard задан, Checkout требует metadata idempotency-key.
func NewStoreService(store Store, guard *idempotency.Guard, logger *log.Entry) *StoreService {
	if logger == nil {
		logger = log.WithField("component", "store-service")
	}
	return &StoreService{store: store, guard: guard, logger: logger}
}

// ListItems возвращает каталог, опционально отфильтрованный по category.
func (s *StoreService) ListItems(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	items := s.store.ListItems(stringField(req, "category"))

	list := make([]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{
			"id":          item.ID,
			"name":        item.Name,
			"price":       item.Price.InexactFloat64(),
			"description": item.Description,
			"category":    item.Category,
		})
	}
	return newStruct(map[string]any{"items": list})
}

// ListCategories возвращает различные категории каталога.
func (s *StoreService) ListCategories(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	categories := s.store.Categories()
	list := make([]any, 0, len(categories))
	for _, category := range categories {
		list = append(list, category)
	}
	return newStruct(map[string]any{"categories": list})
}

// GetCart возвращает корзину пользователя.
func (s *StoreService) GetCart(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requiredString(req, "user_id", domain.ErrUserIDRequired)
	if err != nil {
		return nil, err
	}
	cart := s.store.GetOrCreateCart(userID)
	return newStruct(map[string]any{
		"user_id": userID,
		"items":   cartLines(cart.Items),
		"total":   money(cart.Total()),
	})
}

// AddToCart добавляет товар в корзину.
func (s *StoreService) AddToCart(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requiredString(req, "user_id", domain.ErrUserIDRequired)
	if err != nil {
		return nil, err
	}
	itemID, err := requiredString(req, "item_id", domain.ErrItemIDRequired)
	if err != nil {
		return nil, err
	}
	quantity, err := intField(req, "quantity")
	if err != nil {
		return nil, err
	}

	if err := s.store.AddToCart(userID, itemID, quantity); err != nil {
		return nil, mapDomainError(err)
	}
	return newStruct(map[string]any{"message": "Item added to cart"})
}

// RemoveFromCart удаляет товар из корзины.
func (s *StoreService) RemoveFromCart(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requiredString(req, "user_id", domain.ErrUserIDRequired)
	if err != nil {
		return nil, err
	}
	itemID, err := requiredString(req, "item_id", domain.ErrItemIDRequired)
	if err != nil {
		return nil, err
	}

	s.store.RemoveFromCart(userID, itemID)
	return newStruct(map[string]any{"message": "Item removed from cart"})
}

// Checkout оформляет заказ. При включённой идемпотентности повтор с тем же ключом возвращает первый ответ.
func (s *StoreService) Checkout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.guard == nil {
		return s.checkout(req)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}
	hash, err := buildIdempotencyRequestHash(MethodCheckout, req)
	if err != nil {
		s.logger.WithError(err).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	outcome, err := s.guard.Execute(key, hash, func() idempotency.Outcome {
		resp, runErr := s.checkout(req)
		if runErr != nil {
			return failureOutcome(runErr)
		}
		body, marshalErr := protojson.Marshal(resp)
		if marshalErr != nil {
			return failureOutcome(status.Error(codes.Internal, "failed to encode response"))
		}
		return idempotency.Outcome{Body: body, Code: int(codes.OK)}
	})
	if err != nil {
		return nil, mapIdempotencyError(err)
	}
	if outcome.Failed {
		return nil, decodeFailure(outcome)
	}

	resp := new(structpb.Struct)
	if err := protojson.Unmarshal(outcome.Body, resp); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	if outcome.Replayed {
		s.logger.WithField("idempotency_key", key).Debug("checkout replayed")
	}
	return resp, nil
}

func (s *StoreService) checkout(req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requiredString(req, "user_id", domain.ErrUserIDRequired)
	if err != nil {
		return nil, err
	}

	order := s.store.CreateOrder(userID, req.GetFields()["discount_code"].GetStringValue())
	return newStruct(map[string]any{
		"order_id":        order.ID,
		"total":           money(order.Total),
		"discount_amount": money(order.DiscountAmount),
		"discount_status": discountStatus(order.DiscountStatus),
	})
}

// ListOrders возвращает историю заказов пользователя или все заказы.
func (s *StoreService) ListOrders(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orders := s.store.Orders(stringField(req, "user_id"))

	list := make([]any, 0, len(orders))
	for _, order := range orders {
		list = append(list, map[string]any{
			"order_id":        order.ID,
			"user_id":         order.UserID,
			"items":           cartLines(order.Items),
			"total":           money(order.Total),
			"discount_code":   order.DiscountCode,
			"discount_amount": money(order.DiscountAmount),
			"discount_status": discountStatus(order.DiscountStatus),
			"created_at":      order.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return newStruct(map[string]any{"orders": list})
}

// GenerateDiscount выдаёт новый код скидки вручную.
func (s *StoreService) GenerateDiscount(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	code := s.store.GenerateDiscountCode()
	return newStruct(map[string]any{
		"message": "Discount code generated",
		"code":    code.Code,
	})
}

// GetStats возвращает статистику магазина.
func (s *StoreService) GetStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats := s.store.Stats()
	codes := make([]any, 0, len(stats.DiscountCodes))
	for _, code := range stats.DiscountCodes {
		codes = append(codes, code)
	}
	return newStruct(map[string]any{
		"total_items":    stats.TotalItems,
		"total_amount":   money(stats.TotalAmount),
		"discount_codes": codes,
		"total_discount": money(stats.TotalDiscount),
		"order_count":    stats.OrderCount,
	})
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func cartLines(items []domain.CartItem) []any {
	lines := make([]any, 0, len(items))
	for _, line := range items {
		if line.Item == nil {
			continue
		}
		lines = append(lines, map[string]any{
			"id":       line.Item.ID,
			"name":     line.Item.Name,
			"price":    line.Item.Price.InexactFloat64(),
			"quantity": line.Quantity,
		})
	}
	return lines
}

func discountStatus(st domain.DiscountStatus) map[string]any {
	return map[string]any{"status": st.Applied, "message": st.Message}
}

func stringField(req *structpb.Struct, name string) string {
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

func requiredString(req *structpb.Struct, name string, missing error) (string, error) {
	value := stringField(req, name)
	if value == "" {
		return "", status.Error(codes.InvalidArgument, missing.Error())
	}
	return value, nil
}

// intField читает целое число; отсутствие поля даёт 0.
func intField(req *structpb.Struct, name string) (int, error) {
	value, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok || number.NumberValue != math.Trunc(number.NumberValue) ||
		math.Abs(number.NumberValue) > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int(number.NumberValue), nil
}

func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return status.Error(codes.NotFound, "Item not found")
	case domain.IsClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func mapIdempotencyError(err error) error {
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
	case errors.Is(err, idempotency.ErrInProgress):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, "failed to process idempotent request")
	}
}

type failurePayload struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

func failureOutcome(runErr error) idempotency.Outcome {
	st := status.Convert(runErr)
	code := st.Code()
	if code == codes.OK {
		code = codes.Internal
	}
	body, _ := json.Marshal(failurePayload{Code: int32(code), Message: st.Message()}) //nolint:gosec // codes.Code ограничен enum.
	return idempotency.Outcome{Body: body, Code: int(code), Failed: true}
}

func decodeFailure(outcome idempotency.Outcome) error {
	var payload failurePayload
	if err := json.Unmarshal(outcome.Body, &payload); err == nil && payload.Code > 0 && payload.Code <= int32(codes.Unauthenticated) {
		return status.Error(codes.Code(uint32(payload.Code)), payload.Message)
	}
	return status.Error(codes.Internal, "previous request with the same idempotency key failed")
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}
	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}

func buildIdempotencyRequestHash(method string, req proto.Message) (string, error) {
	if req == nil {
		return "", errors.New("request is nil")
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", err
	}
	return idempotency.HashRequest(method, data), nil
}
