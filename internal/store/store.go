package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultDiscountInterval: через сколько оформленных заказов выдаётся новый код скидки.
const DefaultDiscountInterval = 5

// Options задаёт параметры Store.
type Options struct {
	DiscountInterval int
	Logger           *log.Entry
	Metrics          *metrics.StoreMetrics
	EventSink        domain.EventSink
	Clock            func() time.Time
}

// Option настраивает Store.
type Option func(*Options)

// WithDiscountInterval задаёт интервал автоматической выдачи кодов (n).
func WithDiscountInterval(n int) Option {
	return func(opts *Options) {
		opts.DiscountInterval = n
	}
}

// WithLogger задаёт logger для Store.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики Store.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithEventSink задаёт получателя доменных событий.
func WithEventSink(sink domain.EventSink) Option {
	return func(opts *Options) {
		opts.EventSink = sink
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Store: агрегат магазина: каталог, корзины, история заказов и реестр кодов скидок.
// Единственный владелец глобального состояния; все операции сериализуются мьютексом.
type Store struct {
	mu sync.Mutex

	items     map[string]*domain.Item
	itemOrder []string
	carts     map[string]*domain.Cart
	orders    []domain.Order
	codes     []domain.DiscountCode
	// orderCount монотонно растёт и равен len(orders).
	orderCount int
	interval   int

	logger  *log.Entry
	metrics *metrics.StoreMetrics
	sink    domain.EventSink
	now     func() time.Time
}

// New создаёт пустой Store.
func New(options ...Option) *Store {
	opts := Options{DiscountInterval: DefaultDiscountInterval}
	for _, option := range options {
		option(&opts)
	}

	if opts.DiscountInterval <= 0 {
		opts.DiscountInterval = DefaultDiscountInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "store")
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Store{
		items:    make(map[string]*domain.Item),
		carts:    make(map[string]*domain.Cart),
		interval: opts.DiscountInterval,
		logger:   logger,
		metrics:  opts.Metrics,
		sink:     opts.EventSink,
		now:      clock,
	}
}

// DiscountInterval возвращает интервал n выдачи кодов скидки.
func (s *Store) DiscountInterval() int {
	return s.interval
}

// AddItem добавляет позицию в каталог. Позиция с тем же id перезаписывается.
func (s *Store) AddItem(item *domain.Item) error {
	if item == nil {
		return domain.ErrItemNotFound
	}
	if errs := item.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid item %q: %w", item.Name, errs[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; !exists {
		s.itemOrder = append(s.itemOrder, item.ID)
	}
	s.items[item.ID] = item
	return nil
}

// Item возвращает позицию каталога или ErrItemNotFound.
func (s *Store) Item(id string) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return *item, nil
}

// ListItems возвращает позиции каталога в порядке добавления.
// Непустой category фильтрует по точному совпадению без учёта регистра.
func (s *Store) ListItems(category string) []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		item := s.items[id]
		if category != "" && !strings.EqualFold(item.Category, category) {
			continue
		}
		result = append(result, *item)
	}
	return result
}

// Categories возвращает отсортированный список различных категорий каталога.
func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.items))
	result := make([]string, 0)
	for _, item := range s.items {
		if _, ok := seen[item.Category]; ok {
			continue
		}
		seen[item.Category] = struct{}{}
		result = append(result, item.Category)
	}
	sort.Strings(result)
	return result
}

// GetOrCreateCart возвращает копию корзины пользователя, создавая пустую при первом обращении.
func (s *Store) GetOrCreateCart(userID string) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(userID)
	return domain.Cart{UserID: cart.UserID, Items: cart.Snapshot()}
}

// AddToCart добавляет товар из каталога в корзину пользователя.
func (s *Store) AddToCart(userID, itemID string, quantity int) error {
	s.mu.Lock()
	err := domain.ErrItemNotFound
	if item, ok := s.items[itemID]; ok {
		err = s.cartLocked(userID).Add(item, quantity)
	}
	carts := len(s.carts)
	s.mu.Unlock()

	s.metrics.RecordCartOperation("add", err)
	s.metrics.SetCarts(carts)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id": userID,
			"item_id": itemID,
		}).Debug("add to cart rejected")
		return err
	}

	s.emit(cartEvent(domain.EventCartItemAdded, userID, itemID, quantity, s.now()))
	return nil
}

// RemoveFromCart удаляет позицию из корзины. Отсутствие позиции не считается ошибкой.
func (s *Store) RemoveFromCart(userID, itemID string) {
	s.mu.Lock()
	removed := s.cartLocked(userID).Remove(itemID)
	carts := len(s.carts)
	s.mu.Unlock()

	s.metrics.RecordCartOperation("remove", nil)
	s.metrics.SetCarts(carts)
	if removed {
		s.emit(cartEvent(domain.EventCartItemRemoved, userID, itemID, 0, s.now()))
	}
}

// ClearCart очищает корзину пользователя.
func (s *Store) ClearCart(userID string) {
	s.mu.Lock()
	s.cartLocked(userID).Clear()
	s.mu.Unlock()

	s.metrics.RecordCartOperation("clear", nil)
}

// CreateOrder оформляет заказ из корзины пользователя.
// Непустой discountCode проверяется по правилу окна погашения; отказ отражается в DiscountStatus.
func (s *Store) CreateOrder(userID, discountCode string) domain.Order {
	started := time.Now()

	s.mu.Lock()
	cart := s.cartLocked(userID)
	order := domain.NewOrder(cart, s.now())

	events := make([]domain.Event, 0, 3)
	redemption := ""
	if discountCode != "" {
		redemption = s.applyDiscountLocked(&order, discountCode)
		events = append(events, discountOutcomeEvent(order, discountCode, redemption))
	}

	s.orders = append(s.orders, order)
	s.orderCount++
	count := s.orderCount
	events = append(events, orderCreatedEvent(order, count))

	var issued *domain.DiscountCode
	if s.orderCount%s.interval == 0 {
		code := s.generateDiscountCodeLocked()
		issued = &code
		events = append(events, discountIssuedEvent(code, metrics.IssueSourceAuto, order.CreatedAt))
	}

	cart.Clear()
	unused := s.unusedCodesLocked()
	result := cloneOrder(order)
	s.mu.Unlock()

	s.metrics.RecordOrderCreated(result.Total)
	s.metrics.RecordCheckoutDuration(time.Since(started))
	if redemption != "" {
		s.metrics.RecordRedemption(redemption, result.DiscountAmount)
	}
	if issued != nil {
		s.metrics.RecordCodeIssued(metrics.IssueSourceAuto)
	}
	s.metrics.SetUnusedCodes(unused)

	entry := s.logger.WithFields(log.Fields{
		"order_id":    result.ID,
		"user_id":     result.UserID,
		"total":       result.Total.StringFixed(2),
		"order_count": count,
	})
	if discountCode != "" {
		entry = entry.WithFields(log.Fields{
			"discount_applied": result.DiscountStatus.Applied,
			"discount_message": result.DiscountStatus.Message,
		})
	}
	entry.Info("order created")
	if issued != nil {
		s.logger.WithField("code", issued.Code).Info("discount code issued")
	}

	s.emit(events...)
	return result
}

// Order возвращает заказ по идентификатору.
func (s *Store) Order(id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range s.orders {
		if order.ID == id {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// Orders возвращает историю заказов в порядке оформления; пустой userID означает все заказы.
func (s *Store) Orders(userID string) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if userID != "" && order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	return result
}

// OrderCount возвращает количество оформленных заказов.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderCount
}

func (s *Store) cartLocked(userID string) *domain.Cart {
	cart, ok := s.carts[userID]
	if !ok {
		cart = domain.NewCart(userID)
		s.carts[userID] = cart
	}
	return cart
}

func (s *Store) emit(events ...domain.Event) {
	if s.sink == nil || len(events) == 0 {
		return
	}
	if err := s.sink.Record(events); err != nil {
		s.logger.WithError(err).WithField("events", len(events)).Warn("failed to record store events")
	}
}

func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.CartItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}
