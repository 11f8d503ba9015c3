package store_test

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/store"
)

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingSink) Record(events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return r.err
}

func (r *recordingSink) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	base := []store.Option{
		store.WithLogger(loggerForTests()),
		store.WithMetrics(metrics.NewStoreMetricsWithRegisterer(prometheus.NewRegistry())),
	}
	return store.New(append(base, opts...)...)
}

func addItem(t *testing.T, s *store.Store, name, price, category string) *domain.Item {
	t.Helper()
	item := domain.NewItem(name, decimal.RequireFromString(price), name+" description", category)
	require.NoError(t, s.AddItem(item))
	return item
}

// placePlainOrders оформляет n заказов с пустой корзиной без кода скидки.
func placePlainOrders(s *store.Store, userID string, n int) {
	for i := 0; i < n; i++ {
		s.CreateOrder(userID, "")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	assert.Equal(t, store.DefaultDiscountInterval, store.New().DiscountInterval())
	assert.Equal(t, store.DefaultDiscountInterval, store.New(store.WithDiscountInterval(0)).DiscountInterval())
	assert.Equal(t, 3, store.New(store.WithDiscountInterval(3)).DiscountInterval())
}

func TestAddItem_OverwritesById(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Novel", "14.99", "Books")

	replacement := *item
	replacement.Name = "Novel (2nd edition)"
	require.NoError(t, s.AddItem(&replacement))

	items := s.ListItems("")
	require.Len(t, items, 1)
	assert.Equal(t, "Novel (2nd edition)", items[0].Name)

	require.Error(t, s.AddItem(nil))
	require.Error(t, s.AddItem(&domain.Item{ID: "x", Price: decimal.NewFromInt(-1)}))
}

func TestListItems_FilterByCategory(t *testing.T) {
	s := newStore(t)
	phone := addItem(t, s, "Smartphone", "599.99", "Electronics")
	addItem(t, s, "Yoga Mat", "29.99", "Sports")
	laptop := addItem(t, s, "Laptop", "999.99", "Electronics")

	all := s.ListItems("")
	require.Len(t, all, 3)
	assert.Equal(t, phone.ID, all[0].ID, "items keep insertion order")

	electronics := s.ListItems("electronics")
	require.Len(t, electronics, 2)
	assert.Equal(t, phone.ID, electronics[0].ID)
	assert.Equal(t, laptop.ID, electronics[1].ID)

	assert.Empty(t, s.ListItems("Electr"), "category match is exact")
	assert.Equal(t, []string{"Electronics", "Sports"}, s.Categories())
}

func TestItemLookup(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Blender", "49.99", "Home")

	got, err := s.Item(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Blender", got.Name)

	_, err = s.Item("missing")
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestGetOrCreateCart_IsLazyAndIdempotent(t *testing.T) {
	s := newStore(t)

	cart := s.GetOrCreateCart("user-1")
	assert.Equal(t, "user-1", cart.UserID)
	assert.Equal(t, 0, cart.Len())

	item := addItem(t, s, "Novel", "14.99", "Books")
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))

	again := s.GetOrCreateCart("user-1")
	assert.Equal(t, 1, again.Len())
	assert.Equal(t, 0, cart.Len(), "returned cart is a snapshot")
}

func TestAddToCart_MergesQuantities(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Cookbook", "24.99", "Books")

	require.NoError(t, s.AddToCart("user-1", item.ID, 2))
	require.NoError(t, s.AddToCart("user-1", item.ID, 3))

	cart := s.GetOrCreateCart("user-1")
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("124.95")))
}

func TestAddToCart_Errors(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Cookbook", "24.99", "Books")
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))

	err := s.AddToCart("user-1", "unknown", 1)
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	err = s.AddToCart("user-1", item.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	err = s.AddToCart("user-1", item.ID, -3)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)

	cart := s.GetOrCreateCart("user-1")
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 1, cart.Items[0].Quantity, "failed adds must not mutate the cart")
}

func TestRemoveAndClearCart(t *testing.T) {
	s := newStore(t)
	a := addItem(t, s, "Novel", "14.99", "Books")
	b := addItem(t, s, "Backpack", "59.99", "Fashion")
	require.NoError(t, s.AddToCart("user-1", a.ID, 1))
	require.NoError(t, s.AddToCart("user-1", b.ID, 1))

	s.RemoveFromCart("user-1", a.ID)
	s.RemoveFromCart("user-1", "missing")
	cart := s.GetOrCreateCart("user-1")
	require.Len(t, cart.Items, 1)
	assert.Equal(t, b.ID, cart.Items[0].Item.ID)

	s.ClearCart("user-1")
	cart = s.GetOrCreateCart("user-1")
	assert.Equal(t, 0, cart.Len())
	assert.True(t, cart.Total().IsZero())
}

func TestCartTotal_UsesLivePriceUntilCheckout(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Coffee Maker", "79.99", "Home")
	require.NoError(t, s.AddToCart("user-1", item.ID, 2))

	cart := s.GetOrCreateCart("user-1")
	assert.True(t, cart.Total().Equal(decimal.RequireFromString("159.98")))
	assert.Same(t, item, cart.Items[0].Item, "cart entries reference the catalog item")
}

func TestCreateOrder_SnapshotsAndClearsCart(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Laptop", "999.99", "Electronics")
	require.NoError(t, s.AddToCart("user-1", item.ID, 2))

	order := s.CreateOrder("user-1", "")

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, 2, order.ItemsCount())
	assert.True(t, order.Total.Equal(decimal.RequireFromString("1999.98")))
	assert.Equal(t, domain.NoDiscount(), order.DiscountStatus)
	assert.True(t, order.DiscountAmount.IsZero())
	assert.Empty(t, order.ValidateInvariants())

	cart := s.GetOrCreateCart("user-1")
	assert.Equal(t, 0, cart.Len(), "cart is cleared after checkout")
	assert.Equal(t, 1, s.OrderCount())
}

func TestCreateOrder_IsImmutableAfterCartChanges(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Novel", "14.99", "Books")
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))

	order := s.CreateOrder("user-1", "")
	require.NoError(t, s.AddToCart("user-1", item.ID, 7))

	// Возвращённая копия не должна влиять на историю.
	order.Items[0].Quantity = 100

	stored, err := s.Order(order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 1, stored.Items[0].Quantity)
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("14.99")))

	_, err = s.Order("missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestIssuanceCadence(t *testing.T) {
	s := newStore(t)

	placePlainOrders(s, "user-1", 4)
	assert.Empty(t, s.DiscountCodes())

	placePlainOrders(s, "user-1", 1)
	codes := s.DiscountCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, "DISCOUNT1", codes[0].Code)
	assert.False(t, codes[0].Used)
	assert.True(t, codes[0].Percentage.Equal(decimal.RequireFromString("0.1")))

	placePlainOrders(s, "user-1", 5)
	codes = s.DiscountCodes()
	require.Len(t, codes, 2)
	assert.Equal(t, "DISCOUNT2", codes[1].Code)
	assert.Equal(t, 10, s.OrderCount())
}

func TestIssuanceCadence_CustomInterval(t *testing.T) {
	s := newStore(t, store.WithDiscountInterval(3))

	placePlainOrders(s, "user-1", 9)
	codes := s.DiscountCodes()
	require.Len(t, codes, 3)
	assert.Equal(t, "DISCOUNT3", codes[2].Code)
}

func TestGenerateDiscountCode_AppendsSequentialCodes(t *testing.T) {
	s := newStore(t)

	first := s.GenerateDiscountCode()
	second := s.GenerateDiscountCode()
	assert.Equal(t, "DISCOUNT1", first.Code)
	assert.Equal(t, "DISCOUNT2", second.Code)

	// Автоматическая выдача продолжает ту же нумерацию.
	placePlainOrders(s, "user-1", 5)
	codes := s.DiscountCodes()
	require.Len(t, codes, 3)
	assert.Equal(t, "DISCOUNT3", codes[2].Code)
}

func TestRedemptionWindow(t *testing.T) {
	for pre := 0; pre < 15; pre++ {
		eligible := pre > 1 && (pre+1)%5 == 0

		s := newStore(t)
		s.GenerateDiscountCode()
		item := addItem(t, s, "Item", "100.00", "Misc")
		placePlainOrders(s, "filler", pre)
		require.NoError(t, s.AddToCart("user-1", item.ID, 1))

		order := s.CreateOrder("user-1", "DISCOUNT1")

		if eligible {
			assert.True(t, order.DiscountStatus.Applied, "counter %d must be eligible", pre)
			assert.True(t, order.Total.Equal(decimal.NewFromInt(90)), "counter %d", pre)
			continue
		}
		assert.False(t, order.DiscountStatus.Applied, "counter %d must not be eligible", pre)
		assert.Equal(t, domain.DiscountMessageUnavailable, order.DiscountStatus.Message)
		assert.True(t, order.Total.Equal(decimal.NewFromInt(100)), "counter %d", pre)
		assert.True(t, order.DiscountAmount.IsZero())
		assert.Empty(t, order.DiscountCode)
	}
}

func TestSingleUseCodes(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Item", "100.00", "Misc")

	placePlainOrders(s, "user-1", 9) // counter=9, выдан DISCOUNT1
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	first := s.CreateOrder("user-1", "DISCOUNT1")
	require.True(t, first.DiscountStatus.Applied)

	placePlainOrders(s, "user-1", 4) // counter=14, снова окно погашения
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	second := s.CreateOrder("user-1", "DISCOUNT1")

	assert.False(t, second.DiscountStatus.Applied)
	assert.Equal(t, domain.DiscountMessageInvalid, second.DiscountStatus.Message)
	assert.True(t, second.Total.Equal(decimal.NewFromInt(100)))

	codes := s.DiscountCodes()
	require.Len(t, codes, 3)
	assert.True(t, codes[0].Used)
	assert.False(t, codes[1].Used)
}

func TestScenarioA_RedeemIssuedCode(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Item", "100.00", "Misc")

	placePlainOrders(s, "user-1", 5)
	codes := s.DiscountCodes()
	require.Len(t, codes, 1)
	require.Equal(t, "DISCOUNT1", codes[0].Code)
	require.Equal(t, 5, s.OrderCount())

	placePlainOrders(s, "user-1", 4)
	require.Equal(t, 9, s.OrderCount())

	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	order := s.CreateOrder("user-1", "DISCOUNT1")

	assert.True(t, order.DiscountAmount.Equal(decimal.RequireFromString("10.00")), "discount %s", order.DiscountAmount)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("90.00")), "total %s", order.Total)
	assert.True(t, order.DiscountStatus.Applied)
	assert.Equal(t, "DISCOUNT1", order.DiscountStatus.Message)
	assert.Equal(t, "DISCOUNT1", order.DiscountCode)
	assert.Empty(t, order.ValidateInvariants())

	// Десятый заказ выдаёт следующий код.
	assert.Len(t, s.DiscountCodes(), 2)
}

func TestScenarioB_InvalidCodeInWindow(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Item", "100.00", "Misc")

	placePlainOrders(s, "user-1", 4)
	require.Empty(t, s.DiscountCodes())

	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	order := s.CreateOrder("user-1", "INVALID_CODE")

	assert.True(t, order.DiscountAmount.IsZero())
	assert.True(t, order.Total.Equal(decimal.RequireFromString("100.00")))
	assert.False(t, order.DiscountStatus.Applied)
	assert.Equal(t, domain.DiscountMessageInvalid, order.DiscountStatus.Message)
}

func TestStatsAggregation(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Item", "100.00", "Misc")
	book := addItem(t, s, "Novel", "14.99", "Books")

	require.NoError(t, s.AddToCart("user-1", item.ID, 2))
	s.CreateOrder("user-1", "") // 200.00, 2 шт.
	require.NoError(t, s.AddToCart("user-2", book.ID, 3))
	s.CreateOrder("user-2", "")      // 44.97, 3 шт.
	placePlainOrders(s, "user-3", 7) // counter=9, DISCOUNT1 выдан на 5-м заказе
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	s.CreateOrder("user-1", "DISCOUNT1") // 90.00 + 10.00 скидка

	before := s.DiscountCodes()
	stats := s.Stats()

	assert.Equal(t, 6, stats.TotalItems)
	assert.True(t, stats.TotalAmount.Equal(decimal.RequireFromString("334.97")), "amount %s", stats.TotalAmount)
	assert.True(t, stats.TotalDiscount.Equal(decimal.RequireFromString("10")), "discount %s", stats.TotalDiscount)
	assert.Equal(t, []string{"DISCOUNT1", "DISCOUNT2"}, stats.DiscountCodes)
	assert.Equal(t, 10, stats.OrderCount)

	// Повторный вызов ничего не меняет.
	assert.Equal(t, stats, s.Stats())
	assert.Equal(t, before, s.DiscountCodes())
	assert.Equal(t, 10, s.OrderCount())
}

func TestOrders_FilterByUser(t *testing.T) {
	s := newStore(t)
	placePlainOrders(s, "user-1", 2)
	placePlainOrders(s, "user-2", 1)

	assert.Len(t, s.Orders(""), 3)
	assert.Len(t, s.Orders("user-1"), 2)
	assert.Len(t, s.Orders("user-2"), 1)
	assert.Empty(t, s.Orders("nobody"))
}

func TestEvents_AreRecorded(t *testing.T) {
	sink := &recordingSink{}
	s := newStore(t, store.WithEventSink(sink), store.WithDiscountInterval(2))
	item := addItem(t, s, "Item", "100.00", "Misc")

	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	s.RemoveFromCart("user-1", item.ID)
	s.RemoveFromCart("user-1", item.ID) // no-op, события нет
	s.CreateOrder("user-1", "")
	s.CreateOrder("user-1", "NOPE")

	assert.Equal(t, []domain.EventType{
		domain.EventCartItemAdded,
		domain.EventCartItemRemoved,
		domain.EventOrderCreated,
		domain.EventDiscountRejected,
		domain.EventOrderCreated,
		domain.EventDiscountIssued,
	}, sink.types())
}

func TestEvents_SinkErrorDoesNotFailCheckout(t *testing.T) {
	sink := &recordingSink{err: errors.New("outbox down")}
	s := newStore(t, store.WithEventSink(sink))

	order := s.CreateOrder("user-1", "")
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, 1, s.OrderCount())
}

func TestConcurrentCheckouts(t *testing.T) {
	s := newStore(t)
	item := addItem(t, s, "Item", "1.00", "Misc")

	const workers = 20
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := "user-" + string(rune('a'+id))
			for i := 0; i < perWorker; i++ {
				_ = s.AddToCart(user, item.ID, 1)
				s.CreateOrder(user, "")
			}
		}(w)
	}
	wg.Wait()

	total := workers * perWorker
	assert.Equal(t, total, s.OrderCount())
	assert.Len(t, s.DiscountCodes(), total/store.DefaultDiscountInterval)
	assert.Equal(t, total, s.Stats().TotalItems)
}
