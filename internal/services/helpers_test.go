package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"foodorder/internal/models"
	"foodorder/internal/repositories"
	"foodorder/internal/services"
	"foodorder/pkg/cache"
	"foodorder/pkg/paymentgw"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRestaurant = "rest-1"

var (
	customer   = models.Principal{UserID: "cust-1", Role: models.RoleCustomer}
	restaurant = models.Principal{UserID: testRestaurant, Role: models.RoleRestaurant}
	admin      = models.Principal{UserID: "admin-1", Role: models.RoleAdmin}
)

func driver(id string) models.Principal {
	return models.Principal{UserID: id, Role: models.RoleDriver}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// MockGateway is a mock implementation of services.PaymentGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authorize(ctx context.Context, req paymentgw.AuthorizeRequest) (*paymentgw.Authorization, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentgw.Authorization), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, authorizationID string) (*paymentgw.RefundResult, error) {
	args := m.Called(ctx, authorizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentgw.RefundResult), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.StatusEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev models.StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) statuses() []models.OrderStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.OrderStatus, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Status)
	}
	return out
}

// memoryCache is a map-backed cache.Cache.
type memoryCache struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
	hits     int
	deletes  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]string{}, counters: map[string]int64{}}
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.deletes++
	}
	return nil
}

func (c *memoryCache) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key] += delta
	return c.counters[key], nil
}

func (c *memoryCache) GenerateKey(operation, key string) string { return operation + ":" + key }

var _ cache.Cache = (*memoryCache)(nil)

// failingCreateRepo fails every Create with err.
type failingCreateRepo struct {
	*repositories.MockOrderRepository
	err error
}

func (r *failingCreateRepo) Create(context.Context, *models.Order) error { return r.err }

type fixture struct {
	orders   *repositories.MockOrderRepository
	menu     *repositories.MockMenuRepository
	gateway  *MockGateway
	notifier *recordingNotifier
	cache    *memoryCache
	stats    *services.DriverStatsAggregator
	svc      *services.OrderService
	delivery *services.DeliveryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

func newFixtureWithRepo(t *testing.T, wrap func(*repositories.MockOrderRepository) repositories.OrderRepository) *fixture {
	t.Helper()
	f := &fixture{
		orders:   repositories.NewMockOrderRepository(),
		menu:     repositories.NewMockMenuRepository(),
		gateway:  new(MockGateway),
		notifier: &recordingNotifier{},
		cache:    newMemoryCache(),
	}

	var repo repositories.OrderRepository = f.orders
	if wrap != nil {
		repo = wrap(f.orders)
	}

	ctx := context.Background()
	require.NoError(t, f.menu.Create(ctx, &models.MenuItem{ID: "burger", RestaurantID: testRestaurant, Name: "Burger", Price: dec("8.99"), Available: true}))
	require.NoError(t, f.menu.Create(ctx, &models.MenuItem{ID: "fries", RestaurantID: testRestaurant, Name: "Fries", Price: dec("3.50"), Available: true}))
	require.NoError(t, f.menu.Create(ctx, &models.MenuItem{ID: "soup", RestaurantID: testRestaurant, Name: "Soup", Price: dec("5.00"), Available: false}))

	pricing := services.NewPricingReconciler(f.menu, services.DefaultPricingConfig())
	payments := services.NewPaymentCoordinator(f.gateway, "USD")
	f.stats = services.NewDriverStatsAggregator(repo, f.cache, time.Minute)
	f.svc = services.NewOrderService(repo, pricing, payments, f.notifier, f.stats)
	f.delivery = services.NewDeliveryService(repo, f.notifier, f.stats)
	return f
}

func cashRequest() services.CreateOrderRequest {
	return services.CreateOrderRequest{
		RestaurantID: testRestaurant,
		Items:        []services.CartItem{{MenuItemID: "burger", Quantity: 2}},
		Customer:     services.CustomerInput{Name: "Ada", Address: "1 Main St", Phone: "+15550100"},
		Payment:      services.PaymentInput{Method: models.PaymentMethodCash},
	}
}

func cardRequest() services.CreateOrderRequest {
	req := cashRequest()
	req.Payment = services.PaymentInput{Method: models.PaymentMethodCard, MethodToken: "pm_card_visa"}
	return req
}

func (f *fixture) expectAuthorize(id string) *mock.Call {
	return f.gateway.On("Authorize", mock.Anything, mock.AnythingOfType("paymentgw.AuthorizeRequest")).
		Return(&paymentgw.Authorization{ID: id, Status: paymentgw.StatusSucceeded}, nil)
}

// createOutForDelivery places a cash order and moves it to out_for_delivery.
func (f *fixture) createOutForDelivery(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.svc.CreateOrder(ctx, customer, cashRequest())
	require.NoError(t, err)
	for _, st := range []models.OrderStatus{models.StatusConfirmed, models.StatusPreparing, models.StatusOutForDelivery} {
		order, err = f.svc.UpdateOrderStatus(ctx, restaurant, order.ID, st)
		require.NoError(t, err)
	}
	return order
}

func assertOrderEqual(t *testing.T, expected, actual *models.Order) {
	t.Helper()
	opts := cmp.Options{
		cmp.Comparer(func(x, y decimal.Decimal) bool { return x.Equal(y) }),
		cmpopts.EquateEmpty(),
	}
	assert.Empty(t, cmp.Diff(expected, actual, opts))
}
