package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"foodorder/internal/handlers"
	"foodorder/internal/middleware"
	"foodorder/internal/models"
	"foodorder/internal/repositories"
	"foodorder/internal/services"
	"foodorder/pkg/cache"
	"foodorder/pkg/paymentgw"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a minimal payment gateway. Tokens starting with
// "pm_declined" are refused.
type fakeGateway struct {
	mu      sync.Mutex
	seq     int
	refunds []string
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/refund") {
		g.mu.Lock()
		g.refunds = append(g.refunds, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/authorizations/"), "/refund"))
		g.mu.Unlock()
		_, _ = w.Write([]byte(`{"status":"refunded"}`))
		return
	}

	var body struct {
		PaymentMethod string `json:"payment_method"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if strings.HasPrefix(body.PaymentMethod, "pm_declined") {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"card_declined","message":"insufficient funds"}}`))
		return
	}

	g.mu.Lock()
	g.seq++
	id := fmt.Sprintf("pi_%d", g.seq)
	g.mu.Unlock()
	_, _ = fmt.Fprintf(w, `{"id":%q,"status":"succeeded"}`, id)
}

func (g *fakeGateway) refunded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

type testEnv struct {
	app     *fiber.App
	tokens  *services.TokenService
	gateway *fakeGateway
}

// setupApp sets up a Fiber app for testing with in-memory SQLite and all handlers/services.
func setupApp(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repositories.OpenDB("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	gw := &fakeGateway{}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	orderRepo := repositories.NewGORMOrderRepository(db)
	menuRepo := repositories.NewGORMMenuRepository(db)

	tokens := services.NewTokenService("test_jwt_secret", time.Hour)
	stats := services.NewDriverStatsAggregator(orderRepo, cache.NewNoopCache(), time.Minute)
	payments := services.NewPaymentCoordinator(paymentgw.NewClient(paymentgw.Config{BaseURL: srv.URL, APIKey: "sk_test", Timeout: 2 * time.Second}), "USD")
	pricing := services.NewPricingReconciler(menuRepo, services.DefaultPricingConfig())
	orderService := services.NewOrderService(orderRepo, pricing, payments, services.NoopNotifier{}, stats)
	deliveryService := services.NewDeliveryService(orderRepo, services.NoopNotifier{}, stats)
	menuService := services.NewMenuService(menuRepo)

	app := fiber.New()
	apiV1 := app.Group("/api/v1", middleware.AuthRequired(tokens))
	handlers.NewAuthHandler(tokens).RegisterRoutes(apiV1)
	handlers.NewOrderHandler(orderService).RegisterRoutes(apiV1)
	handlers.NewDeliveryHandler(deliveryService).RegisterRoutes(apiV1)
	handlers.NewDriverHandler(stats).RegisterRoutes(apiV1)
	handlers.NewMenuHandler(menuService).RegisterRoutes(apiV1)

	return &testEnv{app: app, tokens: tokens, gateway: gw}
}

// TestMain runs setup and teardown for all tests
func TestMain(m *testing.M) {
	// Suppress logging during tests for cleaner output
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func (e *testEnv) token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	tok, err := e.tokens.IssueToken(models.Principal{UserID: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := e.app.Test(req, -1) // -1 for no timeout
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodeOrder(t *testing.T, raw []byte) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, json.Unmarshal(raw, &o), string(raw))
	return o
}

func seedMenu(t *testing.T, e *testEnv, restaurantToken string) {
	t.Helper()
	for _, item := range []map[string]interface{}{
		{"id": "burger", "name": "Burger", "price": "8.99"},
		{"id": "fries", "name": "Fries", "price": "3.50"},
	} {
		code, raw := e.do(t, http.MethodPost, "/api/v1/restaurants/rest-1/menu-items", restaurantToken, item)
		require.Equal(t, fiber.StatusCreated, code, string(raw))
	}
}

func checkout(method, token string) map[string]interface{} {
	return map[string]interface{}{
		"restaurant_id": "rest-1",
		"items": []map[string]interface{}{
			{"menu_item_id": "burger", "quantity": 2},
			{"menu_item_id": "fries", "quantity": 1},
		},
		"customer": map[string]string{"name": "Ada", "address": "1 Main St", "phone": "555-0100"},
		"payment":  map[string]string{"method": method, "method_token": token},
	}
}

func TestAuthTokens(t *testing.T) {
	e := setupApp(t)

	code, _ := e.do(t, http.MethodPost, "/api/v1/auth/tokens", "", map[string]string{"user_id": "cust-1", "role": "customer"})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/auth/tokens", "not-a-token", map[string]string{"user_id": "cust-1", "role": "customer"})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/auth/tokens", e.token(t, "cust-1", models.RoleCustomer), map[string]string{"user_id": "cust-2", "role": "admin"})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/auth/tokens", e.token(t, "admin-1", models.RoleAdmin), map[string]string{"user_id": "x", "role": "wizard"})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, raw := e.do(t, http.MethodPost, "/api/v1/auth/tokens", e.token(t, "admin-1", models.RoleAdmin), map[string]string{"user_id": "cust-1", "role": "customer"})
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	p, err := e.tokens.ValidateToken(body.Token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: "cust-1", Role: models.RoleCustomer}, p)
}

func TestOrderLifecycle(t *testing.T) {
	e := setupApp(t)
	customerTok := e.token(t, "cust-1", models.RoleCustomer)
	restaurantTok := e.token(t, "rest-1", models.RoleRestaurant)
	driverTok := e.token(t, "drv-1", models.RoleDriver)
	otherDriverTok := e.token(t, "drv-2", models.RoleDriver)
	seedMenu(t, e, restaurantTok)

	code, raw := e.do(t, http.MethodPost, "/api/v1/orders", customerTok, checkout("card", "pm_card_visa"), handlers.HeaderIdempotencyKey, "checkout-1")
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	order := decodeOrder(t, raw)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("21.48")))
	assert.True(t, order.Tax.Equal(decimal.RequireFromString("2.15")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("26.62")))
	assert.Equal(t, models.PaymentStatusCompleted, order.Payment.Status)

	// Same key replays the existing order.
	code, raw = e.do(t, http.MethodPost, "/api/v1/orders", customerTok, checkout("card", "pm_card_visa"), handlers.HeaderIdempotencyKey, "checkout-1")
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	assert.Equal(t, order.ID, decodeOrder(t, raw).ID)

	path := "/api/v1/orders/" + order.ID
	code, _ = e.do(t, http.MethodGet, path, e.token(t, "cust-2", models.RoleCustomer), nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	code, _ = e.do(t, http.MethodGet, "/api/v1/orders/ORD-missing", customerTok, nil)
	assert.Equal(t, fiber.StatusNotFound, code)

	for _, st := range []models.OrderStatus{models.StatusConfirmed, models.StatusPreparing, models.StatusOutForDelivery} {
		code, raw = e.do(t, http.MethodPatch, path+"/status", restaurantTok, map[string]string{"status": string(st)})
		require.Equal(t, fiber.StatusOK, code, string(raw))
		assert.Equal(t, st, decodeOrder(t, raw).Status)
	}

	code, raw = e.do(t, http.MethodGet, "/api/v1/deliveries/available", driverTok, nil)
	require.Equal(t, fiber.StatusOK, code)
	var available []models.Order
	require.NoError(t, json.Unmarshal(raw, &available))
	require.Len(t, available, 1)
	assert.Equal(t, order.ID, available[0].ID)

	code, raw = e.do(t, http.MethodPost, "/api/v1/deliveries/"+order.ID+"/assign", driverTok, nil)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	assigned := decodeOrder(t, raw)
	assert.True(t, assigned.AssignedTo("drv-1"))

	code, raw = e.do(t, http.MethodPost, "/api/v1/deliveries/"+order.ID+"/assign", otherDriverTok, nil)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Contains(t, string(raw), `"current_status":"out_for_delivery"`)

	code, _ = e.do(t, http.MethodPost, "/api/v1/deliveries/"+order.ID+"/complete", otherDriverTok, nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, raw = e.do(t, http.MethodPost, "/api/v1/deliveries/"+order.ID+"/complete", driverTok, nil)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	assert.Equal(t, models.StatusDelivered, decodeOrder(t, raw).Status)

	code, _ = e.do(t, http.MethodPost, path+"/cancel", customerTok, nil)
	assert.Equal(t, fiber.StatusConflict, code)

	code, raw = e.do(t, http.MethodGet, "/api/v1/drivers/drv-1/stats", driverTok, nil)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	var stats models.DriverStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, int64(1), stats.CompletedOrders)
	assert.True(t, stats.TotalEarnings.Equal(decimal.RequireFromString("26.62")))

	code, _ = e.do(t, http.MethodGet, "/api/v1/drivers/drv-1/stats", otherDriverTok, nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	code, _ = e.do(t, http.MethodPost, "/api/v1/drivers/stats/reconcile", driverTok, nil)
	assert.Equal(t, fiber.StatusForbidden, code)
	code, raw = e.do(t, http.MethodPost, "/api/v1/drivers/stats/reconcile", e.token(t, "admin-1", models.RoleAdmin), nil)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	assert.Contains(t, string(raw), `"drivers":1`)

	code, raw = e.do(t, http.MethodGet, "/api/v1/orders?status=delivered", customerTok, nil)
	require.Equal(t, fiber.StatusOK, code)
	var mine []models.Order
	require.NoError(t, json.Unmarshal(raw, &mine))
	assert.Len(t, mine, 1)
}

func TestCancelRefundsCardPayment(t *testing.T) {
	e := setupApp(t)
	customerTok := e.token(t, "cust-1", models.RoleCustomer)
	seedMenu(t, e, e.token(t, "rest-1", models.RoleRestaurant))

	code, raw := e.do(t, http.MethodPost, "/api/v1/orders", customerTok, checkout("card", "pm_card_visa"))
	require.Equal(t, fiber.StatusCreated, code, string(raw))
	order := decodeOrder(t, raw)
	require.NotNil(t, order.Payment.AuthorizationID)

	code, raw = e.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/cancel", customerTok, nil)
	require.Equal(t, fiber.StatusOK, code, string(raw))
	canceled := decodeOrder(t, raw)
	assert.Equal(t, models.StatusCanceled, canceled.Status)
	assert.Equal(t, models.RefundStatusRefunded, canceled.Payment.RefundStatus)
	assert.Equal(t, []string{*order.Payment.AuthorizationID}, e.gateway.refunded())
}

func TestCreateOrderErrors(t *testing.T) {
	e := setupApp(t)
	customerTok := e.token(t, "cust-1", models.RoleCustomer)
	seedMenu(t, e, e.token(t, "rest-1", models.RoleRestaurant))

	code, raw := e.do(t, http.MethodPost, "/api/v1/orders", customerTok, checkout("card", "pm_declined_funds"))
	assert.Equal(t, fiber.StatusPaymentRequired, code, string(raw))

	bad := checkout("cash", "")
	bad["items"] = []map[string]interface{}{{"menu_item_id": "burger", "quantity": 0}}
	code, raw = e.do(t, http.MethodPost, "/api/v1/orders", customerTok, bad)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, string(raw), "items[0].quantity")

	unknown := checkout("cash", "")
	unknown["items"] = []map[string]interface{}{{"menu_item_id": "pizza", "quantity": 1}}
	code, _ = e.do(t, http.MethodPost, "/api/v1/orders", customerTok, unknown)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/orders", e.token(t, "drv-1", models.RoleDriver), checkout("cash", ""))
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/orders?status=lost", customerTok, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)
}
