package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/internal/pkg/billing"
	"github.com/ManuelReschke/LinkFox/internal/pkg/usercontext"
)

const testWebhookSecret = "whsec_controller_test"

// stubGateway answers every call with the configured resources.
type stubGateway struct {
	subscriptions map[string]*billing.Subscription
}

func (g *stubGateway) CreateCustomer(context.Context, string) (string, error) { return "cus_new", nil }
func (g *stubGateway) ListCustomers(context.Context, string) ([]string, error) {
	return nil, nil
}
func (g *stubGateway) RetrieveCustomer(_ context.Context, id string) (*billing.Customer, error) {
	return nil, billing.ErrResourceMissing
}
func (g *stubGateway) CreateCheckoutSession(_ context.Context, in billing.CheckoutParams) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_test", URL: "https://checkout.test/cs_test", CustomerID: in.CustomerID}, nil
}
func (g *stubGateway) RetrieveCheckoutSession(context.Context, string) (*billing.CheckoutSession, error) {
	return nil, billing.ErrResourceMissing
}
func (g *stubGateway) ListCheckoutSessions(context.Context, string, int64) ([]billing.CheckoutSession, error) {
	return nil, nil
}
func (g *stubGateway) CreateSubscription(context.Context, billing.SubscriptionParams) (*billing.Subscription, error) {
	return nil, billing.ErrGatewayUnavailable
}
func (g *stubGateway) RetrieveSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	if s, ok := g.subscriptions[id]; ok {
		return s, nil
	}
	return nil, billing.ErrResourceMissing
}
func (g *stubGateway) CancelSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	if s, ok := g.subscriptions[id]; ok {
		s.Status = "canceled"
		return s, nil
	}
	return nil, billing.ErrResourceMissing
}

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
}

func newTestEnv(t *testing.T, users ...models.User) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.LedgerEntry{}, &models.BillingWebhookEvent{}))
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
	}

	periodEnd := time.Now().AddDate(0, 1, 0).UTC()
	gw := &stubGateway{subscriptions: map[string]*billing.Subscription{
		"sub_1": {ID: "sub_1", Status: "active", CurrentPeriodEnd: &periodEnd},
	}}
	svc := billing.NewServiceFromDB(db, gw, billing.Config{
		MonthlyPriceID:  "price_monthly",
		LifetimePriceID: "price_lifetime",
		SuccessURL:      "https://linkfox.test/success",
		CancelURL:       "https://linkfox.test/cancel",
		WebhookSecret:   testWebhookSecret,
	})
	bc := NewBillingController(svc)

	app := fiber.New()
	app.Post("/webhook", bc.HandleWebhook)
	authed := app.Group("/", func(c *fiber.Ctx) error {
		id := c.Get("X-Test-User")
		var userID uint
		_, _ = fmt.Sscanf(id, "%d", &userID)
		usercontext.SetUserContext(c, usercontext.UserContext{UserID: userID, IsLoggedIn: userID != 0})
		return c.Next()
	})
	authed.Post("/create-checkout-session", bc.HandleCreateCheckoutSession)
	authed.Post("/create-subscription", bc.HandleCreateSubscription)
	authed.Post("/verify-session", bc.HandleVerifySession)
	authed.Post("/cancel-subscription", bc.HandleCancelSubscription)
	authed.Post("/cleanup-duplicates", bc.HandleCleanupDuplicates)
	authed.Get("/billing/status", bc.HandleGetStatus)
	authed.Post("/admin/billing/dedupe", bc.HandleAdminDedupeAll)
	authed.Post("/admin/billing/events/:eventId/replay", bc.HandleAdminReplayEvent)
	return &testEnv{app: app, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, userID uint, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-Test-User", fmt.Sprint(userID))
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestWebhookEndpoint(t *testing.T) {
	env := newTestEnv(t, models.User{Name: "Ada", Email: "ada@example.com", Entitlement: models.Entitlement{PlanType: models.PlanNone}})

	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","created":%d,"data":{"object":{
		"id":"cs_1","mode":"subscription","status":"complete","payment_status":"paid","customer":"cus_1",
		"customer_details":{"email":"ada@example.com"},"subscription":"sub_1","amount_total":399,"currency":"eur",
		"metadata":{"plan":"monthly"}}}}`, time.Now().Unix()))

	req := httptest.NewRequest(fiber.MethodPost, "/webhook", strings.NewReader(string(payload)))
	req.Header.Set(stripeSignatureHeader, "t=1,v1=bad")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	req = httptest.NewRequest(fiber.MethodPost, "/webhook", strings.NewReader(string(payload)))
	req.Header.Set(stripeSignatureHeader, signed.Header)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"received":true}`, string(raw))

	// a redelivery gets the same acknowledgement
	req = httptest.NewRequest(fiber.MethodPost, "/webhook", strings.NewReader(string(payload)))
	req.Header.Set(stripeSignatureHeader, signed.Header)
	resp, err = env.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	raw, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"received":true}`, string(raw))

	var user models.User
	require.NoError(t, env.db.First(&user).Error)
	assert.True(t, user.Entitlement.IsPremium)
	assert.Equal(t, models.PlanMonthly, user.Entitlement.PlanType)

	var count int64
	require.NoError(t, env.db.Model(&models.LedgerEntry{}).Where("external_id = ?", "cs_1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWebhookWithoutSecretIsServerError(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.LedgerEntry{}, &models.BillingWebhookEvent{}))
	bc := NewBillingController(billing.NewServiceFromDB(db, &stubGateway{}, billing.Config{}))
	app := fiber.New()
	app.Post("/webhook", bc.HandleWebhook)

	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	req := httptest.NewRequest(fiber.MethodPost, "/webhook", strings.NewReader(string(payload)))
	req.Header.Set(stripeSignatureHeader, signed.Header)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var count int64
	require.NoError(t, db.Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateCheckoutSessionDisabledAccount(t *testing.T) {
	env := newTestEnv(t, models.User{Name: "Ada", Email: "ada@example.com", Status: models.STATUS_DISABLED,
		Entitlement: models.Entitlement{PlanType: models.PlanNone}})

	status, body := env.do(t, fiber.MethodPost, "/create-checkout-session", 1, `{"plan":"monthly"}`)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "account is disabled", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/create-subscription", 1, `{"plan":"monthly","paymentMethodId":"pm_1"}`)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "account is disabled", body["error"])
}

func TestCreateCheckoutSessionValidation(t *testing.T) {
	env := newTestEnv(t, models.User{Name: "Ada", Email: "ada@example.com", Entitlement: models.Entitlement{PlanType: models.PlanNone}})

	status, body := env.do(t, fiber.MethodPost, "/create-checkout-session", 1, `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "plan is required", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/create-checkout-session", 1, `{"plan":"yearly"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "plan must be one of: monthly, lifetime", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/create-checkout-session", 1, `{"plan":"monthly"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "cs_test", body["session_id"])

	status, body = env.do(t, fiber.MethodPost, "/create-subscription", 1, `{"plan":"monthly"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "paymentMethodId is required", body["error"])

	status, body = env.do(t, fiber.MethodPost, "/create-subscription", 1, `{"plan":"monthly","paymentMethodId":"pm_1"}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.NotContains(t, body["error"], "gateway resource")
}

func TestCancelSubscriptionEndpoint(t *testing.T) {
	env := newTestEnv(t,
		models.User{Name: "Ada", Email: "ada@example.com", Entitlement: models.Entitlement{
			IsPremium: true, PlanType: models.PlanMonthly, GatewaySubscriptionID: "sub_1",
		}},
		models.User{Name: "Bob", Email: "bob@example.com", Entitlement: models.Entitlement{
			IsPremium: true, PlanType: models.PlanLifetime,
		}},
	)

	status, body := env.do(t, fiber.MethodPost, "/cancel-subscription", 1, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, body["already_cancelled"])

	status, body = env.do(t, fiber.MethodPost, "/cancel-subscription", 1, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["already_cancelled"])
	st := body["billing"].(map[string]interface{})
	assert.Equal(t, false, st["active"])

	status, body = env.do(t, fiber.MethodPost, "/cancel-subscription", 2, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "no cancellable subscription", body["error"])
}

func TestVerifySessionAndStatusEndpoints(t *testing.T) {
	env := newTestEnv(t, models.User{Name: "Ada", Email: "ada@example.com", Entitlement: models.Entitlement{PlanType: models.PlanNone}})

	status, body := env.do(t, fiber.MethodPost, "/verify-session", 1, `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "sessionId is required", body["error"])

	status, _ = env.do(t, fiber.MethodPost, "/verify-session", 1, `{"sessionId":"cs_unknown"}`)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = env.do(t, fiber.MethodPost, "/cleanup-duplicates", 1, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["removed"])

	status, body = env.do(t, fiber.MethodGet, "/billing/status", 1, "")
	assert.Equal(t, fiber.StatusOK, status)
	st := body["billing"].(map[string]interface{})
	assert.Equal(t, false, st["active"])

	status, _ = env.do(t, fiber.MethodGet, "/billing/status", 99, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestAdminReplayEvent(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_ignored",
		EventType:       "customer.created",
		PayloadJSON:     `{"id":"evt_ignored","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`,
	}).Error)

	status, body := env.do(t, "POST", "/admin/billing/events/evt_ignored/replay", 1, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "evt_ignored", body["event_id"])
	assert.Equal(t, true, body["ignored"])

	status, body = env.do(t, "POST", "/admin/billing/events/evt_missing/replay", 1, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "event not found", body["error"])
}

func TestAdminDedupe(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, "POST", "/admin/billing/dedupe", 1, "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(0), body["removed"])
}
