package controllers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"github.com/ManuelReschke/SubscriptionService/app/repository"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/billing"
)

const testWebhookSecret = "whsec_controller_test"

type fakeProvider struct {
	mu       sync.Mutex
	calls    []string
	snapshot *billing.SubscriptionSnapshot
	err      error
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProvider) result() (*billing.SubscriptionSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (*billing.SubscriptionSnapshot, error) {
	f.record("create:" + customerID + ":" + priceID)
	return f.result()
}

func (f *fakeProvider) RetrieveSubscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error) {
	f.record("retrieve:" + subscriptionID)
	return f.result()
}

func (f *fakeProvider) UpdateSubscription(ctx context.Context, subscriptionID string, update billing.SubscriptionUpdate) (*billing.SubscriptionSnapshot, error) {
	f.record("update:" + subscriptionID)
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return f.result()
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error) {
	f.record("cancel:" + subscriptionID)
	return f.result()
}

func (f *fakeProvider) VerifyAndParseWebhook(payload []byte, signatureHeader, endpointSecret string) (*billing.InboundEvent, error) {
	return billing.NewWebhookVerifier().Verify(payload, signatureHeader, endpointSecret)
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeCounter) AddWebhookEvent(ctx context.Context, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[eventType]++
	return nil
}

func (f *fakeCounter) WebhookEventCounts(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

type stubReconciler struct {
	err error
}

func (s stubReconciler) Reconcile(ctx context.Context, event *billing.InboundEvent) (*billing.DispatchOutcome, error) {
	return nil, s.err
}

type testEnv struct {
	app      *fiber.App
	db       *gorm.DB
	provider *fakeProvider
	counter  *fakeCounter
}

type envOption func(*testEnv, *SubscriptionController)

func newTestEnv(t *testing.T, provider billing.Provider, secret string, opts ...envOption) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.WebhookEvent{}))

	repos := repository.NewRepositories(db)
	counter := &fakeCounter{}
	sc := NewSubscriptionController(provider, billing.NewReconciler(repos.Subscription), repos, counter, secret)

	env := &testEnv{db: db, counter: counter}
	if fp, ok := provider.(*fakeProvider); ok {
		env.provider = fp
	}
	for _, opt := range opts {
		opt(env, sc)
	}

	app := fiber.New()
	sc.RegisterRoutes(app.Group("/api/stripe"))
	env.app = app
	return env
}

func withReconciler(r EventReconciler) envOption {
	return func(_ *testEnv, sc *SubscriptionController) { sc.reconciler = r }
}

const (
	testOpsUser     = "ops"
	testOpsPassword = "ops-secret"
)

func withOpsCredentials() envOption {
	return func(_ *testEnv, sc *SubscriptionController) { sc.SetOpsCredentials(testOpsUser, testOpsPassword) }
}

func opsGet(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.SetBasicAuth(testOpsUser, testOpsPassword)
	return send(t, app, req)
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return send(t, app, req)
}

func send(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func webhookRequest(payload []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req
}

func sign(payload []byte) string {
	now := time.Now()
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(webhook.ComputeSignature(now, payload, testWebhookSecret)))
}

func statusOf(t *testing.T, db *gorm.DB, id string) string {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, db.Where("stripe_subscription_id = ?", id).First(&sub).Error)
	return sub.Status
}

func TestHandleCreateSubscription(t *testing.T) {
	provider := &fakeProvider{snapshot: &billing.SubscriptionSnapshot{ID: "sub_new", CustomerID: "cus_1", Status: "incomplete"}}
	env := newTestEnv(t, provider, testWebhookSecret)

	status, body := doJSON(t, env.app, http.MethodPost, "/api/stripe/subscription", map[string]string{
		"customerId": "cus_1",
		"priceId":    "price_1",
	})

	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, true, body["success"])
	sub, ok := body["subscription"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sub_new", sub["id"])
	assert.Equal(t, []string{"create:cus_1:price_1"}, provider.calls)
	assert.Equal(t, models.SubscriptionStatusPending, statusOf(t, env.db, "sub_new"))
}

func TestHandleCreateSubscription_InvalidBody(t *testing.T) {
	provider := &fakeProvider{}
	env := newTestEnv(t, provider, testWebhookSecret)

	status, body := doJSON(t, env.app, http.MethodPost, "/api/stripe/subscription", map[string]string{"customerId": "cus_1"})

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["detail"], "PriceID")
	assert.Empty(t, provider.calls)
}

func TestHandleCreateSubscription_ProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: &billing.RetryExhaustedError{Op: "create subscription", Attempts: 3, Last: errors.New("connection refused")}}
	env := newTestEnv(t, provider, testWebhookSecret)

	status, body := doJSON(t, env.app, http.MethodPost, "/api/stripe/subscription", map[string]string{
		"customerId": "cus_1",
		"priceId":    "price_1",
	})

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Contains(t, body["detail"], "after 3 attempts")
}

func TestHandleCreateSubscription_ProviderNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, testWebhookSecret)

	status, body := doJSON(t, env.app, http.MethodPost, "/api/stripe/subscription", map[string]string{
		"customerId": "cus_1",
		"priceId":    "price_1",
	})

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "Stripe API key not configured", body["detail"])
}

func TestSubscriptionCommands_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		err        error
		wantStatus int
		wantCall   string
	}{
		{name: "get ok", method: http.MethodGet, path: "/api/stripe/subscription/sub_1", wantStatus: fiber.StatusOK, wantCall: "retrieve:sub_1"},
		{name: "get validation", method: http.MethodGet, path: "/api/stripe/subscription/sub_1", err: fmt.Errorf("%w: bad id", billing.ErrValidation), wantStatus: fiber.StatusBadRequest, wantCall: "retrieve:sub_1"},
		{name: "update ok", method: http.MethodPut, path: "/api/stripe/subscription/sub_1", body: map[string]any{"metadata": map[string]string{"plan": "gold"}}, wantStatus: fiber.StatusOK, wantCall: "update:sub_1"},
		{name: "update empty", method: http.MethodPut, path: "/api/stripe/subscription/sub_1", body: map[string]any{}, wantStatus: fiber.StatusBadRequest, wantCall: "update:sub_1"},
		{name: "cancel ok", method: http.MethodDelete, path: "/api/stripe/subscription/sub_1", wantStatus: fiber.StatusOK, wantCall: "cancel:sub_1"},
		{name: "cancel provider down", method: http.MethodDelete, path: "/api/stripe/subscription/sub_1", err: &billing.ProviderError{Op: "cancel subscription", Attempts: 1, Err: errors.New("api error")}, wantStatus: fiber.StatusInternalServerError, wantCall: "cancel:sub_1"},
		{name: "cancel rejected", method: http.MethodDelete, path: "/api/stripe/subscription/sub_1", err: &billing.ProviderError{Op: "cancel subscription", Attempts: 1, Invalid: true, Err: errors.New("No such subscription")}, wantStatus: fiber.StatusBadRequest, wantCall: "cancel:sub_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{snapshot: &billing.SubscriptionSnapshot{ID: "sub_1", Status: "active"}, err: tt.err}
			env := newTestEnv(t, provider, testWebhookSecret)

			status, body := doJSON(t, env.app, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantStatus == fiber.StatusOK, body["success"])
			assert.Equal(t, []string{tt.wantCall}, provider.calls)
		})
	}
}

func TestHandleStripeWebhook_PaymentSucceeded(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret)
	require.NoError(t, env.db.Create(&models.Subscription{StripeSubscriptionID: "sub_123", Status: models.SubscriptionStatusPending}).Error)

	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_succeeded","created":1234567890,"data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_123"}}}`)
	status, body := send(t, env.app, webhookRequest(payload, sign(payload)))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"subscriptionId": "sub_123", "status": "active"}, body["metadata"])
	event, ok := body["event"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "evt_1", event["id"])
	assert.Equal(t, models.SubscriptionStatusActive, statusOf(t, env.db, "sub_123"))
	assert.Equal(t, int64(1), env.counter.counts["invoice.payment_succeeded"])

	var audit []models.WebhookEvent
	require.NoError(t, env.db.Find(&audit).Error)
	require.Len(t, audit, 1)
	assert.Equal(t, "evt_1", audit[0].StripeEventID)
	assert.NotNil(t, audit[0].ProcessedAt)
	assert.Empty(t, audit[0].ProcessingError)
}

func TestHandleStripeWebhook_SubscriptionDeletedWithoutAPIKey(t *testing.T) {
	env := newTestEnv(t, nil, testWebhookSecret)
	require.NoError(t, env.db.Create(&models.Subscription{StripeSubscriptionID: "sub_456", Status: models.SubscriptionStatusActive}).Error)

	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"subscription":"sub_456"}}}`)
	status, body := send(t, env.app, webhookRequest(payload, sign(payload)))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"subscriptionId": "sub_456", "status": "cancelled"}, body["metadata"])
	assert.Equal(t, models.SubscriptionStatusCancelled, statusOf(t, env.db, "sub_456"))
}

func TestHandleStripeWebhook_UnknownEventType(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret)

	payload := []byte(`{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	status, body := send(t, env.app, webhookRequest(payload, sign(payload)))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{}, body["metadata"])
}

func TestHandleStripeWebhook_Rejections(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_succeeded","data":{"object":{"subscription":"sub_123"}}}`)
	noType := []byte(`{"id":"evt_4","object":"event","data":{"object":{}}}`)

	tests := []struct {
		name       string
		secret     string
		payload    []byte
		signature  string
		wantStatus int
		wantDetail string
		wantStage  any
	}{
		{name: "missing header", secret: testWebhookSecret, payload: payload, signature: "", wantStatus: fiber.StatusBadRequest, wantDetail: "Missing signature header"},
		{name: "missing secret", secret: "", payload: payload, signature: sign(payload), wantStatus: fiber.StatusInternalServerError, wantDetail: "Stripe endpoint secret not configured"},
		{name: "bad signature", secret: testWebhookSecret, payload: payload, signature: "bad-sig", wantStatus: fiber.StatusBadRequest, wantDetail: "Error processing webhook event", wantStage: "verification"},
		{name: "missing type", secret: testWebhookSecret, payload: noType, signature: sign(noType), wantStatus: fiber.StatusBadRequest, wantDetail: "Error processing webhook event", wantStage: "dispatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeProvider{}, tt.secret)
			require.NoError(t, env.db.Create(&models.Subscription{StripeSubscriptionID: "sub_123", Status: models.SubscriptionStatusPending}).Error)

			status, body := send(t, env.app, webhookRequest(tt.payload, tt.signature))

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["detail"], tt.wantDetail)
			assert.Equal(t, tt.wantStage, body["stage"])
			assert.Equal(t, models.SubscriptionStatusPending, statusOf(t, env.db, "sub_123"))
		})
	}
}

func TestHandleStripeWebhook_PersistenceFailure(t *testing.T) {
	cause := errors.New("deadlock found")
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret, withReconciler(stubReconciler{
		err: &billing.PersistenceError{Op: "commit subscription sub_123", Err: cause},
	}))

	payload := []byte(`{"id":"evt_5","object":"event","type":"invoice.payment_succeeded","data":{"object":{"subscription":"sub_123"}}}`)
	status, body := send(t, env.app, webhookRequest(payload, sign(payload)))

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "persistence", body["stage"])
	assert.Contains(t, body["detail"], "deadlock found")

	var audit models.WebhookEvent
	require.NoError(t, env.db.First(&audit).Error)
	assert.Contains(t, audit.ProcessingError, "deadlock found")
}

func TestHandleWebhookStatsAndEvents(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret, withOpsCredentials())

	payload := []byte(`{"id":"evt_6","object":"event","type":"customer.created","data":{"object":{}}}`)
	status, _ := send(t, env.app, webhookRequest(payload, sign(payload)))
	require.Equal(t, fiber.StatusOK, status)

	status, body := opsGet(t, env.app, "/api/stripe/webhook/stats")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]any{"customer.created": float64(1)}, body["counts"])

	status, body = opsGet(t, env.app, "/api/stripe/webhook/events?limit=5")
	assert.Equal(t, fiber.StatusOK, status)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_6", events[0].(map[string]any)["stripe_event_id"])

	env.counter.err = errors.New("redis down")
	status, body = opsGet(t, env.app, "/api/stripe/webhook/stats")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "redis down", body["detail"])
}

func TestWebhookOpsRoutes_RequireCredentials(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret, withOpsCredentials())

	for _, path := range []string{"/api/stripe/webhook/stats", "/api/stripe/webhook/events"} {
		t.Run(path, func(t *testing.T) {
			resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.SetBasicAuth(testOpsUser, "wrong")
			resp, err = env.app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestWebhookOpsRoutes_NotMountedWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret)

	for _, path := range []string{"/api/stripe/webhook/stats", "/api/stripe/webhook/events"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth(testOpsUser, testOpsPassword)
		resp, err := env.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode, path)
	}
}

func TestHandleWebhookEvents_AuditNotConfigured(t *testing.T) {
	sc := NewSubscriptionController(nil, nil, &repository.Repositories{}, nil, testWebhookSecret)
	sc.SetOpsCredentials(testOpsUser, testOpsPassword)
	app := fiber.New()
	sc.RegisterRoutes(app.Group("/api/stripe"))

	status, body := opsGet(t, app, "/api/stripe/webhook/events")

	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "webhook audit not configured", body["detail"])
}

func TestHandleStripeWebhook_EmptyBodyWithSignatureIsRejected(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{}, testWebhookSecret)

	status, body := send(t, env.app, webhookRequest(nil, sign(nil)))

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "verification", body["stage"])
}
