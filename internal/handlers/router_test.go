package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/leadsradar/server/internal/models"
	"github.com/leadsradar/server/internal/repository/memory"
	"github.com/leadsradar/server/internal/services"
	"github.com/leadsradar/server/pkg/genai"
)

const testSecret = "test-secret"

type stubGenerator struct{}

func (stubGenerator) GeneratePitch(ctx context.Context, req genai.PitchRequest) (*genai.Completion, error) {
	return &genai.Completion{Text: "Hi @" + req.LeadName, Model: "test", TotalTokens: 42}, nil
}

type testEnv struct {
	store  *memory.Store
	keys   *services.KeyStore
	feed   *services.LeadFeed
	auth   *Authenticator
	router http.Handler
}

func newTestEnv(t *testing.T, limits map[models.ResourceType]models.RateLimit) *testEnv {
	t.Helper()
	if limits == nil {
		limits = services.DefaultRateLimits
	}

	store := memory.New()
	keys := services.NewKeyStore(store, "development")
	limiter := services.NewRateLimiter(store, limits)
	feed := services.NewLeadFeed()
	leads := services.NewLeadStore(store, feed)
	profiles := services.NewProfileService(store)
	usage := services.NewUsageLog(store, decimal.Zero)
	gateway := services.NewPitchGateway(limiter, leads, profiles, stubGenerator{}, usage, "test", time.Second)
	auth := NewAuthenticator(testSecret)

	t.Cleanup(func() {
		keys.Wait()
		usage.Flush()
	})

	return &testEnv{
		store: store,
		keys:  keys,
		feed:  feed,
		auth:  auth,
		router: NewRouter(Deps{
			Auth:     auth,
			Health:   NewHealthHandler(store, "test"),
			Webhook:  NewWebhookHandler(keys, limiter, services.NewIngestor(store, leads)),
			Keys:     NewKeyHandler(keys),
			Leads:    NewLeadHandler(leads, feed, []string{"*"}),
			Pitch:    NewPitchHandler(gateway),
			Settings: NewSettingsHandler(profiles),
			Origins:  []string{"*"},
		}),
	}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := e.auth.Sign(userID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) issueKey(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	issued, err := e.keys.Issue(context.Background(), userID, "zapier", nil)
	if err != nil {
		t.Fatal(err)
	}
	return issued.FullKey
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func webhookRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/twitter", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return body
}

const validTweet = `{"tweet_id":"1789","tweet_text":"Looking for a web designer","tweet_author":"acme","spam_score":12,"estimated_value":2500}`

func TestWebhook_CreatesLead(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := uuid.New()
	key := env.issueKey(t, userID)

	req := webhookRequest(key, validTweet)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["created"] != true || body["request_id"] != "req-123" {
		t.Errorf("unexpected body: %v", body)
	}
	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Error("request id not echoed")
	}
	if rec.Header().Get("X-RateLimit-Remaining-Hourly") == "" {
		t.Error("missing rate limit header")
	}

	leadID, err := uuid.Parse(body["lead_id"].(string))
	if err != nil {
		t.Fatal(err)
	}
	lead, err := env.store.GetLead(context.Background(), leadID)
	if err != nil {
		t.Fatal(err)
	}
	if lead.Status != models.StatusFound || lead.Version != 1 || lead.UserID != userID {
		t.Errorf("unexpected lead: %+v", lead)
	}

	// Redelivery resolves to the same lead
	rec = env.do(webhookRequest(key, validTweet))
	again := decodeBody(t, rec)
	if again["lead_id"] != body["lead_id"] || again["created"] != false {
		t.Errorf("duplicate delivery: %v", again)
	}
}

func TestWebhook_InvalidPayloadIsRecorded(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, uuid.New())

	rec := env.do(webhookRequest(key, `{"tweet_id":"","spam_score":150}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if _, ok := decodeBody(t, rec)["details"]; !ok {
		t.Error("expected field details")
	}

	events := env.store.Events()
	if len(events) != 1 {
		t.Fatalf("expected one recorded event, got %d", len(events))
	}
	if events[0].Processed || events[0].FailureKind != models.FailureValidation {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestWebhook_OversizedBodyIsRecorded(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, uuid.New())

	body := `{"tweet_id":"1789","tweet_text":"` + strings.Repeat("a", 70<<10) + `","tweet_author":"acme"}`
	rec := env.do(webhookRequest(key, body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	details, ok := decodeBody(t, rec)["details"].([]interface{})
	if !ok || len(details) != 1 {
		t.Fatalf("expected one field detail, got %v", details)
	}
	if field := details[0].(map[string]interface{})["field"]; field != "body" {
		t.Errorf("detail field = %v", field)
	}

	events := env.store.Events()
	if len(events) != 1 {
		t.Fatalf("expected one recorded event, got %d", len(events))
	}
	if events[0].Processed || events[0].FailureKind != models.FailureValidation {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestWebhook_Authentication(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := uuid.New()
	key := env.issueKey(t, userID)

	cases := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"garbage", "not-a-key"},
		{"wrong secret", key[:len(key)-4] + "0000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(webhookRequest(tc.key, validTweet))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}

	list, _ := env.keys.List(context.Background(), userID)
	if err := env.keys.Revoke(context.Background(), userID, list[0].ID); err != nil {
		t.Fatal(err)
	}
	if rec := env.do(webhookRequest(key, validTweet)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked key: expected 401, got %d", rec.Code)
	}
	if n := len(env.store.Events()); n != 0 {
		t.Errorf("unauthenticated calls must not be recorded, got %d events", n)
	}
}

func TestWebhook_RateLimited(t *testing.T) {
	env := newTestEnv(t, map[models.ResourceType]models.RateLimit{
		models.ResourceWebhookIngestion: {Hourly: 2, Daily: 10},
	})
	key := env.issueKey(t, uuid.New())

	for i := 0; i < 2; i++ {
		if rec := env.do(webhookRequest(key, validTweet)); rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec := env.do(webhookRequest(key, validTweet))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining-Hourly") != "0" {
		t.Errorf("remaining hourly = %q", rec.Header().Get("X-RateLimit-Remaining-Hourly"))
	}
}

func TestLeadStatus_VersionConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := uuid.New()
	key := env.issueKey(t, userID)
	leadID := decodeBody(t, env.do(webhookRequest(key, validTweet)))["lead_id"].(string)

	patch := func(version int64, token string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]interface{}{"status": "Contacted", "version": version})
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/leads/"+leadID+"/status", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		return env.do(req)
	}

	token := env.token(t, userID)
	rec := patch(1, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if v := decodeBody(t, rec)["version"]; v != float64(2) {
		t.Errorf("version = %v", v)
	}

	if rec := patch(1, token); rec.Code != http.StatusConflict {
		t.Fatalf("stale version: expected 409, got %d", rec.Code)
	}
	if rec := patch(2, env.token(t, uuid.New())); rec.Code != http.StatusUnauthorized {
		t.Fatalf("other user: expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := uuid.New()

	expired, _ := env.auth.Sign(userID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	noExpiry, _ := env.auth.Sign(userID, jwt.RegisteredClaims{})
	forged, _ := NewAuthenticator("other-secret").Sign(userID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"valid", "Bearer " + env.token(t, userID), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if rec := env.do(req); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestKeys_CreateAndList(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, uuid.New())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/keys", strings.NewReader(`{"name":"Zapier"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	if !strings.HasPrefix(created["key"].(string), created["prefix"].(string)) {
		t.Errorf("key does not start with its prefix: %v", created)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/keys", strings.NewReader(`{"name":""}`))
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := env.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name: expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(req)
	if strings.Contains(rec.Body.String(), created["key"].(string)) {
		t.Error("list must not expose the full key")
	}
}

func TestPitch_ThroughRouter(t *testing.T) {
	env := newTestEnv(t, nil)
	userID := uuid.New()
	key := env.issueKey(t, userID)
	leadID := decodeBody(t, env.do(webhookRequest(key, validTweet)))["lead_id"].(string)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/leads/"+leadID+"/pitch", strings.NewReader(`{"tone":"friendly"}`))
	req.Header.Set("Authorization", "Bearer "+env.token(t, userID))
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["pitch"] != "Hi @acme" {
		t.Errorf("pitch = %v", body["pitch"])
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/leads/"+leadID+"/pitch", strings.NewReader(`{"tone":"sarcastic"}`))
	req.Header.Set("Authorization", "Bearer "+env.token(t, userID))
	if rec := env.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad tone: expected 400, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := NewHealthHandler(failingPinger{}, "test")
	rec = httptest.NewRecorder()
	down.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Fatalf("expected a minted UUID, got %q", rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "  trace-42 ")
	rec = env.do(req)
	if got := rec.Header().Get(RequestIDHeader); got != "trace-42" {
		t.Fatalf("expected caller id to be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDSize+1))
	rec = env.do(req)
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Fatalf("expected oversized id to be replaced, got %q", rec.Header().Get(RequestIDHeader))
	}
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestLeadStream_DeliversOwnEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	userID := uuid.New()
	key := env.issueKey(t, userID)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/leads/stream?access_token=" + env.token(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler subscribes right after the upgrade completes
	deadline := time.Now().Add(2 * time.Second)
	for env.feed.Subscribers(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Another user's lead must not show up
	other := env.issueKey(t, uuid.New())
	env.do(webhookRequest(other, validTweet))
	env.do(webhookRequest(key, validTweet))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]interface{}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event["type"] != services.EventLeadCreated {
		t.Errorf("type = %v", event["type"])
	}
	lead, _ := event["lead"].(map[string]interface{})
	if lead == nil || lead["user_id"] != userID.String() {
		t.Errorf("unexpected event: %v", event)
	}
}
