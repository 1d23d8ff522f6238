package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-queue-backend/internal/config"
	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/messaging"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := db.AutoMigrate(&domain.User{}, &domain.Ticket{}, &domain.MessageLog{}, &domain.WebhookEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		RateRPS:   100,
		RateBurst: 10,
		CORS:      config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:  config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:      config.OTELConfig{ServiceName: "test-svc"},
		Messaging: config.MessagingConfig{ChannelSecret: "router-secret"},
		Keywords:  config.KeywordConfig{Consent: "同意", Reserve: "予約", Cancel: "キャンセル"},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), testConfig(), Messaging{})

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (DELETE /callback)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/callback", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /callback expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, newTestDB(t), cfg, Messaging{})

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

// Smoke test that a request traverses tracing + ratelimit + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // only set on https
	RegisterRoutes(r, newTestDB(t), cfg, Messaging{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected security headers, got %q", got)
	}
}

// End-to-end through the wired router: signed reserve command produces a
// waiting ticket, then the operator endpoints call and finish it.
func TestRouter_WebhookToAdmin_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	db := newTestDB(t)
	RegisterRoutes(r, db, cfg, Messaging{})

	post := func(body []byte) *httptest.ResponseRecorder {
		mac := hmac.New(sha256.New, []byte(cfg.Messaging.ChannelSecret))
		mac.Write(body)
		req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
		req.Header.Set(messaging.SignatureHeader, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	event := func(id, text string) []byte {
		return []byte(fmt.Sprintf(`{"events":[{"type":"message","webhookEventId":%q,"replyToken":"tok","source":{"type":"user","userId":"u1"},"message":{"id":"m-%s","type":"text","text":%q}}]}`, id, id, text))
	}

	if w := post(event("e1", "同意")); w.Code != http.StatusOK {
		t.Fatalf("consent: %d %s", w.Code, w.Body.String())
	}
	if w := post(event("e2", "予約")); w.Code != http.StatusOK {
		t.Fatalf("reserve: %d %s", w.Code, w.Body.String())
	}

	// One active ticket in the DB.
	var tickets []domain.Ticket
	if err := db.Find(&tickets).Error; err != nil || len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d err=%v", len(tickets), err)
	}
	if tickets[0].Status != domain.StatusWaiting {
		t.Fatalf("expected waiting, got %s", tickets[0].Status)
	}

	// Operator calls and finishes it.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/call_next", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("call_next: %d %s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/admin/finish/%d", tickets[0].ID), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("finish: %d %s", w.Code, w.Body.String())
	}

	var done domain.Ticket
	if err := db.First(&done, "id = ?", tickets[0].ID).Error; err != nil {
		t.Fatalf("reload ticket: %v", err)
	}
	if done.Status != domain.StatusArrived {
		t.Fatalf("expected arrived, got %s", done.Status)
	}
}
