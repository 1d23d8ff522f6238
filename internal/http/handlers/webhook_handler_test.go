package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/messaging"
)

const testChannelSecret = "test-secret"

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:queue_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Ticket{}, &domain.MessageLog{}, &domain.WebhookEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeInbound records handled messages and returns a canned reply.
type fakeInbound struct {
	calls []string
	reply string
	err   error
}

func (f *fakeInbound) HandleText(_ context.Context, userID, text string) (string, error) {
	f.calls = append(f.calls, userID+":"+text)
	return f.reply, f.err
}

// fakeReplier records replies.
type fakeReplier struct {
	tokens []string
	texts  []string
	err    error
}

func (f *fakeReplier) Reply(_ context.Context, token, text string) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	f.texts = append(f.texts, text)
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func textEventBody(t *testing.T, eventID, userID, text string) []byte {
	t.Helper()
	body := messaging.WebhookBody{
		Destination: "bot",
		Events: []messaging.Event{{
			Type:       messaging.EventTypeMessage,
			WebhookID:  eventID,
			ReplyToken: "tok-" + eventID,
			Source:     messaging.EventSource{Type: messaging.SourceTypeUser, UserID: userID},
			Message:    messaging.EventMessage{ID: "m-" + eventID, Type: messaging.MessageTypeText, Text: text},
		}},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return raw
}

func newWebhookRouter(h *WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/callback", h.Callback)
	return r
}

func postCallback(r *gin.Engine, raw []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(raw))
	if signature != "" {
		req.Header.Set(messaging.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallback_BadSignature_400(t *testing.T) {
	fi := &fakeInbound{reply: "ok"}
	h := NewWebhookHandler(newHandlerDB(t), fi, &fakeReplier{}, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	raw := textEventBody(t, "e1", "u1", "予約")

	w := postCallback(r, raw, "") // missing header
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != ErrCodeBadSignature {
		t.Fatalf("expected %s, got %s", ErrCodeBadSignature, resp.Code)
	}

	w = postCallback(r, raw, signBody("wrong-secret", raw))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong secret, got %d", w.Code)
	}
	if len(fi.calls) != 0 {
		t.Fatalf("unsigned delivery must not be handled: %+v", fi.calls)
	}
}

func TestCallback_MalformedBody_400(t *testing.T) {
	h := NewWebhookHandler(newHandlerDB(t), &fakeInbound{}, nil, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	raw := []byte("{not json")
	w := postCallback(r, raw, signBody(testChannelSecret, raw))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCallback_TextEvent_HandledAndReplied(t *testing.T) {
	fi := &fakeInbound{reply: "受付しました"}
	fr := &fakeReplier{}
	h := NewWebhookHandler(newHandlerDB(t), fi, fr, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	raw := textEventBody(t, "e1", "u1", "予約")
	w := postCallback(r, raw, signBody(testChannelSecret, raw))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if len(fi.calls) != 1 || fi.calls[0] != "u1:予約" {
		t.Fatalf("inbound not routed: %+v", fi.calls)
	}
	if len(fr.tokens) != 1 || fr.tokens[0] != "tok-e1" || fr.texts[0] != "受付しました" {
		t.Fatalf("reply not sent: %+v", fr)
	}
}

func TestCallback_RedeliveredEvent_HandledOnce(t *testing.T) {
	fi := &fakeInbound{reply: "ok"}
	fr := &fakeReplier{}
	h := NewWebhookHandler(newHandlerDB(t), fi, fr, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	raw := textEventBody(t, "e1", "u1", "予約")
	sig := signBody(testChannelSecret, raw)

	for i := 0; i < 2; i++ {
		if w := postCallback(r, raw, sig); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, w.Code)
		}
	}

	if len(fi.calls) != 1 {
		t.Fatalf("redelivered event must be handled once, got %d handlings", len(fi.calls))
	}
	if len(fr.tokens) != 1 {
		t.Fatalf("redelivered event must be replied once, got %d replies", len(fr.tokens))
	}
}

func TestCallback_NonTextEvents_Skipped(t *testing.T) {
	fi := &fakeInbound{reply: "ok"}
	h := NewWebhookHandler(newHandlerDB(t), fi, &fakeReplier{}, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	body := messaging.WebhookBody{Events: []messaging.Event{
		{Type: "follow", Source: messaging.EventSource{Type: "user", UserID: "u1"}},
		{Type: "message", Source: messaging.EventSource{Type: "user", UserID: "u1"},
			Message: messaging.EventMessage{ID: "m1", Type: "sticker"}},
	}}
	raw, _ := json.Marshal(body)

	w := postCallback(r, raw, signBody(testChannelSecret, raw))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fi.calls) != 0 {
		t.Fatalf("non-text events must not be routed: %+v", fi.calls)
	}
}

func TestCallback_InboundError_NoReplyStill200(t *testing.T) {
	fi := &fakeInbound{err: fmt.Errorf("db down")}
	fr := &fakeReplier{}
	h := NewWebhookHandler(newHandlerDB(t), fi, fr, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	raw := textEventBody(t, "e1", "u1", "予約")
	w := postCallback(r, raw, signBody(testChannelSecret, raw))

	// Event-level failures never bubble to the platform.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fr.tokens) != 0 {
		t.Fatalf("no reply may be sent on inbound failure: %+v", fr)
	}
}

func TestCallback_NilReplier_OK(t *testing.T) {
	fi := &fakeInbound{reply: "ok"}
	h := NewWebhookHandler(newHandlerDB(t), fi, nil, testChannelSecret, time.Hour)
	r := newWebhookRouter(h)

	raw := textEventBody(t, "e1", "u1", "予約")
	if w := postCallback(r, raw, signBody(testChannelSecret, raw)); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(fi.calls) != 1 {
		t.Fatalf("event must still be handled without a replier")
	}
}
