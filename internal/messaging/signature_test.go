package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateSignature_Valid(t *testing.T) {
	body := []byte(`{"events":[]}`)
	if !ValidateSignature("secret", body, sign("secret", body)) {
		t.Fatalf("valid signature rejected")
	}
}

func TestValidateSignature_Invalid(t *testing.T) {
	body := []byte(`{"events":[]}`)

	if ValidateSignature("secret", body, sign("other-secret", body)) {
		t.Fatalf("wrong secret accepted")
	}
	if ValidateSignature("secret", []byte(`{"events":[{}]}`), sign("secret", body)) {
		t.Fatalf("tampered body accepted")
	}
	if ValidateSignature("secret", body, "not-base64!") {
		t.Fatalf("garbage signature accepted")
	}
}

func TestValidateSignature_EmptyInputs(t *testing.T) {
	body := []byte("x")
	if ValidateSignature("", body, sign("", body)) {
		t.Fatalf("empty secret must always fail")
	}
	if ValidateSignature("secret", body, "") {
		t.Fatalf("empty signature must always fail")
	}
}

func TestParseWebhook_TextEvent(t *testing.T) {
	raw := []byte(`{
		"destination": "bot-1",
		"events": [{
			"type": "message",
			"webhookEventId": "evt-1",
			"replyToken": "tok-1",
			"timestamp": 1700000000000,
			"source": {"type": "user", "userId": "u1"},
			"message": {"id": "m1", "type": "text", "text": "予約"}
		}]
	}`)

	body, err := ParseWebhook(raw)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if body.Destination != "bot-1" || len(body.Events) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}

	e := &body.Events[0]
	if !e.IsText() {
		t.Fatalf("text event not recognized: %+v", e)
	}
	if e.Message.Text != "予約" || e.ReplyToken != "tok-1" {
		t.Fatalf("unexpected event fields: %+v", e)
	}
	if e.DedupeKey() != "evt-1" {
		t.Fatalf("expected webhookEventId as dedupe key, got %q", e.DedupeKey())
	}
}

func TestParseWebhook_Malformed(t *testing.T) {
	if _, err := ParseWebhook([]byte("{not json")); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}

func TestEvent_IsText_Negative(t *testing.T) {
	cases := []Event{
		{Type: "follow", Source: EventSource{Type: "user", UserID: "u1"}},
		{Type: "message", Message: EventMessage{Type: "sticker"}, Source: EventSource{Type: "user", UserID: "u1"}},
		{Type: "message", Message: EventMessage{Type: "text"}, Source: EventSource{Type: "group"}},
		{Type: "message", Message: EventMessage{Type: "text"}, Source: EventSource{Type: "user"}}, // no user id
	}
	for i, e := range cases {
		if e.IsText() {
			t.Fatalf("case %d: non-routable event accepted: %+v", i, e)
		}
	}
}

func TestEvent_DedupeKey_FallsBackToMessageID(t *testing.T) {
	e := Event{Message: EventMessage{ID: "m1"}}
	if e.DedupeKey() != "m1" {
		t.Fatalf("expected message id fallback, got %q", e.DedupeKey())
	}
}
