package services

import (
	"context"
	"strings"
	"testing"

	"github.com/tbourn/go-queue-backend/internal/domain"
	"github.com/tbourn/go-queue-backend/internal/repo"
)

func newInboundService(t *testing.T) *InboundService {
	t.Helper()
	db := newServiceDB(t)
	return NewInboundService(db,
		NewConsentService(db, DefaultConsentRepo()),
		NewQueueService(db))
}

func TestHandleText_ConsentGate(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	// Anything before consent gets the consent notice and touches no queue
	// state, including the reserve keyword itself.
	reply, err := svc.HandleText(ctx, "u1", "予約")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if reply != tmplConsentRequest {
		t.Fatalf("expected consent request, got %q", reply)
	}
	if _, err := repo.ActiveTicket(ctx, svc.DB, "u1"); err == nil {
		t.Fatalf("no ticket may exist before consent")
	}

	// The consent keyword grants consent.
	reply, err = svc.HandleText(ctx, "u1", "同意")
	if err != nil {
		t.Fatalf("consent: %v", err)
	}
	if reply != tmplConsentGranted {
		t.Fatalf("expected consent granted, got %q", reply)
	}

	// Sending the keyword again now reads as an unknown command.
	reply, err = svc.HandleText(ctx, "u1", "同意")
	if err != nil {
		t.Fatalf("repeat consent: %v", err)
	}
	if reply != tmplHelp {
		t.Fatalf("expected help after repeat consent, got %q", reply)
	}
}

func TestHandleText_ReserveAndRepeat(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	if _, err := svc.HandleText(ctx, "u1", "同意"); err != nil {
		t.Fatalf("consent: %v", err)
	}

	reply, err := svc.HandleText(ctx, "u1", "予約")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !strings.Contains(reply, "#1") {
		t.Fatalf("accepted reply must carry the ticket number: %q", reply)
	}

	// Repeating reserve reports the existing ticket instead of erroring.
	reply, err = svc.HandleText(ctx, "u1", "予約")
	if err != nil {
		t.Fatalf("repeat reserve: %v", err)
	}
	if !strings.Contains(reply, "すでに予約済み") || !strings.Contains(reply, "#1") {
		t.Fatalf("expected already-queued reply, got %q", reply)
	}
}

func TestHandleText_ReserveWhileCalled(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	svc.HandleText(ctx, "u1", "同意")
	svc.HandleText(ctx, "u1", "予約")
	if _, err := svc.Queue.CallNext(ctx); err != nil {
		t.Fatalf("CallNext: %v", err)
	}

	reply, err := svc.HandleText(ctx, "u1", "予約")
	if err != nil {
		t.Fatalf("reserve while called: %v", err)
	}
	if !strings.Contains(reply, "お呼び出し中") {
		t.Fatalf("expected being-called reply, got %q", reply)
	}
}

func TestHandleText_CancelAndNothingToCancel(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	svc.HandleText(ctx, "u1", "同意")

	reply, err := svc.HandleText(ctx, "u1", "キャンセル")
	if err != nil {
		t.Fatalf("cancel with nothing: %v", err)
	}
	if reply != tmplNothingToDo {
		t.Fatalf("expected nothing-to-cancel reply, got %q", reply)
	}

	svc.HandleText(ctx, "u1", "予約")
	reply, err = svc.HandleText(ctx, "u1", "キャンセル")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !strings.Contains(reply, "キャンセルしました") {
		t.Fatalf("expected cancelled reply, got %q", reply)
	}
}

func TestHandleText_NormalizesWidthAndWhitespace(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	svc.HandleText(ctx, "u1", "　同意　") // ideographic spaces
	ok, err := svc.Consent.IsConsented(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("padded consent keyword not recognized: ok=%v err=%v", ok, err)
	}

	reply, err := svc.HandleText(ctx, "u1", " 予約 ")
	if err != nil {
		t.Fatalf("padded reserve: %v", err)
	}
	if !strings.Contains(reply, "#1") {
		t.Fatalf("expected accepted reply, got %q", reply)
	}
}

func TestHandleText_UnknownCommand_Help(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	svc.HandleText(ctx, "u1", "同意")
	reply, err := svc.HandleText(ctx, "u1", "こんにちは")
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if reply != tmplHelp {
		t.Fatalf("expected help, got %q", reply)
	}
	// Small talk must not create tickets.
	if _, err := repo.ActiveTicket(ctx, svc.DB, "u1"); err == nil {
		t.Fatalf("unknown command created a ticket")
	}
}

func TestHandleText_CustomKeywords(t *testing.T) {
	db := newServiceDB(t)
	svc := &InboundService{
		DB:      db,
		Consent: NewConsentService(db, DefaultConsentRepo()),
		Queue:   NewQueueService(db),
		Keywords: Keywords{
			Consent: "agree",
			Reserve: "reserve",
			Cancel:  "cancel",
		},
	}
	ctx := context.Background()

	if reply, err := svc.HandleText(ctx, "u1", "agree"); err != nil || reply != tmplConsentGranted {
		t.Fatalf("custom consent: reply=%q err=%v", reply, err)
	}
	reply, err := svc.HandleText(ctx, "u1", "reserve")
	if err != nil {
		t.Fatalf("custom reserve: %v", err)
	}
	if !strings.Contains(reply, "#1") {
		t.Fatalf("expected accepted reply, got %q", reply)
	}
	// The stock Japanese keyword is no longer a command.
	if reply, err := svc.HandleText(ctx, "u1", "キャンセル"); err != nil || reply != tmplHelp {
		t.Fatalf("stock keyword should be unknown: reply=%q err=%v", reply, err)
	}
}

func TestHandleText_WritesAuditTrail(t *testing.T) {
	svc := newInboundService(t)
	ctx := context.Background()

	if _, err := svc.HandleText(ctx, "u1", "同意"); err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	logs, err := repo.ListMessageLog(ctx, svc.DB, "u1", 0)
	if err != nil {
		t.Fatalf("ListMessageLog: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected inbound+reply audit records, got %d", len(logs))
	}
	if logs[0].Direction != domain.DirectionIn || logs[0].Content != "同意" {
		t.Fatalf("inbound record wrong: %+v", logs[0])
	}
	if logs[1].Direction != domain.DirectionOut || logs[1].Content != tmplConsentGranted {
		t.Fatalf("reply record wrong: %+v", logs[1])
	}
}
