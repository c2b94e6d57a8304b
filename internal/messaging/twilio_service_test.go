package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/twiliowhatsapp"
)

func TestTwilioService_Deliver(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	sid, err := svc.Deliver(context.Background(), "15550001", "hello")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 || sent[0].To != "+15550001" || sent[0].SID != sid {
		t.Errorf("sent = %+v", sent)
	}
}

func TestTwilioService_SymbolBecomesReaction(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	ctx := context.Background()

	old, _ := svc.Deliver(ctx, "15550001", "old prompt")
	svc.AttachOption(ctx, "15550001", old, "1️⃣")
	prompt, _ := svc.Deliver(ctx, "15550001", "pick")
	svc.AttachOption(ctx, "15550001", prompt, "✅")
	svc.AttachOption(ctx, "15550001", prompt, "❌")

	if err := svc.HandleInbound("whatsapp:+15550001", " ✅ ", "SM1"); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	ev := nextEvent(t, svc.Events())
	if ev.Kind != models.EventReaction || !ev.Typed || ev.Body != "✅" || ev.TargetID != prompt || ev.From != "15550001" {
		t.Errorf("event = %+v, want reaction on %s", ev, prompt)
	}

	// Symbols of an older prompt are plain text now.
	svc.HandleInbound("whatsapp:+15550001", "1️⃣", "SM2")
	if ev := nextEvent(t, svc.Events()); ev.Kind != models.EventText {
		t.Errorf("stale symbol event = %+v, want text", ev)
	}

	// Another user's reply is never translated.
	svc.HandleInbound("whatsapp:+15550002", "✅", "SM3")
	if ev := nextEvent(t, svc.Events()); ev.Kind != models.EventText {
		t.Errorf("other user's event = %+v, want text", ev)
	}
}

func TestTwilioService_WebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{"From": {"whatsapp:+15550001"}, "Body": {"hi"}, "MessageSid": {"SM9"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	ev := nextEvent(t, svc.Events())
	if ev.Body != "hi" || ev.MessageID != "SM9" || ev.From != "15550001" {
		t.Errorf("event = %+v", ev)
	}

	req = httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader("From=whatsapp%3A%2B15550001"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	svc.TwilioWebhookHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing body status = %d, want 400", rec.Code)
	}
}

func TestTwilioService_Stop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	svc.Stop()
	if _, err := svc.SendMessage(context.Background(), "15550001", "x"); err != ErrServiceStopped {
		t.Errorf("SendMessage after Stop = %v", err)
	}
	if err := svc.AttachOption(context.Background(), "15550001", "SM1", "✅"); err != ErrServiceStopped {
		t.Errorf("AttachOption after Stop = %v", err)
	}
	// Inbound traffic after Stop is dropped.
	svc.HandleInbound("whatsapp:+15550001", "late", "SM4")
}
