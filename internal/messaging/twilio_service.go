package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API.
//
// Twilio cannot place reactions, so options are remembered per recipient
// instead: a reply consisting of exactly one of the symbols attached to the
// user's latest prompt is emitted as a typed reaction on that prompt.
type TwilioService struct {
	client  twiliowhatsapp.TwilioWhatsAppSender
	events  chan models.Event
	options *promptOptions

	mu      sync.RWMutex
	stopped bool
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService with a real or mock Twilio client
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:  client,
		events:  make(chan models.Event, DefaultChannelBufferSize),
		options: newPromptOptions(),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It accepts the "whatsapp:+123" form Twilio uses in webhooks.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channel and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	slog.Info("TwilioService stopped")
	return nil
}

// SendMessage sends a message via Twilio and returns the message SID.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	return s.client.SendMessage(ctx, "+"+canonicalTo, body)
}

// Deliver sends a dialog prompt.
func (s *TwilioService) Deliver(ctx context.Context, to conversation.UserID, content string) (string, error) {
	return s.SendMessage(ctx, string(to), content)
}

// AttachOption records symbol as selectable for messageID. Options of an
// older prompt are forgotten once a newer prompt gets options.
func (s *TwilioService) AttachOption(ctx context.Context, to conversation.UserID, messageID, symbol string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	s.options.attach(string(to), messageID, symbol)
	return nil
}

// Events returns the channel of inbound events.
func (s *TwilioService) Events() <-chan models.Event {
	return s.events
}

// HandleInbound converts one inbound Twilio message into an event.
func (s *TwilioService) HandleInbound(from, body, messageSID string) error {
	user, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	ev := models.Event{
		Kind:      models.EventText,
		MessageID: messageSID,
		From:      user,
		Body:      body,
		Time:      time.Now().Unix(),
	}
	s.safeEmit(s.options.resolve(ev))
	return nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	if err := s.HandleInbound(from, body, r.FormValue("MessageSid")); err != nil {
		slog.Warn("Twilio webhook rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// safeEmit pushes an event into the channel unless the service stopped.
func (s *TwilioService) safeEmit(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", ev.From)
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("TwilioService emitted inbound event", "from", ev.From, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping event", "from", ev.From)
	}
}
