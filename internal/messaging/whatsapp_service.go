package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
//
// WhatsApp keeps a single reaction per sender on a message, so the bot cannot
// offer several options as its own reactions. Prompts list their symbols in
// the text instead; the user picks one by reacting to the prompt with it or by
// replying with just the symbol.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // access to underlying client for event handling
	events   chan models.Event
	options  *promptOptions

	mu      sync.RWMutex
	stopped bool
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:  client,
		events:  make(chan models.Event, DefaultChannelBufferSize),
		options: newPromptOptions(),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient reduces a phone number or JID user part to digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start registers the whatsmeow event handler. Without a full client (tests)
// events can still be injected through HandleEvent.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	handlerID := s.waClient.GetClient().AddEventHandler(s.HandleEvent)
	go func() {
		<-ctx.Done()
		s.waClient.GetClient().RemoveEventHandler(handlerID)
		slog.Debug("WhatsAppService event handler removed")
	}()
	slog.Info("WhatsAppService event handler registered")
	return nil
}

// Stop closes the event channel. Further sends fail with ErrServiceStopped.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().Disconnect()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SendMessage sends a text message and returns its WhatsApp message ID.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return "", err
	}
	id, err := s.client.SendMessage(ctx, canonicalTo, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return "", err
	}
	slog.Debug("WhatsAppService message sent", "to", canonicalTo, "message_id", id)
	return id, nil
}

// Deliver sends a dialog prompt.
func (s *WhatsAppService) Deliver(ctx context.Context, to conversation.UserID, content string) (string, error) {
	return s.SendMessage(ctx, string(to), content)
}

// AttachOption records symbol as selectable on messageID.
func (s *WhatsAppService) AttachOption(ctx context.Context, to conversation.UserID, messageID, symbol string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	s.options.attach(string(to), messageID, symbol)
	return nil
}

// Events returns a channel of inbound events.
func (s *WhatsAppService) Events() <-chan models.Event {
	return s.events
}

// HandleEvent is the whatsmeow event handler.
func (s *WhatsAppService) HandleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Connected:
		slog.Info("WhatsAppService connected")
	case *events.Disconnected:
		slog.Warn("WhatsAppService disconnected")
	default:
		slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
	}
}

// handleIncomingMessage turns direct text messages and reactions into events.
// A text holding only a symbol of the latest prompt counts as a reaction.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	base := models.Event{
		MessageID: evt.Info.ID,
		From:      evt.Info.Sender.User,
		Time:      evt.Info.Timestamp.Unix(),
	}

	if reaction := evt.Message.GetReactionMessage(); reaction != nil {
		if reaction.GetText() == "" {
			// An empty reaction is the user removing one.
			return
		}
		base.Kind = models.EventReaction
		base.Body = reaction.GetText()
		base.TargetID = reaction.GetKey().GetID()
		s.emit(base)
		return
	}

	text := evt.Message.GetConversation()
	if text == "" {
		text = evt.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}
	base.Kind = models.EventText
	base.Body = text
	s.emit(s.options.resolve(base))
}

func (s *WhatsAppService) emit(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", ev.From)
		return
	}
	select {
	case s.events <- ev:
		slog.Debug("WhatsAppService inbound event forwarded", "from", ev.From, "kind", ev.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping event", "from", ev.From, "timeout", DefaultChannelTimeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.ChatPresence:
		return "ChatPresence"
	case *events.HistorySync:
		return "HistorySync"
	default:
		return "Unknown"
	}
}
