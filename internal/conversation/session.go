package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Renderer delivers prompts to a user. It is implemented by the messaging
// services.
type Renderer interface {
	// Deliver sends content to the user and returns the delivered message's ID.
	Deliver(ctx context.Context, to UserID, content string) (messageID string, err error)
	// AttachOption decorates a delivered message with a selectable symbol.
	AttachOption(ctx context.Context, to UserID, messageID, symbol string) error
}

// Session is one running dialog with one user.
//
// Apart from Active, LastActivity, Close and Cancel, a Session must only be
// used from one goroutine at a time. Sessions started through a Directory are
// driven exclusively by their owner's lane.
type Session struct {
	owner    UserID
	scope    string
	renderer Renderer

	current   State
	await     awaiting
	lastInput string

	active       atomic.Bool
	lastActivity atomic.Int64

	mu         sync.Mutex
	onCancel   []func()
	cancelOnce sync.Once
}

// NewSession creates an active session for owner in scope, positioned at
// initial. Nothing is rendered until the session is dispatched, normally by
// Directory.Start.
func NewSession(renderer Renderer, owner UserID, scope string, initial State) *Session {
	if initial == nil {
		panic("conversation: NewSession called with nil initial state")
	}
	if renderer == nil {
		panic("conversation: NewSession called with nil renderer")
	}
	s := &Session{
		owner:    owner,
		scope:    scope,
		renderer: renderer,
		current:  initial,
	}
	s.active.Store(true)
	s.touch()
	slog.Debug("Session created", "owner", owner, "scope", scope, "initial", StateName(initial))
	return s
}

// Owner returns the user this dialog belongs to.
func (s *Session) Owner() UserID { return s.owner }

// Scope returns the community or workspace the dialog concerns.
func (s *Session) Scope() string { return s.scope }

// Current returns the state in focus.
func (s *Session) Current() State { return s.current }

// Active reports whether the session still accepts input.
func (s *Session) Active() bool { return s.active.Load() }

// LastInput returns the most recently accepted reaction symbol or text.
func (s *Session) LastInput() string { return s.lastInput }

// LastActivity returns when the session last accepted input or was created.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Mode returns the input the session is currently waiting for.
func (s *Session) Mode() Mode {
	if s.await == nil {
		return ModeNone
	}
	return s.await.mode()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// PromptReaction delivers content, attaches one option per entry and waits
// for a reaction on the delivered message.
func (s *Session) PromptReaction(ctx context.Context, content string, options ...Option) error {
	checkOptions(options)
	messageID, err := s.deliver(ctx, content, options)
	if err != nil {
		return err
	}
	s.await = awaitReaction{messageID: messageID, options: options}
	slog.Debug("Session PromptReaction issued", "owner", s.owner, "state", StateName(s.current), "message_id", messageID, "options", len(options))
	return nil
}

// PromptText delivers content and waits for a text reply. The reply is passed
// to handler (which may be nil) before the session moves to next.
func (s *Session) PromptText(ctx context.Context, content string, next State, handler ContentHandler) error {
	if next == nil {
		panic("conversation: PromptText called with nil next state")
	}
	if _, err := s.deliver(ctx, content, nil); err != nil {
		return err
	}
	s.await = awaitText{next: next, handler: handler}
	slog.Debug("Session PromptText issued", "owner", s.owner, "state", StateName(s.current), "next", StateName(next))
	return nil
}

// PromptHybrid combines PromptText and PromptReaction: either a text reply or
// a reaction on the delivered message moves the session on.
func (s *Session) PromptHybrid(ctx context.Context, content string, next State, handler ContentHandler, options ...Option) error {
	if next == nil {
		panic("conversation: PromptHybrid called with nil next state")
	}
	checkOptions(options)
	messageID, err := s.deliver(ctx, content, options)
	if err != nil {
		return err
	}
	s.await = awaitEither{
		awaitReaction: awaitReaction{messageID: messageID, options: options},
		awaitText:     awaitText{next: next, handler: handler},
	}
	slog.Debug("Session PromptHybrid issued", "owner", s.owner, "state", StateName(s.current), "message_id", messageID, "next", StateName(next), "options", len(options))
	return nil
}

// Say delivers an informational message without changing what the session
// waits for. Content handlers use it for corrective messages.
func (s *Session) Say(ctx context.Context, content string) error {
	_, err := s.deliver(ctx, content, nil)
	return err
}

func (s *Session) deliver(ctx context.Context, content string, options []Option) (string, error) {
	messageID, err := s.renderer.Deliver(ctx, s.owner, content)
	if err != nil {
		slog.Error("Session deliver failed", "error", err, "owner", s.owner)
		return "", &DeliveryError{Op: "deliver", User: s.owner, Err: err}
	}
	for _, o := range options {
		if err := s.renderer.AttachOption(ctx, s.owner, messageID, o.Symbol); err != nil {
			slog.Error("Session attach option failed", "error", err, "owner", s.owner, "message_id", messageID, "symbol", o.Symbol)
			return "", &DeliveryError{Op: "attach", User: s.owner, Err: err}
		}
	}
	return messageID, nil
}

// checkOptions rejects options without a target state. A transition to
// nowhere is a programming error, not a runtime condition.
func checkOptions(options []Option) {
	for _, o := range options {
		if o.Next == nil {
			panic(fmt.Sprintf("conversation: option %q has no next state", o.Symbol))
		}
	}
}

// HandleReaction applies a reaction. Unknown symbols, and any reaction while
// the session is closed or not waiting for one, are ignored. Callers should
// first confirm the reaction belongs to this session with IsOwnPrompt.
func (s *Session) HandleReaction(ctx context.Context, symbol string) error {
	if !s.Active() {
		return nil
	}
	var pending awaitReaction
	switch a := s.await.(type) {
	case awaitReaction:
		pending = a
	case awaitEither:
		pending = a.awaitReaction
	default:
		return nil
	}
	next, ok := pending.target(symbol)
	if !ok {
		slog.Debug("Session ignoring unknown reaction", "owner", s.owner, "symbol", symbol)
		return nil
	}

	slog.Debug("Session reaction accepted", "owner", s.owner, "symbol", symbol, "from", StateName(s.current), "to", StateName(next))
	s.lastInput = symbol
	s.await = nil
	s.current = next
	s.touch()
	return s.Dispatch(ctx)
}

// HandleText applies a text message. It is ignored while the session is
// closed or not waiting for text. A rejecting content handler leaves the
// session exactly where it was.
func (s *Session) HandleText(ctx context.Context, payload string) error {
	if !s.Active() {
		return nil
	}
	var pending awaitText
	switch a := s.await.(type) {
	case awaitText:
		pending = a
	case awaitEither:
		pending = a.awaitText
	default:
		return nil
	}

	if pending.handler != nil {
		accepted, err := pending.handler(ctx, payload)
		if err != nil {
			slog.Error("Session content handler failed", "error", err, "owner", s.owner, "state", StateName(s.current))
			return fmt.Errorf("content handler in state %s: %w", StateName(s.current), err)
		}
		if !accepted {
			slog.Debug("Session text rejected", "owner", s.owner, "state", StateName(s.current))
			return nil
		}
		if !s.Active() {
			return nil
		}
	}

	slog.Debug("Session text accepted", "owner", s.owner, "from", StateName(s.current), "to", StateName(pending.next))
	s.lastInput = payload
	s.await = nil
	s.current = pending.next
	s.touch()
	return s.Dispatch(ctx)
}

// Dispatch enters the current state. It is the single re-entry point used by
// the event handlers and by the Directory when a session is started or
// resumed.
func (s *Session) Dispatch(ctx context.Context) error {
	slog.Debug("Session Dispatch", "owner", s.owner, "state", StateName(s.current))
	if err := s.current.Enter(ctx, s); err != nil {
		return fmt.Errorf("enter state %s: %w", StateName(s.current), err)
	}
	return nil
}

// IsOwnPrompt reports whether messageID is the prompt this session is waiting
// on a reaction for.
func (s *Session) IsOwnPrompt(messageID string) bool {
	if messageID == "" {
		return false
	}
	switch a := s.await.(type) {
	case awaitReaction:
		return a.messageID == messageID
	case awaitEither:
		return a.messageID == messageID
	default:
		return false
	}
}

// Accepts reports whether the session currently waits for input of kind.
func (s *Session) Accepts(kind InputKind) bool {
	switch s.Mode() {
	case ModeEither:
		return kind == InputReaction || kind == InputText
	case ModeReaction:
		return kind == InputReaction
	case ModeText:
		return kind == InputText
	default:
		return false
	}
}

// Close ends the dialog. A closed session never becomes active again.
func (s *Session) Close() {
	if s.active.Swap(false) {
		slog.Debug("Session closed", "owner", s.owner, "state", StateName(s.current))
	}
}

// OnCancel registers fn to run when the session is cancelled.
func (s *Session) OnCancel(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCancel = append(s.onCancel, fn)
}

// Cancel closes the session and releases whatever the dialog registered with
// OnCancel. It is used when a dialog is abandoned rather than finished.
func (s *Session) Cancel() {
	s.Close()
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		hooks := s.onCancel
		s.onCancel = nil
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
		slog.Debug("Session cancelled", "owner", s.owner, "hooks", len(hooks))
	})
}
