package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
)

// Default replies sent by the Router.
const (
	DefaultUnhandledMessage = "🤖 I didn't catch that. Send !help to see what I can do."
	DefaultErrorMessage     = "⚠️ Something went wrong while handling your message. Please try again."
)

// CommandFunc sees every text message before the user's dialog does, so
// commands like !cancel work mid-dialog. It reports whether the text was a
// command it understood; anything else goes on to the dialog.
type CommandFunc func(ctx context.Context, user conversation.UserID, text string) (handled bool, err error)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithCommands installs the command handler.
func WithCommands(fn CommandFunc) RouterOption {
	return func(r *Router) { r.commands = fn }
}

// WithDedup enables inbound deduplication by platform message ID.
func WithDedup(repo store.DedupRepo) RouterOption {
	return func(r *Router) { r.dedup = repo }
}

// WithDefaultMessage sets the reply to text nothing handled. An empty
// message disables the reply.
func WithDefaultMessage(msg string) RouterOption {
	return func(r *Router) { r.defaultMessage = msg }
}

// Router feeds inbound events to the dialogs in the Directory.
//
// Each event is processed on its sender's lane, so events from one user are
// handled strictly in arrival order while different users proceed in
// parallel.
type Router struct {
	dir            *conversation.Directory
	msgService     Service
	commands       CommandFunc
	dedup          store.DedupRepo
	defaultMessage string
	errorMessage   string
}

// NewRouter creates a Router reading from msgService.
func NewRouter(dir *conversation.Directory, msgService Service, opts ...RouterOption) *Router {
	r := &Router{
		dir:            dir,
		msgService:     msgService,
		defaultMessage: DefaultUnhandledMessage,
		errorMessage:   DefaultErrorMessage,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProcessEvent validates ev, drops duplicates and queues it on the sender's
// lane. It returns once the event is queued.
func (r *Router) ProcessEvent(ctx context.Context, ev models.Event) error {
	from, err := r.msgService.ValidateAndCanonicalizeRecipient(ev.From)
	if err != nil {
		slog.Error("Router ProcessEvent validation failed", "error", err, "from", ev.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	ev.From = from

	if r.dedup != nil && ev.MessageID != "" {
		fresh, err := r.dedup.RecordInbound(ev.MessageID, from)
		if err != nil {
			// Prefer a possible double delivery over losing the event.
			slog.Error("Router dedup record failed", "error", err, "message_id", ev.MessageID)
		} else if !fresh {
			slog.Info("Router dropping duplicate event", "message_id", ev.MessageID, "from", from)
			return nil
		}
	}

	user := conversation.UserID(from)
	return r.dir.Enqueue(ctx, user, func(ctx context.Context) {
		if err := r.handle(ctx, user, ev); err != nil {
			slog.Error("Router failed to process event", "error", err, "from", from, "kind", ev.Kind)
		}
		if r.dedup != nil && ev.MessageID != "" {
			if err := r.dedup.MarkProcessed(ev.MessageID); err != nil {
				slog.Error("Router mark processed failed", "error", err, "message_id", ev.MessageID)
			}
		}
	})
}

// handle runs on user's lane.
func (r *Router) handle(ctx context.Context, user conversation.UserID, ev models.Event) error {
	var handled bool
	var err error
	switch ev.Kind {
	case models.EventReaction:
		handled, err = r.dir.RouteReaction(ctx, user, ev.TargetID, ev.Body)
		if err != nil || handled {
			break
		}
		if !ev.Typed {
			slog.Debug("Router reaction not claimed by any dialog", "from", user, "target", ev.TargetID)
			break
		}
		// A symbol typed as a reply to a prompt nobody waits on anymore.
		handled, err = r.routeText(ctx, user, ev.Body)
	case models.EventText:
		handled, err = r.routeText(ctx, user, ev.Body)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	if err != nil {
		if !errors.Is(err, conversation.ErrDelivery) {
			if _, sendErr := r.msgService.SendMessage(ctx, string(user), r.errorMessage); sendErr != nil {
				slog.Error("Router failed to send error message", "error", sendErr, "from", user)
			}
		}
		return err
	}
	if handled {
		slog.Debug("Router event handled", "from", user, "kind", ev.Kind)
	}
	return nil
}

// routeText offers text to the commands first, then to the user's dialog, and
// answers with the default message when neither takes it.
func (r *Router) routeText(ctx context.Context, user conversation.UserID, text string) (bool, error) {
	if r.commands != nil {
		handled, err := r.commands(ctx, user, text)
		if err != nil || handled {
			return handled, err
		}
	}
	handled, err := r.dir.RouteText(ctx, user, text)
	if err != nil || handled {
		return handled, err
	}
	if r.defaultMessage == "" {
		return false, nil
	}
	if _, err := r.msgService.SendMessage(ctx, string(user), r.defaultMessage); err != nil {
		return false, &conversation.DeliveryError{Op: "default reply", User: user, Err: err}
	}
	return false, nil
}

// Start processes events from the messaging service until ctx is done or the
// event channel closes.
func (r *Router) Start(ctx context.Context) error {
	slog.Info("Router starting event processing")
	defer slog.Info("Router stopped event processing")
	for {
		select {
		case ev, ok := <-r.msgService.Events():
			if !ok {
				slog.Debug("Router events channel closed")
				return nil
			}
			if err := r.ProcessEvent(ctx, ev); err != nil {
				if errors.Is(err, conversation.ErrDirectoryClosed) {
					return nil
				}
				slog.Error("Router failed to queue event", "error", err, "from", ev.From)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
