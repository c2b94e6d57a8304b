package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
)

// DefaultIdleTimeout is how long a dialog may wait for input before it expires.
const DefaultIdleTimeout = 15 * time.Minute

// ExpiredMessage is sent to users whose dialog expired.
const ExpiredMessage = "⌛ Your dialog expired because there was no answer for a while. Start it again whenever you're ready."

// Notifier sends plain messages to users.
type Notifier interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// IdleSweeper cancels dialogs that have not accepted input for longer than
// the timeout. Each check runs on the user's lane, so a dialog can never
// expire while it is handling an event.
type IdleSweeper struct {
	dir      *conversation.Directory
	notifier Notifier
	timeout  time.Duration
	now      func() time.Time
}

// NewIdleSweeper creates a sweeper. notifier may be nil.
func NewIdleSweeper(dir *conversation.Directory, notifier Notifier, timeout time.Duration) *IdleSweeper {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &IdleSweeper{dir: dir, notifier: notifier, timeout: timeout, now: time.Now}
}

// Sweep checks every user once and returns how many dialogs expired.
func (s *IdleSweeper) Sweep(ctx context.Context) int {
	var expired atomic.Int32
	for _, user := range s.dir.Users() {
		err := s.dir.Exec(ctx, user, func(ctx context.Context, d conversation.Dialog) error {
			if d == nil || !d.Active() {
				return nil
			}
			idle := s.now().Sub(d.LastActivity())
			if idle < s.timeout {
				return nil
			}
			d.Cancel()
			expired.Add(1)
			slog.Info("IdleSweeper expired dialog", "user", user, "idle", idle.Round(time.Second))
			if s.notifier != nil {
				if _, err := s.notifier.SendMessage(ctx, string(user), ExpiredMessage); err != nil {
					slog.Warn("IdleSweeper failed to notify user", "error", err, "user", user)
				}
			}
			return nil
		})
		if errors.Is(err, conversation.ErrDirectoryClosed) {
			break
		}
		if err != nil && !errors.Is(err, conversation.ErrNoDialog) {
			slog.Error("IdleSweeper check failed", "error", err, "user", user)
		}
	}
	n := int(expired.Load())
	if n > 0 {
		slog.Debug("IdleSweeper sweep finished", "expired", n)
	}
	return n
}
