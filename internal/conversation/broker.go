package conversation

import (
	"context"
	"log/slog"
)

// Symbols offered by the interruption prompt.
const (
	SymbolResume   = "▶️"
	SymbolStartNew = "🆕"
)

// InterruptionPrompt is the message a Broker sends.
const InterruptionPrompt = "You are already in the middle of another dialog.\n" +
	SymbolResume + " continue where you left off\n" +
	SymbolStartNew + " abandon it and start the new one"

// Broker is the transient dialog installed when a user asks for a new dialog
// while another one is active. It asks a single question and then hands the
// slot back to one of the two sessions.
type Broker struct {
	*Session
	dir         *Directory
	interrupted *Session
	pending     *Session
}

func newBroker(dir *Directory, interrupted, pending *Session) *Broker {
	b := &Broker{dir: dir, interrupted: interrupted, pending: pending}
	b.Session = NewSession(pending.renderer, pending.Owner(), pending.Scope(), brokerAsk{b})
	return b
}

// Interrupted returns the session that was paused.
func (b *Broker) Interrupted() *Session { return b.interrupted }

// Pending returns the session waiting to be started.
func (b *Broker) Pending() *Session { return b.pending }

// Cancel abandons the broker together with both sessions it holds.
func (b *Broker) Cancel() {
	b.Session.Cancel()
	b.interrupted.Cancel()
	b.pending.Cancel()
}

type brokerAsk struct{ b *Broker }

func (st brokerAsk) String() string { return "interruption.ask" }

func (st brokerAsk) Enter(ctx context.Context, s *Session) error {
	return s.PromptReaction(ctx, InterruptionPrompt,
		Option{Symbol: SymbolResume, Next: brokerResume(st)},
		Option{Symbol: SymbolStartNew, Next: brokerStartNew(st)},
	)
}

type brokerResume struct{ b *Broker }

func (st brokerResume) String() string { return "interruption.resume" }

func (st brokerResume) Enter(ctx context.Context, s *Session) error {
	s.Close()
	slog.Info("Broker resuming interrupted dialog", "user", s.Owner(), "state", StateName(st.b.interrupted.Current()))
	st.b.dir.assign(ctx, st.b.interrupted)
	return st.b.interrupted.Dispatch(ctx)
}

type brokerStartNew struct{ b *Broker }

func (st brokerStartNew) String() string { return "interruption.start_new" }

func (st brokerStartNew) Enter(ctx context.Context, s *Session) error {
	s.Close()
	slog.Info("Broker starting new dialog", "user", s.Owner(), "abandoned_state", StateName(st.b.interrupted.Current()))
	st.b.interrupted.Cancel()
	st.b.dir.assign(ctx, st.b.pending)
	return st.b.pending.Dispatch(ctx)
}
