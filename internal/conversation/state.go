// Package conversation drives guided, multi-turn dialogs with a single user.
//
// A dialog is a Session moving between States in response to two kinds of
// input: a reaction on the session's latest prompt, or free-form text. The
// Directory guarantees that each user has at most one active dialog and
// serializes every event for a given user.
package conversation

import (
	"context"
	"fmt"
)

// UserID identifies the end user a dialog belongs to.
type UserID string

// State is one node of a dialog. A State value is its own handler: Enter
// renders the state's prompt (or finishes the dialog) when the session moves
// into it. State values should be comparable so Session.Current can be
// compared against them.
type State interface {
	Enter(ctx context.Context, s *Session) error
}

// StateName returns a printable name for st, used in logs.
func StateName(st State) string {
	if st == nil {
		return "<none>"
	}
	if n, ok := st.(fmt.Stringer); ok {
		return n.String()
	}
	return fmt.Sprintf("%T", st)
}

// InputKind is one of the two kinds of input a dialog understands.
type InputKind int

const (
	// InputReaction is a selectable option picked on a prompt.
	InputReaction InputKind = iota + 1
	// InputText is a free-form text message.
	InputText
)

func (k InputKind) String() string {
	switch k {
	case InputReaction:
		return "reaction"
	case InputText:
		return "text"
	default:
		return fmt.Sprintf("InputKind(%d)", int(k))
	}
}

// Mode reports which input a session is currently waiting for.
type Mode int

const (
	// ModeNone means no prompt is outstanding.
	ModeNone Mode = iota
	// ModeReaction accepts only a reaction on the pending prompt.
	ModeReaction
	// ModeText accepts only text.
	ModeText
	// ModeEither accepts a reaction or text.
	ModeEither
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeReaction:
		return "reaction"
	case ModeText:
		return "text"
	case ModeEither:
		return "either"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Option binds a selectable symbol (usually an emoji) to the state it leads to.
type Option struct {
	Symbol string
	Next   State
}

// ContentHandler inspects raw text before a text transition is committed.
// Returning accepted == false keeps the session where it is; the handler is
// responsible for telling the user what was wrong. A non-nil error aborts the
// event and is reported to the caller.
type ContentHandler func(ctx context.Context, payload string) (accepted bool, err error)

// awaiting is the input a session is waiting for. Its three variants are the
// only legal combinations of prompt bookkeeping.
type awaiting interface {
	mode() Mode
}

type awaitReaction struct {
	messageID string
	options   []Option
}

func (awaitReaction) mode() Mode { return ModeReaction }

func (a awaitReaction) target(symbol string) (State, bool) {
	for _, o := range a.options {
		if o.Symbol == symbol {
			return o.Next, true
		}
	}
	return nil, false
}

type awaitText struct {
	next    State
	handler ContentHandler
}

func (awaitText) mode() Mode { return ModeText }

type awaitEither struct {
	awaitReaction
	awaitText
}

func (awaitEither) mode() Mode { return ModeEither }
