package messaging

import (
	"strings"
	"sync"

	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// promptOptions remembers the symbols attached to each user's latest prompt
// that carries options. Neither transport can show several selectable options
// on one message, so prompts print a symbol legend and a reply consisting of
// exactly one of those symbols counts as picking it.
type promptOptions struct {
	mu      sync.RWMutex
	prompts map[string]optionPrompt // recipient -> latest prompt with options
}

type optionPrompt struct {
	messageID string
	symbols   map[string]bool
}

func newPromptOptions() *promptOptions {
	return &promptOptions{prompts: make(map[string]optionPrompt)}
}

// attach records symbol as selectable on messageID. Options of an older prompt
// are forgotten once a newer prompt gets options.
func (p *promptOptions) attach(user, messageID, symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	op := p.prompts[user]
	if op.messageID != messageID {
		op = optionPrompt{messageID: messageID, symbols: make(map[string]bool)}
	}
	op.symbols[symbol] = true
	p.prompts[user] = op
}

// resolve turns a text event whose body is one of the user's remembered
// symbols into a typed reaction on that prompt. Other events pass unchanged.
func (p *promptOptions) resolve(ev models.Event) models.Event {
	if ev.Kind != models.EventText {
		return ev
	}
	symbol := strings.TrimSpace(ev.Body)
	p.mu.RLock()
	op, ok := p.prompts[ev.From]
	p.mu.RUnlock()
	if !ok || !op.symbols[symbol] {
		return ev
	}
	ev.Kind = models.EventReaction
	ev.Body = symbol
	ev.TargetID = op.messageID
	ev.Typed = true
	return ev
}
