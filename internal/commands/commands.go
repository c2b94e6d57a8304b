// Package commands parses the bot's prefix commands and starts the matching
// dialogs.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
	"github.com/nerdycraft/NerpyBot-sub000/internal/wizard"
)

// DefaultPrefix marks a text message as a command.
const DefaultPrefix = "!"

// DefaultScope is used when no scope is configured.
const DefaultScope = "default"

// Messenger delivers dialog prompts and plain replies.
type Messenger interface {
	conversation.Renderer
	SendMessage(ctx context.Context, to string, body string) (string, error)
}

// TemplateStore is the template storage the commands need.
type TemplateStore interface {
	wizard.TemplateStore
	ListTemplates(scope string) ([]models.Template, error)
}

// Opts holds the optional parts of a Handler.
type Opts struct {
	Prefix  string
	Scope   string
	Catalog *wizard.Catalog
	Drafter wizard.Drafter
}

// Option modifies Opts.
type Option func(*Opts)

// WithPrefix sets the command prefix.
func WithPrefix(prefix string) Option {
	return func(o *Opts) { o.Prefix = prefix }
}

// WithScope sets the scope dialogs and templates belong to.
func WithScope(scope string) Option {
	return func(o *Opts) { o.Scope = scope }
}

// WithCatalog enables the form commands.
func WithCatalog(c *wizard.Catalog) Option {
	return func(o *Opts) { o.Catalog = c }
}

// WithDrafter enables generated template drafts.
func WithDrafter(d wizard.Drafter) Option {
	return func(o *Opts) { o.Drafter = d }
}

var commandHelp = []struct{ usage, help string }{
	{"help", "show this list"},
	{"forms", "list the forms you can fill in"},
	{"apply <form>", "fill in a form"},
	{"template <name>", "write or replace a message template"},
	{"templates", "list the saved templates"},
	{"cancel", "abandon your current dialog"},
}

// Handler executes commands for text no dialog took.
type Handler struct {
	dir         *conversation.Directory
	msg         Messenger
	submissions wizard.SubmissionStore
	templates   TemplateStore
	prefix      string
	scope       string
	catalog     *wizard.Catalog
	drafter     wizard.Drafter
}

// NewHandler creates a Handler.
func NewHandler(dir *conversation.Directory, msg Messenger, submissions wizard.SubmissionStore, templates TemplateStore, opts ...Option) *Handler {
	o := Opts{Prefix: DefaultPrefix, Scope: DefaultScope}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Scope == "" {
		o.Scope = DefaultScope
	}
	return &Handler{
		dir:         dir,
		msg:         msg,
		submissions: submissions,
		templates:   templates,
		prefix:      o.Prefix,
		scope:       o.Scope,
		catalog:     o.Catalog,
		drafter:     o.Drafter,
	}
}

// Handle runs text as a command. It reports false for text without the
// prefix so the caller can fall back to its default reply.
func (h *Handler) Handle(ctx context.Context, user conversation.UserID, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, h.prefix) {
		return false, nil
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, h.prefix), " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	var run func(context.Context, conversation.UserID, string) error
	switch name {
	case "help":
		run = h.help
	case "forms":
		run = h.forms
	case "apply":
		run = h.apply
	case "template":
		run = h.template
	case "templates":
		run = h.listTemplates
	case "cancel":
		run = h.cancel
	default:
		slog.Debug("Commands unknown command", "user", user, "command", name)
		return true, h.reply(ctx, user, fmt.Sprintf("Unknown command %q. Send %shelp for the list.", name, h.prefix))
	}
	slog.Info("Commands Handle", "user", user, "command", name)
	if err := run(ctx, user, arg); err != nil {
		return true, fmt.Errorf("command %s: %w", name, err)
	}
	return true, nil
}

func (h *Handler) reply(ctx context.Context, user conversation.UserID, body string) error {
	if _, err := h.msg.SendMessage(ctx, string(user), body); err != nil {
		return &conversation.DeliveryError{Op: "reply", User: user, Err: err}
	}
	return nil
}

func (h *Handler) help(ctx context.Context, user conversation.UserID, _ string) error {
	var b strings.Builder
	b.WriteString("Here is what I can do:")
	for _, c := range commandHelp {
		fmt.Fprintf(&b, "\n%s%s - %s", h.prefix, c.usage, c.help)
	}
	return h.reply(ctx, user, b.String())
}

func (h *Handler) forms(ctx context.Context, user conversation.UserID, _ string) error {
	if h.catalog == nil {
		return h.reply(ctx, user, "No forms are configured.")
	}
	var b strings.Builder
	b.WriteString("📋 Available forms:")
	for _, f := range h.catalog.Forms() {
		fmt.Fprintf(&b, "\n%s - %s", f.Name, f.Title)
	}
	fmt.Fprintf(&b, "\n\nSend %sapply <form> to start one.", h.prefix)
	return h.reply(ctx, user, b.String())
}

func (h *Handler) apply(ctx context.Context, user conversation.UserID, arg string) error {
	if arg == "" {
		return h.reply(ctx, user, fmt.Sprintf("Usage: %sapply <form>", h.prefix))
	}
	if h.catalog == nil {
		return h.reply(ctx, user, "No forms are configured.")
	}
	form, err := h.catalog.Get(arg)
	if errors.Is(err, wizard.ErrUnknownForm) {
		return h.reply(ctx, user, fmt.Sprintf("There is no form called %q. Send %sforms for the list.", arg, h.prefix))
	}
	if err != nil {
		return err
	}
	return h.dir.Start(ctx, wizard.NewFormSession(h.msg, h.submissions, form, user, h.scope))
}

func (h *Handler) template(ctx context.Context, user conversation.UserID, arg string) error {
	name, err := wizard.NormalizeTemplateName(arg)
	if err != nil {
		return h.reply(ctx, user, fmt.Sprintf("Usage: %stemplate <name> (a single word of at most %d characters)", h.prefix, models.MaxTemplateNameLength))
	}
	return h.dir.Start(ctx, wizard.NewTemplateSession(h.msg, h.templates, h.drafter, user, h.scope, name))
}

func (h *Handler) listTemplates(ctx context.Context, user conversation.UserID, _ string) error {
	list, err := h.templates.ListTemplates(h.scope)
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	if len(list) == 0 {
		return h.reply(ctx, user, fmt.Sprintf("No templates yet. Send %stemplate <name> to write one.", h.prefix))
	}
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	return h.reply(ctx, user, "📝 Templates: "+strings.Join(names, ", "))
}

func (h *Handler) cancel(ctx context.Context, user conversation.UserID, _ string) error {
	var cancelled bool
	err := h.dir.Exec(ctx, user, func(ctx context.Context, d conversation.Dialog) error {
		if d == nil || !d.Active() {
			return nil
		}
		d.Cancel()
		cancelled = true
		return nil
	})
	if err != nil && !errors.Is(err, conversation.ErrNoDialog) {
		return err
	}
	if !cancelled {
		return h.reply(ctx, user, "You have no open dialog.")
	}
	slog.Info("Commands dialog cancelled", "user", user)
	return h.reply(ctx, user, "🛑 Dialog cancelled.")
}
