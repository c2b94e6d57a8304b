package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// TemplateStore reads and writes message templates.
type TemplateStore interface {
	SaveTemplate(t models.Template) error
	GetTemplate(scope, name string) (*models.Template, error)
}

// Drafter writes a template body from a name and an optional hint.
type Drafter interface {
	DraftTemplate(ctx context.Context, name, hint string) (string, error)
}

type templateRun struct {
	name    string
	store   TemplateStore
	drafter Drafter // nil disables drafting
	body    string
	drafted bool
}

// NormalizeTemplateName lowercases name and checks it is usable.
func NormalizeTemplateName(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", models.ErrEmptyTemplateName
	}
	if len(name) > models.MaxTemplateNameLength {
		return "", models.ErrTemplateNameLong
	}
	if strings.ContainsAny(name, " \t\n") {
		return "", fmt.Errorf("template name %q must be a single word", name)
	}
	return name, nil
}

// NewTemplateSession creates the dialog that writes or replaces the template
// name in scope. drafter may be nil.
func NewTemplateSession(r conversation.Renderer, st TemplateStore, drafter Drafter, user conversation.UserID, scope, name string) *conversation.Session {
	run := &templateRun{name: name, store: st, drafter: drafter}
	s := conversation.NewSession(r, user, scope, templateStart{run: run})
	s.OnCancel(func() {
		slog.Info("TemplateWizard abandoned", "name", name, "user", user)
	})
	return s
}

// promptBody asks for the body as text, or as a 🤖 reaction when drafting is available.
func promptBody(ctx context.Context, s *conversation.Session, run *templateRun) error {
	next := templateConfirm{run: run}
	handler := func(ctx context.Context, payload string) (bool, error) {
		body := strings.TrimSpace(payload)
		if body == "" {
			return false, s.Say(ctx, "The template text cannot be empty.")
		}
		if len(body) > models.MaxTemplateBodyLength {
			return false, s.Say(ctx, fmt.Sprintf("That is too long; templates hold at most %d characters.", models.MaxTemplateBodyLength))
		}
		run.body = body
		run.drafted = false
		return true, nil
	}
	if run.drafter == nil {
		return s.PromptText(ctx, fmt.Sprintf("📝 Send the text for template %q.", run.name), next, handler)
	}
	return s.PromptHybrid(ctx,
		fmt.Sprintf("📝 Send the text for template %q, or react %s and I'll draft one for you.", run.name, SymbolDraft),
		next, handler,
		conversation.Option{Symbol: SymbolDraft, Next: templateDraft{run: run}},
	)
}

// templateStart checks for an existing template before asking for the body.
type templateStart struct{ run *templateRun }

func (st templateStart) String() string { return "template.start" }

func (st templateStart) Enter(ctx context.Context, s *conversation.Session) error {
	existing, err := st.run.store.GetTemplate(s.Scope(), st.run.name)
	if err != nil {
		return fmt.Errorf("look up template %s: %w", st.run.name, err)
	}
	if existing == nil {
		return promptBody(ctx, s, st.run)
	}
	content := fmt.Sprintf("Template %q already exists:\n\n%s\n\n%s replace it  %s keep it",
		st.run.name, existing.Body, SymbolEdit, SymbolDiscard)
	return s.PromptReaction(ctx, content,
		conversation.Option{Symbol: SymbolEdit, Next: templateBody{run: st.run}},
		conversation.Option{Symbol: SymbolDiscard, Next: templateDiscard{run: st.run}},
	)
}

type templateBody struct{ run *templateRun }

func (st templateBody) String() string { return "template.body" }

func (st templateBody) Enter(ctx context.Context, s *conversation.Session) error {
	return promptBody(ctx, s, st.run)
}

// templateDraft asks the drafter for a body and offers it for saving.
type templateDraft struct{ run *templateRun }

func (st templateDraft) String() string { return "template.draft" }

func (st templateDraft) Enter(ctx context.Context, s *conversation.Session) error {
	run := st.run
	body, err := run.drafter.DraftTemplate(ctx, run.name, "")
	if err != nil {
		slog.Warn("TemplateWizard draft failed", "error", err, "name", run.name)
		return s.PromptReaction(ctx,
			fmt.Sprintf("😕 I couldn't draft a template right now.\n%s try again  %s write it yourself  %s discard", SymbolRestart, SymbolEdit, SymbolDiscard),
			conversation.Option{Symbol: SymbolRestart, Next: templateDraft{run: run}},
			conversation.Option{Symbol: SymbolEdit, Next: templateBody{run: run}},
			conversation.Option{Symbol: SymbolDiscard, Next: templateDiscard{run: run}},
		)
	}
	body = truncateUTF8(strings.TrimSpace(body), models.MaxTemplateBodyLength)
	run.body = body
	run.drafted = true
	return s.PromptReaction(ctx,
		fmt.Sprintf("🤖 Draft for %q:\n\n%s\n\n%s save  %s another draft  %s write it yourself  %s discard",
			run.name, body, SymbolConfirm, SymbolRestart, SymbolEdit, SymbolDiscard),
		conversation.Option{Symbol: SymbolConfirm, Next: templateSave{run: run}},
		conversation.Option{Symbol: SymbolRestart, Next: templateDraft{run: run}},
		conversation.Option{Symbol: SymbolEdit, Next: templateBody{run: run}},
		conversation.Option{Symbol: SymbolDiscard, Next: templateDiscard{run: run}},
	)
}

type templateConfirm struct{ run *templateRun }

func (st templateConfirm) String() string { return "template.confirm" }

func (st templateConfirm) Enter(ctx context.Context, s *conversation.Session) error {
	return s.PromptReaction(ctx,
		fmt.Sprintf("Preview of %q:\n\n%s\n\n%s save  %s edit  %s discard", st.run.name, st.run.body, SymbolConfirm, SymbolEdit, SymbolDiscard),
		conversation.Option{Symbol: SymbolConfirm, Next: templateSave{run: st.run}},
		conversation.Option{Symbol: SymbolEdit, Next: templateBody{run: st.run}},
		conversation.Option{Symbol: SymbolDiscard, Next: templateDiscard{run: st.run}},
	)
}

type templateSave struct{ run *templateRun }

func (st templateSave) String() string { return "template.save" }

func (st templateSave) Enter(ctx context.Context, s *conversation.Session) error {
	s.Close()
	now := time.Now().UTC()
	t := models.Template{
		ID:        uuid.NewString(),
		Scope:     s.Scope(),
		Name:      st.run.name,
		Body:      st.run.body,
		AuthorID:  string(s.Owner()),
		Drafted:   st.run.drafted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.run.store.SaveTemplate(t); err != nil {
		return fmt.Errorf("save template %s: %w", t.Name, err)
	}
	slog.Info("TemplateWizard template saved", "name", t.Name, "scope", t.Scope, "drafted", t.Drafted)
	return s.Say(ctx, fmt.Sprintf("💾 Template %q saved.", t.Name))
}

type templateDiscard struct{ run *templateRun }

func (st templateDiscard) String() string { return "template.discard" }

func (st templateDiscard) Enter(ctx context.Context, s *conversation.Session) error {
	s.Close()
	return s.Say(ctx, fmt.Sprintf("Template %q left unchanged.", st.run.name))
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
