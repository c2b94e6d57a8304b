package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/models"
)

// Symbols used by the wizards' fixed prompts.
const (
	SymbolConfirm = "✅"
	SymbolDiscard = "❌"
	SymbolRestart = "🔁"
	SymbolEdit    = "✏️"
	SymbolDraft   = "🤖"
)

// SubmissionStore persists completed forms.
type SubmissionStore interface {
	AddSubmission(sub models.Submission) error
}

// formRun is the data shared by all states of one form dialog. It is only
// touched from the owner's lane.
type formRun struct {
	form    *Form
	store   SubmissionStore
	answers []models.Answer
}

// NewFormSession creates the dialog that walks user through form.
func NewFormSession(r conversation.Renderer, st SubmissionStore, form *Form, user conversation.UserID, scope string) *conversation.Session {
	run := &formRun{form: form, store: st, answers: make([]models.Answer, len(form.Questions))}
	s := conversation.NewSession(r, user, scope, formQuestion{run: run, idx: 0})
	s.OnCancel(func() {
		slog.Info("FormWizard abandoned", "form", form.Name, "user", user, "answered", run.answered())
	})
	return s
}

func (run *formRun) answered() int {
	n := 0
	for _, a := range run.answers {
		if a.Key != "" {
			n++
		}
	}
	return n
}

func (run *formRun) record(idx int, value string) {
	run.answers[idx] = models.Answer{Key: run.form.Questions[idx].Key, Value: value}
}

// after returns the state that follows question idx.
func (run *formRun) after(idx int, carry *models.Answer) conversation.State {
	if idx+1 < len(run.form.Questions) {
		return formQuestion{run: run, idx: idx + 1, carry: carry}
	}
	return formConfirm{run: run, carry: carry}
}

// formQuestion asks question idx. carry is the answer to the previous
// question when it was picked by reaction.
type formQuestion struct {
	run   *formRun
	idx   int
	carry *models.Answer
}

func (st formQuestion) String() string {
	return fmt.Sprintf("form.%s.%s", st.run.form.Name, st.run.form.Questions[st.idx].Key)
}

func (st formQuestion) Enter(ctx context.Context, s *conversation.Session) error {
	run := st.run
	if st.idx == 0 {
		for i := range run.answers {
			run.answers[i] = models.Answer{}
		}
	}
	if st.carry != nil {
		run.answers[st.idx-1] = *st.carry
	}

	q := run.form.Questions[st.idx]
	header := fmt.Sprintf("📋 %s (%d/%d)\n", run.form.Title, st.idx+1, len(run.form.Questions))
	if st.idx == 0 && run.form.Description != "" {
		header = fmt.Sprintf("📋 %s\n%s\n\n(1/%d) ", run.form.Title, run.form.Description, len(run.form.Questions))
	}

	switch q.Kind {
	case KindChoice:
		var b strings.Builder
		b.WriteString(header + q.Prompt)
		options := make([]conversation.Option, 0, len(q.Choices))
		for _, ch := range q.Choices {
			fmt.Fprintf(&b, "\n%s %s", ch.Symbol, ch.Label)
			options = append(options, conversation.Option{
				Symbol: ch.Symbol,
				Next:   run.after(st.idx, &models.Answer{Key: q.Key, Value: ch.Label}),
			})
		}
		return s.PromptReaction(ctx, b.String(), options...)
	case KindNumber:
		return s.PromptText(ctx, header+q.Prompt+rangeHint(q), run.after(st.idx, nil), numberHandler(s, run, st.idx))
	default:
		return s.PromptText(ctx, header+q.Prompt, run.after(st.idx, nil), textHandler(s, run, st.idx))
	}
}

func rangeHint(q Question) string {
	switch {
	case q.Min != nil && q.Max != nil:
		return fmt.Sprintf(" (%s-%s)", formatNumber(*q.Min), formatNumber(*q.Max))
	case q.Min != nil:
		return fmt.Sprintf(" (at least %s)", formatNumber(*q.Min))
	case q.Max != nil:
		return fmt.Sprintf(" (at most %s)", formatNumber(*q.Max))
	}
	return ""
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func textHandler(s *conversation.Session, run *formRun, idx int) conversation.ContentHandler {
	return func(ctx context.Context, payload string) (bool, error) {
		answer := strings.TrimSpace(payload)
		if answer == "" {
			return false, s.Say(ctx, "Please send a non-empty answer.")
		}
		if len(answer) > models.MaxAnswerLength {
			return false, s.Say(ctx, fmt.Sprintf("That answer is too long; please keep it under %d characters.", models.MaxAnswerLength))
		}
		run.record(idx, answer)
		return true, nil
	}
}

func numberHandler(s *conversation.Session, run *formRun, idx int) conversation.ContentHandler {
	q := run.form.Questions[idx]
	return func(ctx context.Context, payload string) (bool, error) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(payload), ",", "."), 64)
		if err != nil || (q.Min != nil && v < *q.Min) || (q.Max != nil && v > *q.Max) {
			return false, s.Say(ctx, "Please send a number"+rangeHint(q)+".")
		}
		run.record(idx, formatNumber(v))
		return true, nil
	}
}

// formConfirm shows the collected answers and asks whether to submit them.
type formConfirm struct {
	run   *formRun
	carry *models.Answer
}

func (st formConfirm) String() string { return "form." + st.run.form.Name + ".confirm" }

func (st formConfirm) Enter(ctx context.Context, s *conversation.Session) error {
	run := st.run
	if st.carry != nil {
		run.answers[len(run.answers)-1] = *st.carry
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s: please check your answers\n", run.form.Title)
	for i, a := range run.answers {
		fmt.Fprintf(&b, "\n%s: %s", run.form.Questions[i].Key, a.Value)
	}
	fmt.Fprintf(&b, "\n\n%s submit  %s start over  %s discard", SymbolConfirm, SymbolRestart, SymbolDiscard)
	return s.PromptReaction(ctx, b.String(),
		conversation.Option{Symbol: SymbolConfirm, Next: formSave{run: run}},
		conversation.Option{Symbol: SymbolRestart, Next: formQuestion{run: run, idx: 0}},
		conversation.Option{Symbol: SymbolDiscard, Next: formDiscard{run: run}},
	)
}

type formSave struct{ run *formRun }

func (st formSave) String() string { return "form." + st.run.form.Name + ".save" }

func (st formSave) Enter(ctx context.Context, s *conversation.Session) error {
	s.Close()
	sub := models.Submission{
		ID:        uuid.NewString(),
		Form:      st.run.form.Name,
		UserID:    string(s.Owner()),
		Scope:     s.Scope(),
		Answers:   append([]models.Answer(nil), st.run.answers...),
		CreatedAt: time.Now().UTC(),
	}
	if err := st.run.store.AddSubmission(sub); err != nil {
		return fmt.Errorf("save submission for form %s: %w", sub.Form, err)
	}
	slog.Info("FormWizard submission saved", "form", sub.Form, "user", sub.UserID, "id", sub.ID)
	return s.Say(ctx, fmt.Sprintf("✅ Thanks! Your answers to %s were submitted.", st.run.form.Title))
}

type formDiscard struct{ run *formRun }

func (st formDiscard) String() string { return "form." + st.run.form.Name + ".discard" }

func (st formDiscard) Enter(ctx context.Context, s *conversation.Session) error {
	s.Close()
	slog.Info("FormWizard discarded", "form", st.run.form.Name, "user", s.Owner())
	return s.Say(ctx, "🗑️ Your answers were discarded.")
}
