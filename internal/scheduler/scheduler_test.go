package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	if err := s.AddJob("* * * * *", "minutely", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("@every 30s", "sweep", func() {}); err != nil {
		t.Errorf("Expected descriptor to be accepted, got %v", err)
	}
	if err := s.AddJob("not a schedule", "broken", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

type recorder struct {
	mu   sync.Mutex
	seq  int
	sent map[string][]string
}

func newRecorder() *recorder { return &recorder{sent: make(map[string][]string)} }

func (r *recorder) Deliver(ctx context.Context, to conversation.UserID, content string) (string, error) {
	return r.SendMessage(ctx, string(to), content)
}

func (r *recorder) AttachOption(ctx context.Context, to conversation.UserID, messageID, symbol string) error {
	return nil
}

func (r *recorder) SendMessage(ctx context.Context, to string, body string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.sent[to] = append(r.sent[to], body)
	return fmt.Sprintf("m%d", r.seq), nil
}

func (r *recorder) messages(user string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent[user]...)
}

type waitForText struct{}

func (waitForText) Enter(ctx context.Context, s *conversation.Session) error {
	return s.PromptText(ctx, "still there?", waitForText{}, nil)
}

func TestIdleSweeper(t *testing.T) {
	dir := conversation.NewDirectory()
	defer dir.Close()
	rec := newRecorder()
	ctx := context.Background()

	stale := conversation.NewSession(rec, "1001", "", waitForText{})
	released := false
	stale.OnCancel(func() { released = true })
	if err := dir.Start(ctx, stale); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sweeper := NewIdleSweeper(dir, rec, 200*time.Millisecond)
	if n := sweeper.Sweep(ctx); n != 0 {
		t.Fatalf("Sweep right after start expired %d dialogs", n)
	}

	time.Sleep(300 * time.Millisecond)
	fresh := conversation.NewSession(rec, "1002", "", waitForText{})
	if err := dir.Start(ctx, fresh); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if n := sweeper.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep expired %d dialogs, want 1", n)
	}
	if stale.Active() {
		t.Error("stale dialog still active")
	}
	if !fresh.Active() {
		t.Error("fresh dialog expired")
	}
	if !released {
		t.Error("cancel hooks of the expired dialog did not run")
	}
	got := rec.messages("1001")
	if len(got) != 2 || got[1] != ExpiredMessage {
		t.Errorf("messages to stale user = %q", got)
	}

	if n := sweeper.Sweep(ctx); n != 0 {
		t.Errorf("second Sweep expired %d dialogs, want 0", n)
	}
}

func TestIdleSweeperUsesClock(t *testing.T) {
	dir := conversation.NewDirectory()
	defer dir.Close()
	rec := newRecorder()
	ctx := context.Background()

	s := conversation.NewSession(rec, "1003", "", waitForText{})
	if err := dir.Start(ctx, s); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sweeper := NewIdleSweeper(dir, nil, 0)
	if sweeper.timeout != DefaultIdleTimeout {
		t.Fatalf("timeout = %v, want default", sweeper.timeout)
	}
	sweeper.now = func() time.Time { return s.LastActivity().Add(DefaultIdleTimeout + time.Second) }
	if n := sweeper.Sweep(ctx); n != 1 {
		t.Errorf("Sweep expired %d dialogs, want 1", n)
	}
	if got := rec.messages("1003"); len(got) != 1 {
		t.Errorf("nil notifier still sent %q", got)
	}
}
