package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLaneQueueSize is the number of events buffered per user.
const DefaultLaneQueueSize = 32

// Dialog is whatever currently owns a user's slot: a *Session or a *Broker.
type Dialog interface {
	Owner() UserID
	Active() bool
	LastActivity() time.Time
	Dispatch(ctx context.Context) error
	HandleReaction(ctx context.Context, symbol string) error
	HandleText(ctx context.Context, payload string) error
	IsOwnPrompt(messageID string) bool
	Accepts(kind InputKind) bool
	Close()
	Cancel()
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory)

// WithLaneQueueSize sets how many events may wait on a single user's lane.
func WithLaneQueueSize(n int) DirectoryOption {
	return func(d *Directory) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// Directory maps each user to the dialog owning their slot.
//
// Every user with a slot gets a lane: a goroutine that owns the slot and runs
// that user's work in arrival order. Work for different users runs
// concurrently; work for one user never does. A lane retires once its queue
// is drained and its slot holds no active dialog.
type Directory struct {
	queueSize int

	mu     sync.Mutex
	lanes  map[UserID]*lane
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lane struct {
	user    UserID
	jobs    chan job
	senders int // callers between laneFor and their send; guarded by Directory.mu

	mu    sync.RWMutex
	owner Dialog
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error // nil for fire-and-forget jobs
}

type laneKey struct{}

func (l *lane) get() Dialog {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

func (l *lane) set(d Dialog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owner = d
}

// NewDirectory creates an empty directory. Close it to stop its lanes.
func NewDirectory(opts ...DirectoryOption) *Directory {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Directory{
		queueSize: DefaultLaneQueueSize,
		lanes:     make(map[UserID]*lane),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	slog.Debug("Directory created", "queue_size", d.queueSize)
	return d
}

// Lookup returns the dialog owning user's slot, or nil. The dialog may have
// closed since its lane last ran; check Active before relying on it.
func (d *Directory) Lookup(user UserID) Dialog {
	l := d.existingLane(user)
	if l == nil {
		return nil
	}
	return l.get()
}

// Users returns every user that currently has a dialog in their slot.
func (d *Directory) Users() []UserID {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]UserID, 0, len(d.lanes))
	for user, l := range d.lanes {
		if l.get() != nil {
			users = append(users, user)
		}
	}
	return users
}

// Start installs s in its owner's slot and renders its current state. When
// the owner is already in an active dialog, a Broker is installed instead and
// asks the user whether to resume the old dialog or start s.
func (d *Directory) Start(ctx context.Context, s *Session) error {
	user := s.Owner()
	return d.exec(ctx, user, true, func(ctx context.Context, l *lane) error {
		var interrupted *Session
		switch cur := l.get().(type) {
		case *Broker:
			if cur.Active() {
				// Collapse nested interruptions: the dialog the user may resume is
				// always a real session, never another broker.
				cur.Close()
				if cur.pending != s {
					cur.pending.Cancel()
				}
				interrupted = cur.interrupted
			}
		case *Session:
			if cur.Active() && cur != s {
				interrupted = cur
			}
		}

		if interrupted != nil && interrupted != s {
			b := newBroker(d, interrupted, s)
			slog.Info("Directory Start interrupted active dialog", "user", user, "interrupted_state", StateName(interrupted.Current()))
			l.set(b)
			return b.Dispatch(ctx)
		}

		slog.Info("Directory Start", "user", user, "state", StateName(s.Current()))
		l.set(s)
		return s.Dispatch(ctx)
	})
}

// assign overwrites the slot of dialog's owner. It must run on that owner's
// lane.
func (d *Directory) assign(ctx context.Context, dialog Dialog) {
	l, ok := ctx.Value(laneKey{}).(*lane)
	if !ok || l.user != dialog.Owner() {
		l = d.existingLane(dialog.Owner())
	}
	if l == nil {
		slog.Error("Directory assign without lane", "user", dialog.Owner())
		return
	}
	l.set(dialog)
	slog.Debug("Directory assign", "user", dialog.Owner())
}

// RouteReaction forwards a reaction on messageID to user's dialog if that
// dialog is active, waiting for a reaction and owns the prompt. It reports
// whether the dialog took the event.
func (d *Directory) RouteReaction(ctx context.Context, user UserID, messageID, symbol string) (bool, error) {
	var handled atomic.Bool
	err := d.exec(ctx, user, false, func(ctx context.Context, l *lane) error {
		owner := l.get()
		if owner == nil || !owner.Active() || !owner.IsOwnPrompt(messageID) || !owner.Accepts(InputReaction) {
			slog.Debug("Directory RouteReaction ignored", "user", user, "message_id", messageID)
			return nil
		}
		handled.Store(true)
		return owner.HandleReaction(ctx, symbol)
	})
	if errors.Is(err, ErrNoDialog) {
		return false, nil
	}
	return handled.Load(), err
}

// RouteText forwards text to user's dialog if that dialog is active and waiting
// for text. It reports whether the dialog took the event.
func (d *Directory) RouteText(ctx context.Context, user UserID, payload string) (bool, error) {
	var handled atomic.Bool
	err := d.exec(ctx, user, false, func(ctx context.Context, l *lane) error {
		owner := l.get()
		if owner == nil || !owner.Active() || !owner.Accepts(InputText) {
			slog.Debug("Directory RouteText ignored", "user", user)
			return nil
		}
		handled.Store(true)
		return owner.HandleText(ctx, payload)
	})
	if errors.Is(err, ErrNoDialog) {
		return false, nil
	}
	return handled.Load(), err
}

// Exec runs fn on user's lane with the dialog currently owning the slot (which
// may be nil or closed) and waits for it. It returns ErrNoDialog if the user
// has no lane, either because they never had a dialog or because their lane
// retired.
func (d *Directory) Exec(ctx context.Context, user UserID, fn func(ctx context.Context, current Dialog) error) error {
	return d.exec(ctx, user, false, func(ctx context.Context, l *lane) error {
		return fn(ctx, l.get())
	})
}

// Enqueue schedules fn on user's lane, creating the lane if needed, and returns
// without waiting. Jobs enqueued for one user run in the order they were
// enqueued; fn handles its own errors.
func (d *Directory) Enqueue(ctx context.Context, user UserID, fn func(ctx context.Context)) error {
	if l, ok := ctx.Value(laneKey{}).(*lane); ok && l.user == user {
		fn(ctx)
		return nil
	}
	l, err := d.laneFor(user, true)
	if err != nil {
		return err
	}
	return d.submit(ctx, l, job{ctx: ctx, fn: func(ctx context.Context) error {
		fn(ctx)
		return nil
	}})
}

// exec runs fn on user's lane and waits for the result. Calls made from a job
// already running on that lane run inline.
func (d *Directory) exec(ctx context.Context, user UserID, create bool, fn func(ctx context.Context, l *lane) error) error {
	if l, ok := ctx.Value(laneKey{}).(*lane); ok && l.user == user {
		return fn(ctx, l)
	}
	l, err := d.laneFor(user, create)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	err = d.submit(ctx, l, job{ctx: ctx, done: done, fn: func(ctx context.Context) error {
		own, _ := ctx.Value(laneKey{}).(*lane)
		return fn(ctx, own)
	}})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDirectoryClosed
	}
}

// submit queues j on l. l must come from laneFor, which counted the caller
// as a sender so the lane cannot retire before j is queued.
func (d *Directory) submit(ctx context.Context, l *lane, j job) error {
	defer func() {
		d.mu.Lock()
		l.senders--
		d.mu.Unlock()
	}()
	select {
	case l.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDirectoryClosed
	}
}

func (d *Directory) existingLane(user UserID) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lanes[user]
}

func (d *Directory) laneFor(user UserID, create bool) (*lane, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDirectoryClosed
	}
	if l, ok := d.lanes[user]; ok {
		l.senders++
		return l, nil
	}
	if !create {
		return nil, ErrNoDialog
	}
	l := &lane{user: user, jobs: make(chan job, d.queueSize), senders: 1}
	d.lanes[user] = l
	d.wg.Add(1)
	go d.run(l)
	slog.Debug("Directory lane started", "user", user)
	return l, nil
}

func (d *Directory) run(l *lane) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			slog.Debug("Directory lane stopped", "user", l.user)
			return
		case j := <-l.jobs:
			ctx := context.WithValue(j.ctx, laneKey{}, l)
			err := j.fn(ctx)
			if j.done != nil {
				j.done <- err
			} else if err != nil {
				slog.Error("Directory lane job failed", "error", err, "user", l.user)
			}
			if d.retire(l) {
				slog.Debug("Directory lane retired", "user", l.user)
				return
			}
		}
	}
}

// retire drops l from the directory when nothing is queued or about to be
// queued on it and its slot holds no active dialog. It runs on l.
func (d *Directory) retire(l *lane) bool {
	if owner := l.get(); owner != nil && owner.Active() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if l.senders > 0 || len(l.jobs) > 0 || d.lanes[l.user] != l {
		return false
	}
	delete(d.lanes, l.user)
	return true
}

// Close stops every lane and waits for running jobs to return. Queued jobs
// are dropped.
func (d *Directory) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	slog.Info("Directory closed")
}
