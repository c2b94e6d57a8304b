// Package bot assembles NerpyBot: the messaging transport, the dialog
// directory, the command handler, the idle sweep and the admin API.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerdycraft/NerpyBot-sub000/internal/api"
	"github.com/nerdycraft/NerpyBot-sub000/internal/commands"
	"github.com/nerdycraft/NerpyBot-sub000/internal/conversation"
	"github.com/nerdycraft/NerpyBot-sub000/internal/messaging"
	"github.com/nerdycraft/NerpyBot-sub000/internal/scheduler"
	"github.com/nerdycraft/NerpyBot-sub000/internal/store"
	"github.com/nerdycraft/NerpyBot-sub000/internal/wizard"
	"golang.org/x/sync/errgroup"
)

// DefaultSweepSchedule is how often idle dialogs are looked for.
const DefaultSweepSchedule = "@every 1m"

// StopTimeout bounds how long Run waits for background jobs on shutdown.
const StopTimeout = 10 * time.Second

// Opts configures a Bot.
type Opts struct {
	Scope         string
	Prefix        string
	Catalog       *wizard.Catalog
	Drafter       wizard.Drafter
	IdleTimeout   time.Duration
	SweepSchedule string
	APIOptions    []api.Option
	DisableAPI    bool
}

// Option modifies Opts.
type Option func(*Opts)

// WithScope sets the scope dialogs and templates belong to.
func WithScope(scope string) Option {
	return func(o *Opts) { o.Scope = scope }
}

// WithPrefix sets the command prefix.
func WithPrefix(prefix string) Option {
	return func(o *Opts) { o.Prefix = prefix }
}

// WithCatalog enables the form commands.
func WithCatalog(c *wizard.Catalog) Option {
	return func(o *Opts) { o.Catalog = c }
}

// WithDrafter enables generated template drafts.
func WithDrafter(d wizard.Drafter) Option {
	return func(o *Opts) { o.Drafter = d }
}

// WithIdleTimeout sets how long a dialog may wait for input.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithSweepSchedule sets the cron expression of the idle sweep.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithAPIOptions passes options to the admin API server.
func WithAPIOptions(opts ...api.Option) Option {
	return func(o *Opts) { o.APIOptions = append(o.APIOptions, opts...) }
}

// WithoutAPI disables the admin API server.
func WithoutAPI() Option {
	return func(o *Opts) { o.DisableAPI = true }
}

// Bot is a fully wired NerpyBot instance.
type Bot struct {
	svc     messaging.Service
	dir     *conversation.Directory
	router  *messaging.Router
	sweeper *scheduler.IdleSweeper
	server  *api.Server
	opts    Opts
}

// New wires a Bot around svc and st. Both stay owned by the caller.
func New(svc messaging.Service, st store.Store, opts ...Option) *Bot {
	o := Opts{
		Scope:         commands.DefaultScope,
		Prefix:        commands.DefaultPrefix,
		IdleTimeout:   scheduler.DefaultIdleTimeout,
		SweepSchedule: DefaultSweepSchedule,
	}
	for _, opt := range opts {
		opt(&o)
	}

	dir := conversation.NewDirectory()
	cmdOpts := []commands.Option{commands.WithScope(o.Scope), commands.WithPrefix(o.Prefix)}
	if o.Catalog != nil {
		cmdOpts = append(cmdOpts, commands.WithCatalog(o.Catalog))
	}
	if o.Drafter != nil {
		cmdOpts = append(cmdOpts, commands.WithDrafter(o.Drafter))
	}
	cmds := commands.NewHandler(dir, svc, st, st, cmdOpts...)

	b := &Bot{
		svc:     svc,
		dir:     dir,
		router:  messaging.NewRouter(dir, svc, messaging.WithCommands(cmds.Handle), messaging.WithDedup(st)),
		sweeper: scheduler.NewIdleSweeper(dir, svc, o.IdleTimeout),
		opts:    o,
	}
	if !o.DisableAPI {
		apiOpts := append([]api.Option{api.WithDefaultScope(o.Scope)}, o.APIOptions...)
		b.server = api.NewServer(dir, st, apiOpts...)
	}
	return b
}

// Directory returns the dialog directory.
func (b *Bot) Directory() *conversation.Directory { return b.dir }

// Sweeper returns the idle sweeper.
func (b *Bot) Sweeper() *scheduler.IdleSweeper { return b.sweeper }

// Run serves until ctx is done or a component fails, then stops the
// transport and closes the directory.
func (b *Bot) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	sched := scheduler.NewScheduler()
	g, gctx := errgroup.WithContext(runCtx)

	if err := sched.AddJob(b.opts.SweepSchedule, "idle-sweep", func() { b.sweeper.Sweep(gctx) }); err != nil {
		b.shutdown(sched)
		return err
	}
	if err := b.svc.Start(gctx); err != nil {
		b.shutdown(sched)
		return fmt.Errorf("start messaging service: %w", err)
	}

	// Any component returning, even cleanly, stops the others.
	g.Go(func() error {
		defer stop()
		return b.router.Start(gctx)
	})
	if b.server != nil {
		g.Go(func() error {
			defer stop()
			return b.server.ListenAndServe(gctx)
		})
	}

	slog.Info("Bot running", "scope", b.opts.Scope, "idle_timeout", b.opts.IdleTimeout, "api", b.server != nil)
	<-gctx.Done()
	b.shutdown(sched)
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Bot stopped with error", "error", err)
		return err
	}
	slog.Info("Bot stopped")
	return nil
}

func (b *Bot) shutdown(sched *scheduler.Scheduler) {
	stopCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		slog.Warn("Bot scheduler did not stop in time", "error", err)
	}
	if err := b.svc.Stop(); err != nil {
		slog.Warn("Bot messaging service stop failed", "error", err)
	}
	b.dir.Close()
}
