// Package refresh decides when whole-library refresh cycles run: debounced
// user requests and a periodic cron trigger.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/rssreader/internal/metrics"
	"github.com/robfig/cron/v3"
)

// DefaultWindow is the quiet period after the last request before a cycle starts.
const DefaultWindow = 500 * time.Millisecond

// Debouncer collapses bursts of refresh requests into single cycles. Cycles
// never overlap; a request that arrives while a cycle is running schedules
// exactly one more cycle after it.
type Debouncer struct {
	ctx     context.Context
	window  time.Duration
	run     func(ctx context.Context)
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	pending bool
	stopped bool
	wg      sync.WaitGroup
}

// NewDebouncer creates a debouncer that calls run with ctx. A non-positive
// window means DefaultWindow.
func NewDebouncer(ctx context.Context, window time.Duration, run func(ctx context.Context), m *metrics.Metrics, log *slog.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		ctx:     ctx,
		window:  window,
		run:     run,
		metrics: m,
		log:     log,
	}
}

// Trigger requests a refresh cycle. It never blocks.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.metrics.RefreshRequested()

	if d.running {
		d.pending = true
		return
	}
	d.scheduleLocked()
}

func (d *Debouncer) scheduleLocked() {
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.running {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()

	start := time.Now()
	d.run(d.ctx)
	d.metrics.RefreshExecuted()
	d.log.DebugContext(d.ctx, "Refresh cycle finished",
		"duration", time.Since(start))

	d.mu.Lock()
	d.running = false
	if d.pending && !d.stopped {
		d.pending = false
		d.scheduleLocked()
	}
	d.mu.Unlock()
}

// Stop cancels any scheduled cycle and waits for a running one to finish.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// Scheduler triggers refreshes on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	trigger func()
	log     *slog.Logger
}

// NewScheduler creates a scheduler that calls trigger on spec. Both standard
// five-field expressions and descriptors like "@every 30m" are accepted. An
// empty spec disables the scheduler.
func NewScheduler(spec string, trigger func(), log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		spec:    spec,
		trigger: trigger,
		log:     log,
	}
}

func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.log.Info("Periodic refresh disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("add refresh schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.log.Info("Periodic refresh scheduled", "schedule", s.spec)

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	s.log.Debug("Scheduled refresh")
	s.trigger()
}
