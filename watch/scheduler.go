package watch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/humblenginr/brisk/dag"
	"github.com/humblenginr/brisk/pipeline"
)

const (
	DefaultDebounce = 200 * time.Millisecond
	DefaultWorkers  = 4
)

// Trigger runs a set of tasks. *dag.Graph satisfies it.
type Trigger interface {
	RunMany(ctx context.Context, names ...string) (*dag.Report, error)
}

// Source delivers change events, typically an *FSWatcher.
type Source interface {
	Events() <-chan ChangeEvent
	Errors() <-chan error
}

type bindingPhase int

const (
	idle     bindingPhase = iota
	waiting               // debounce timer armed
	running               // run in flight
	runAgain              // run in flight, changes arrived meanwhile
)

type binding struct {
	Binding
	index int
	phase bindingPhase
	timer *time.Timer
	gen   uint64
	paths []string
}

// Scheduler triggers bound tasks when matching files change. Each binding
// has at most one run in flight; changes that arrive during a run are
// coalesced into one follow-up run. Runs of different bindings may overlap,
// bounded by the worker pool.
type Scheduler struct {
	trigger  Trigger
	bindings []*binding
	debounce time.Duration
	workers  int
	log      *zap.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan *binding
	runCtx context.Context
	wg     sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

// WithDebounce sets the quiet period a binding waits for after a change
// before it runs.
func WithDebounce(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.debounce = d }
}

func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) { s.workers = n }
}

func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

func NewScheduler(trigger Trigger, bindings []Binding, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		trigger:  trigger,
		debounce: DefaultDebounce,
		workers:  DefaultWorkers,
		log:      zap.NewNop(),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.workers < 1 {
		s.workers = 1
	}
	for i, b := range bindings {
		s.bindings = append(s.bindings, &binding{Binding: b, index: i})
	}
	s.jobs = make(chan *binding, len(s.bindings))
	return s
}

// Start consumes events from src until ctx is done or src closes its event
// channel. It then waits for in-flight runs to finish; runs are never
// canceled midway.
func (s *Scheduler) Start(ctx context.Context, src Source) error {
	s.mu.Lock()
	s.runCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("watching for changes",
		zap.Int("bindings", len(s.bindings)),
		zap.Int("workers", s.workers),
		zap.Duration("debounce", s.debounce))

	events, errs := src.Events(), src.Errors()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			s.Notify(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.log.Warn("watcher error", zap.Error(err))
		}
	}

	s.shutdown()
	return ctx.Err()
}

// Notify feeds one change event to the scheduler.
func (s *Scheduler) Notify(ev ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	for _, b := range s.bindings {
		ok, err := pipeline.Match(b.Globs, ev.Path)
		if err != nil {
			s.log.Warn("bad watch pattern", zap.Int("binding", b.index), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		s.log.Debug("change",
			zap.String("path", ev.Path),
			zap.Stringer("op", ev.Op),
			zap.Int("binding", b.index))

		switch b.phase {
		case idle:
			b.phase = waiting
			b.paths = append(b.paths[:0], ev.Path)
			s.arm(b)
		case waiting:
			b.paths = append(b.paths, ev.Path)
			s.arm(b)
		case running:
			b.phase = runAgain
			b.paths = append(b.paths[:0], ev.Path)
		case runAgain:
			b.paths = append(b.paths, ev.Path)
		}
	}
}

// arm (re)starts the debounce timer; s.mu must be held. A timer that already
// fired but has not taken the lock yet is invalidated by the generation bump.
func (s *Scheduler) arm(b *binding) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(s.debounce, func() { s.fire(b, gen) })
}

func (s *Scheduler) fire(b *binding, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || b.phase != waiting || b.gen != gen {
		return
	}
	b.phase = running
	s.jobs <- b
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for b := range s.jobs {
		s.run(b)
	}
}

func (s *Scheduler) run(b *binding) {
	s.mu.Lock()
	ctx := s.runCtx
	changed := append([]string(nil), b.paths...)
	s.mu.Unlock()

	s.log.Info("change detected, running tasks",
		zap.Int("binding", b.index),
		zap.Strings("tasks", b.Tasks),
		zap.Strings("changed", changed))

	report, err := s.trigger.RunMany(ctx, b.Tasks...)
	switch {
	case err != nil:
		s.log.Error("cannot run bound tasks", zap.Int("binding", b.index), zap.Error(err))
	case !report.Succeeded():
		s.log.Warn("build failed, waiting for changes", zap.Int("binding", b.index))
	default:
		s.log.Info("build succeeded", zap.Int("binding", b.index), zap.Duration("duration", report.Duration))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b.phase == runAgain && !s.closed {
		b.phase = waiting
		s.arm(b)
		return
	}
	b.phase = idle
	b.paths = b.paths[:0]
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, b := range s.bindings {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	s.mu.Unlock()

	close(s.jobs)
	s.wg.Wait()
	s.log.Info("watch stopped")
}
