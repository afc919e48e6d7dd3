package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a unit of scheduled work. Tasks run independently of each other:
// a slow or failing task does not delay or stop the others.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

type task struct {
	Task
	running atomic.Bool
}

// Scheduler runs its tasks on a fixed interval and once shortly after
// Start. A task whose previous run is still going is skipped for that tick.
type Scheduler struct {
	interval     time.Duration
	startupDelay time.Duration
	tasks        []*task

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	startup *time.Timer
	wg      sync.WaitGroup
}

// New creates a scheduler for the given tasks.
func New(interval, startupDelay time.Duration, tasks ...Task) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		interval:     interval,
		startupDelay: startupDelay,
		cron:         cron.New(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, t := range tasks {
		s.tasks = append(s.tasks, &task{Task: t})
	}
	return s
}

// Start registers the interval and arms the startup run.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	if s.interval <= 0 {
		return fmt.Errorf("invalid interval %s", s.interval)
	}

	if _, err := s.cron.AddFunc("@every "+s.interval.String(), s.Tick); err != nil {
		return fmt.Errorf("scheduling every %s: %w", s.interval, err)
	}
	s.cron.Start()
	s.startup = time.AfterFunc(s.startupDelay, s.Tick)
	s.started = true

	log.Printf("Background polling started (every %s, first run in %s)", s.interval, s.startupDelay)
	return nil
}

// Tick launches every task that is not already running.
func (s *Scheduler) Tick() {
	for _, t := range s.tasks {
		s.launch(t)
	}
}

func (s *Scheduler) launch(t *task) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !t.running.CompareAndSwap(false, true) {
		s.mu.Unlock()
		log.Printf("Skipping %s: previous run still in progress", t.Name)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Task %s panicked: %v", t.Name, r)
			}
		}()
		t.Run(s.ctx)
	}()
}

// Stop halts future ticks and waits for running tasks. If ctx expires
// first, running tasks are cancelled and Stop still waits for them to
// return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if s.startup != nil {
		s.startup.Stop()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.cancel()
	select {
	case <-done:
		log.Println("Background polling stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
