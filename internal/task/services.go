// Package task implements the node's task supervisor.
//
// Services spawns named long-running tasks on their own goroutines and keeps
// a record of each one. JoinFirst blocks until the first spawned task ends;
// a running node treats that as the end of supervision, whether the task
// finished cleanly or not. Finished tasks are never restarted.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingnet-node/internal/log"
)

// Outcome is the coarse result of a task.
type Outcome int

const (
	Running Outcome = iota
	Finished
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Info is handed to every task body. It names the task and carries a logger
// tagged with the task's tracing identity.
type Info struct {
	Name   string
	ID     string
	Logger zerolog.Logger
}

func newInfo(name string) Info {
	id := uuid.NewString()
	return Info{Name: name, ID: id, Logger: klog.WithTask(name, id)}
}

// Record describes one spawned task.
type Record struct {
	Name       string
	ID         string
	Outcome    Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Error wraps the failure of the task that ended supervision.
type Error struct {
	Task string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("service %q terminated with an error", e.Task)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrPanicked is the cause recorded for a task whose body panicked.
var ErrPanicked = errors.New("task panicked")

// Services is the registry of running tasks.
type Services struct {
	mu      sync.Mutex
	records []*Record
	wg      sync.WaitGroup

	// first receives the record of the first task to end. Later finishers
	// find it full and only update their record.
	first chan *Record

	logger zerolog.Logger
}

// New creates an empty supervisor.
func New() *Services {
	return &Services{
		first:  make(chan *Record, 1),
		logger: klog.WithComponent("services"),
	}
}

// Spawn starts a task that always completes successfully.
// It does not block the caller.
func (s *Services) Spawn(name string, fn func(Info)) {
	s.SpawnFallible(name, func(info Info) error {
		fn(info)
		return nil
	})
}

// SpawnFallible starts a task whose body may end with an error.
// It does not block the caller.
func (s *Services) SpawnFallible(name string, fn func(Info) error) {
	info := newInfo(name)
	rec := &Record{
		Name:      name,
		ID:        info.ID,
		Outcome:   Running,
		StartedAt: time.Now(),
	}

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()

	info.Logger.Debug().Msg("Task started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := runGuarded(fn, info)
		s.finish(rec, err)
	}()
}

func runGuarded(fn func(Info) error, info Info) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn(info)
}

func (s *Services) finish(rec *Record, err error) {
	s.mu.Lock()
	rec.FinishedAt = time.Now()
	if err != nil {
		rec.Outcome = Failed
		rec.Err = err
	} else {
		rec.Outcome = Finished
	}
	snapshot := *rec
	s.mu.Unlock()

	ev := s.logger.Debug()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("task", rec.Name).Dur("uptime", rec.FinishedAt.Sub(rec.StartedAt)).Msg("Task ended")

	select {
	case s.first <- &snapshot:
	default:
	}
}

// JoinFirst suspends until the first spawned task ends and returns its
// outcome: nil for a clean finish, an *Error wrapping the cause otherwise.
// With no task spawned it never returns.
func (s *Services) JoinFirst() error {
	rec := <-s.first
	if rec.Outcome == Failed {
		return &Error{Task: rec.Name, Err: rec.Err}
	}
	s.logger.Info().Str("task", rec.Name).Msg("Service finished")
	return nil
}

// Wait blocks until every spawned task has ended or ctx is done.
func (s *Services) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Records returns a snapshot of every spawned task.
func (s *Services) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

// RunToCompletion executes a one-shot setup computation on the calling
// goroutine and returns its result. It is meant for sequential startup
// phases, never for long-running work, and does not register a task record.
func RunToCompletion[T any](s *Services, name string, fn func(Info) (T, error)) (T, error) {
	info := newInfo(name)
	start := time.Now()
	info.Logger.Debug().Msg("Setup step started")

	v, err := fn(info)

	ev := info.Logger.Debug()
	if err != nil {
		ev = info.Logger.Warn().Err(err)
	}
	ev.Dur("elapsed", time.Since(start)).Msg("Setup step ended")
	return v, err
}
