package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// BuildTask is the handle of one background compile-and-install job.
// The result is published by closing done after err is written.
type BuildTask struct {
	ID    string
	Model string
	done  chan struct{}
	err   error
}

// Done is closed once the task has finished.
func (t *BuildTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is cancelled. It returns the build
// error, if any. Cancelling ctx abandons the wait, not the build.
func (t *BuildTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the build result without blocking; nil while the task is still running.
func (t *BuildTask) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Builder runs compile-and-install jobs off the caller's goroutine.
// Concurrent compiles are bounded by a weighted semaphore.
type Builder struct {
	compiler Compiler
	engine   Engine
	sem      *semaphore.Weighted
	metrics  *Metrics

	mu    sync.Mutex
	tasks []*BuildTask
}

// NewBuilder creates a Builder running at most workers compiles at once.
func NewBuilder(compiler Compiler, engine Engine, workers int64, metrics *Metrics) *Builder {
	if workers < 1 {
		workers = 1
	}
	return &Builder{
		compiler: compiler,
		engine:   engine,
		sem:      semaphore.NewWeighted(workers),
		metrics:  metrics,
	}
}

// Start compiles src, builds and installs the module, then marks rec installed.
// It returns immediately; the caller joins through the returned task.
func (b *Builder) Start(rec *ModelRecord, src ModelSource) *BuildTask {
	task := &BuildTask{ID: uuid.NewString(), Model: rec.Name(), done: make(chan struct{})}
	b.mu.Lock()
	b.tasks = append(b.tasks, task)
	b.mu.Unlock()

	logrus.Debugf("build %s: queued model %q", task.ID, task.Model)
	go func() {
		defer close(task.done)
		task.err = b.run(rec, src)
		if task.err != nil {
			b.metrics.buildFailures.Inc()
			logrus.Warnf("build %s: model %q failed: %v", task.ID, task.Model, task.err)
		}
	}()
	return task
}

func (b *Builder) run(rec *ModelRecord, src ModelSource) error {
	ctx := context.Background()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer b.sem.Release(1)

	start := time.Now()
	art, err := b.compiler.Compile(ctx, src)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	module, err := b.compiler.Build(ctx, art)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := b.engine.Install(ctx, module); err != nil {
		return fmt.Errorf("install %q: %w", module, err)
	}
	rec.markInstalled()
	b.metrics.buildSeconds.Observe(time.Since(start).Seconds())
	logrus.Infof("model %q installed from module %q", rec.Name(), module)
	return nil
}

// Pending returns the number of tasks that have not finished.
func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.tasks {
		select {
		case <-t.done:
		default:
			n++
		}
	}
	return n
}

// Wait joins every task started so far and returns the first build error.
func (b *Builder) Wait(ctx context.Context) error {
	b.mu.Lock()
	tasks := append([]*BuildTask(nil), b.tasks...)
	b.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			err := t.Wait(ctx)
			if err == nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return err
			}
			return &CompilationError{Model: t.Model, Err: err}
		})
	}
	return g.Wait()
}
