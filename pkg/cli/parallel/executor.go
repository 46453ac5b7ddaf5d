// Package parallel runs independent build tasks concurrently.
package parallel

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// minConcurrency is the minimum number of concurrent tasks.
	minConcurrency = 2
	// maxConcurrencyCap caps concurrency; chart renders are memory hungry.
	maxConcurrencyCap = 8
)

// DefaultMaxConcurrency returns the default maximum concurrency based on available CPUs.
func DefaultMaxConcurrency() int64 {
	numCPU := int64(runtime.NumCPU())

	return min(max(numCPU, minConcurrency), maxConcurrencyCap)
}

// Executor provides controlled parallel execution of tasks.
type Executor struct {
	maxConcurrency int64
}

// NewExecutor creates a new parallel executor with the specified max concurrency.
// If maxConcurrency <= 0, DefaultMaxConcurrency() is used.
func NewExecutor(maxConcurrency int64) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency()
	}

	return &Executor{maxConcurrency: maxConcurrency}
}

// Task represents a unit of work that can be executed in parallel.
type Task func(ctx context.Context) error

// Named labels a task so its error can be attributed.
type Named struct {
	Name string
	Run  Task
}

// Execute runs all tasks concurrently with controlled parallelism.
// It returns the first error encountered, canceling remaining tasks.
func (executor *Executor) Execute(ctx context.Context, tasks ...Named) error {
	if len(tasks) == 0 {
		return nil
	}

	if len(tasks) == 1 {
		return runNamed(ctx, tasks[0])
	}

	sem := semaphore.NewWeighted(executor.maxConcurrency)
	group, groupCtx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		group.Go(func() error {
			acquireErr := sem.Acquire(groupCtx, 1)
			if acquireErr != nil {
				return fmt.Errorf("acquire semaphore: %w", acquireErr)
			}

			defer sem.Release(1)

			return runNamed(groupCtx, task)
		})
	}

	return group.Wait()
}

func runNamed(ctx context.Context, task Named) error {
	err := task.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", task.Name, err)
	}

	return nil
}

// Collect runs one producer per name and returns their results keyed by name.
// No partial results are returned when any producer fails.
func Collect[T any](
	ctx context.Context,
	executor *Executor,
	names []string,
	produce func(ctx context.Context, name string) (T, error),
) (map[string]T, error) {
	results := make([]T, len(names))
	tasks := make([]Named, 0, len(names))

	for i, name := range names {
		tasks = append(tasks, Named{
			Name: name,
			Run: func(ctx context.Context) error {
				value, err := produce(ctx, name)
				if err != nil {
					return err
				}

				results[i] = value

				return nil
			},
		})
	}

	err := executor.Execute(ctx, tasks...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]T, len(names))
	for i, name := range names {
		out[name] = results[i]
	}

	return out, nil
}
