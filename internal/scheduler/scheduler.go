package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MXC1/spotiseek/internal/repositories"
	"github.com/MXC1/spotiseek/internal/shared"
)

// DefaultTick is the daemon's cadence between due-task checks.
const DefaultTick = 30 * time.Second

// DefaultMaxWorkers bounds how many independent tasks run concurrently.
const DefaultMaxWorkers = 4

// Scheduler executes registered tasks: on a ticker in daemon mode, or on
// demand. Task state and history live in the task repository.
type Scheduler struct {
	registry   *Registry
	tasks      *repositories.TaskRepository
	logger     *log.Logger
	tick       time.Duration
	maxWorkers int

	now func() time.Time
}

func New(registry *Registry, tasks *repositories.TaskRepository, logger *log.Logger, tick time.Duration, maxWorkers int) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Scheduler{
		registry:   registry,
		tasks:      tasks,
		logger:     logger,
		tick:       tick,
		maxWorkers: maxWorkers,
		now:        time.Now,
	}
}

// isDue reports whether a task should run this tick: enabled, and either
// never succeeded or past its interval since the last success.
func (s *Scheduler) isDue(ctx context.Context, def Definition) (bool, error) {
	if def.Interval <= 0 {
		return false, nil
	}

	state, err := s.tasks.GetState(ctx, def.Name)
	if err != nil {
		return false, err
	}
	if state == nil || !state.LastSuccessAt.Valid {
		return true, nil
	}
	return s.now().Sub(state.LastSuccessAt.Time) >= def.Interval, nil
}

// isEligible reports whether every dependency has a recorded historical
// success. A dependency does not need to have run this tick.
func (s *Scheduler) isEligible(ctx context.Context, def Definition) (bool, error) {
	for _, dep := range def.DependsOn {
		succeeded, err := s.tasks.HasSucceeded(ctx, dep)
		if err != nil {
			return false, err
		}
		if !succeeded {
			return false, nil
		}
	}
	return true, nil
}

// execute runs one task, recording the run and updating task state. The
// task's own error is recorded, logged, and returned; it never panics the
// scheduler.
func (s *Scheduler) execute(ctx context.Context, def Definition) error {
	runID, err := s.tasks.RecordStart(ctx, def.Name)
	if err != nil {
		return err
	}

	s.logger.Info("task started", "task", def.Name)
	result, runErr := def.Run(ctx)

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := s.tasks.RecordCompletion(ctx, runID, def.Name, runErr == nil, errMsg, result.TracksProcessed); err != nil {
		return err
	}

	if runErr != nil {
		s.logger.Error("task failed", "task", def.Name, "error", runErr)
		return runErr
	}

	s.logger.Info("task succeeded", "task", def.Name, "processed", result.TracksProcessed)
	return nil
}

// Tick runs every task that is due and eligible. Tasks at the same
// dependency depth run concurrently under the worker bound; a task whose
// dependency is also running this tick waits for that whole wave.
func (s *Scheduler) Tick(ctx context.Context) error {
	ordered, err := s.registry.topological()
	if err != nil {
		return err
	}

	var runnable []Definition
	for _, name := range ordered {
		def, _ := s.registry.Get(name)

		due, err := s.isDue(ctx, def)
		if err != nil {
			return err
		}
		if !due {
			continue
		}

		eligible, err := s.isEligible(ctx, def)
		if err != nil {
			return err
		}
		if !eligible {
			s.logger.Debug("task waiting on dependencies", "task", def.Name)
			continue
		}

		runnable = append(runnable, def)
	}

	if len(runnable) == 0 {
		return nil
	}

	depths := s.registry.depth()
	maxDepth := 0
	for _, def := range runnable {
		if d := depths[def.Name]; d > maxDepth {
			maxDepth = d
		}
	}

	for depth := 0; depth <= maxDepth; depth++ {
		var wave []Definition
		for _, def := range runnable {
			if depths[def.Name] == depth {
				wave = append(wave, def)
			}
		}
		if len(wave) == 0 {
			continue
		}
		s.runWave(ctx, wave)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// runWave executes independent tasks concurrently, bounded by the worker
// limit. Failures are recorded per task and never stop the wave.
func (s *Scheduler) runWave(ctx context.Context, wave []Definition) {
	sem := make(chan struct{}, s.maxWorkers)
	var wg sync.WaitGroup

	for _, def := range wave {
		wg.Add(1)
		sem <- struct{}{}
		go func(def Definition) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.execute(ctx, def); err != nil {
				s.logger.Debug("task error recorded", "task", def.Name, "error", err)
			}
		}(def)
	}

	wg.Wait()
}

// RunAll runs every enabled task once, in dependency order, ignoring how
// recently each last succeeded. Disabled tasks (interval 0) are skipped.
// A task only starts after all of its dependencies' runs have finished;
// a dependency without any recorded success skips its dependents.
func (s *Scheduler) RunAll(ctx context.Context) error {
	ordered, err := s.registry.topological()
	if err != nil {
		return err
	}

	for _, name := range ordered {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		def, _ := s.registry.Get(name)
		if def.Interval <= 0 {
			s.logger.Debug("skipping disabled task", "task", def.Name)
			continue
		}
		eligible, err := s.isEligible(ctx, def)
		if err != nil {
			return err
		}
		if !eligible {
			s.logger.Warn("skipping task: dependency has never succeeded", "task", def.Name)
			continue
		}

		if err := s.execute(ctx, def); err != nil {
			s.logger.Warn("continuing run-all after task failure", "task", def.Name)
		}
	}

	return nil
}

// RunOne runs a single task immediately, bypassing due and dependency
// checks.
func (s *Scheduler) RunOne(ctx context.Context, name string) error {
	def, ok := s.registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", shared.ErrTaskNotFound, name)
	}
	return s.execute(ctx, def)
}

// Daemon ticks until the context is cancelled. The in-flight tick
// finishes before the loop exits.
func (s *Scheduler) Daemon(ctx context.Context) error {
	s.logger.Info("scheduler started", "tick", s.tick, "workers", s.maxWorkers)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
