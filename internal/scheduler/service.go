package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/metrics"
	"github.com/vendornet/stockcore/pkg/redis"
)

const defaultInterval = time.Minute

// ServiceParams configure the scheduler service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     redis.Lock
	Metrics  *metrics.TaskMetrics
	Interval time.Duration
	// Jitter delays each cycle by a random slice of the interval so
	// replicas started together do not hammer the lock in lockstep.
	Jitter time.Duration
}

// Service executes registered tasks on a fixed cadence. A Redis lock keeps
// cycles exclusive across instances; an in-process guard keeps a slow
// cycle from overlapping the next tick.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     redis.Lock
	metrics  *metrics.TaskMetrics
	interval time.Duration
	jitter   time.Duration
	running  atomic.Bool
}

// NewService builds a scheduler service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		jitter:   params.Jitter,
	}, nil
}

// Run starts the scheduler loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(s.jitter)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logg.Warn(ctx, "previous cycle still running; skipping this tick")
		s.recordSkipped("cycle")
		return nil
	}
	defer s.running.Store(false)

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another scheduler instance holds the lock; skipping this cycle")
		s.recordSkipped("cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release scheduler lock", relErr)
		}
	}()

	s.logg.Info(ctx, "scheduled run starting")
	for _, task := range s.registry.Tasks() {
		s.runTask(ctx, task)
	}
	s.logg.Info(ctx, "scheduled run complete")
	return nil
}

func (s *Service) runTask(ctx context.Context, task Task) {
	taskCtx := s.logg.WithField(ctx, "task", task.Name())
	s.logg.Info(taskCtx, "task start")
	start := time.Now()
	err := task.Run(taskCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(task.Name(), duration)
	taskCtx = s.logg.WithField(taskCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(taskCtx, "task failed", err)
		s.metrics.IncFailure(task.Name())
		return
	}
	s.logg.Info(taskCtx, "task completed")
	s.metrics.IncSuccess(task.Name())
}

func (s *Service) recordSkipped(name string) {
	s.metrics.IncSkipped(name)
}
