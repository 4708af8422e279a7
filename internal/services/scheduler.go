package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aiwuxian/project-syndicate/internal/errutil"
)

// 定时任务状态标签
const (
	TickOK      = "ok"
	TickError   = "error"
	TickSkipped = "skipped"
)

// Job 定时任务，Tick 返回受影响的角色数
type Job interface {
	Name() string
	Tick(ctx context.Context) (int64, error)
}

type scheduledJob struct {
	job      Job
	interval time.Duration
	running  atomic.Bool
}

// Scheduler 按固定间隔运行任务，同一任务最多一个执行中
type Scheduler struct {
	mu      sync.Mutex
	jobs    []*scheduledJob
	timeout time.Duration
	logger  *slog.Logger

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{timeout: timeout, logger: logger}
}

// Add 注册任务，需在 Start 之前调用
func (s *Scheduler) Add(job Job, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{job: job, interval: interval})
}

// Start 为每个任务启动循环
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already running")
	}
	s.started = true
	s.stopCh = make(chan struct{})

	for _, sj := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, sj, s.stopCh)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop 停止所有循环并等待执行中的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, sj *scheduledJob, stopCh <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(sj.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.run(ctx, sj)
		}
	}
}

// RunOnce 立即执行指定任务一次；任务正在执行时跳过
func (s *Scheduler) RunOnce(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	var target *scheduledJob
	for _, sj := range s.jobs {
		if sj.job.Name() == name {
			target = sj
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return false, fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, target), nil
}

// run 执行一次 tick，返回是否真正执行
func (s *Scheduler) run(ctx context.Context, sj *scheduledJob) bool {
	name := sj.job.Name()
	if !sj.running.CompareAndSwap(false, true) {
		recordTick(name, TickSkipped, 0)
		s.logger.Warn("tick skipped, previous run still in progress", "job", name)
		return false
	}
	defer sj.running.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()
	span.SetAttributes(attribute.String("job", name))

	start := time.Now()
	rows, err := sj.job.Tick(ctx)
	if err != nil {
		recordTick(name, TickError, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
		errutil.LogError(ctx, s.logger, "scheduler tick failed", err, "job", name)
		return true
	}

	recordTick(name, TickOK, rows)
	span.SetAttributes(attribute.Int64("rows", rows))
	s.logger.DebugContext(ctx, "scheduler tick", "job", name, "rows", rows, "duration", time.Since(start))
	return true
}
