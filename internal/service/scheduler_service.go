package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/pkg/config"
	"github.com/klangwerk/lessonledger-api/pkg/jobs"
)

const jobTypeGenerateLessons = "generate_lessons"

type bulkGenerator interface {
	GenerateBulk(ctx context.Context, windowStart, windowEnd time.Time, skipHolidays bool) (*dto.BulkGenerationResult, error)
}

// SchedulerService keeps the lesson horizon topped up. On every tick it
// enqueues a bulk generation job covering the configured number of months
// ahead. Generation is idempotent, so overlapping runs are harmless.
type SchedulerService struct {
	generator bulkGenerator
	cfg       config.GenerationConfig
	logger    *zap.Logger
	queue     *jobs.Queue
	clock     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSchedulerService wires the scheduler. Call Start to begin ticking.
func NewSchedulerService(generator bulkGenerator, cfg config.GenerationConfig, logger *zap.Logger) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SchedulerService{
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		clock:     time.Now,
	}
	s.queue = jobs.NewQueue(jobTypeGenerateLessons, s.handleJob, jobs.QueueConfig{
		Workers: cfg.WorkerConcurrency,
		Logger:  logger,
	})
	return s
}

// Start launches the worker pool and the ticker loop. A run fires
// immediately so a fresh deployment does not wait a full interval.
func (s *SchedulerService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.cfg.SchedulerEnabled {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	s.queue.Start(runCtx)
	go s.loop(runCtx)
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.SchedulerInterval),
		zap.Int("horizon_months", s.cfg.HorizonMonths))
}

// Stop halts the ticker and drains the worker pool.
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	s.queue.Stop()
	s.logger.Info("scheduler stopped")
}

// TriggerNow enqueues a generation run outside the regular schedule.
func (s *SchedulerService) TriggerNow() error {
	return s.enqueue()
}

func (s *SchedulerService) loop(ctx context.Context) {
	defer close(s.done)

	if err := s.enqueue(); err != nil {
		s.logger.Warn("failed to enqueue initial generation run", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.SchedulerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.enqueue(); err != nil {
				s.logger.Warn("failed to enqueue generation run", zap.Error(err))
			}
		}
	}
}

func (s *SchedulerService) enqueue() error {
	return s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: jobTypeGenerateLessons,
	})
}

func (s *SchedulerService) handleJob(ctx context.Context, job jobs.Job) error {
	now := s.clock().UTC()
	windowStart := now
	windowEnd := now.AddDate(0, s.cfg.HorizonMonths, 0)

	result, err := s.generator.GenerateBulk(ctx, windowStart, windowEnd, s.cfg.SkipHolidays)
	if err != nil {
		return err
	}
	s.logger.Info("scheduled generation run finished",
		zap.String("job_id", job.ID),
		zap.Int("processed", result.Processed),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return nil
}
