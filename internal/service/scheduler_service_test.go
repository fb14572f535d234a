package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/pkg/config"
)

type captureGenerator struct {
	mu      sync.Mutex
	windows [][2]time.Time
	done    chan struct{}
}

func (c *captureGenerator) GenerateBulk(_ context.Context, windowStart, windowEnd time.Time, _ bool) (*dto.BulkGenerationResult, error) {
	c.mu.Lock()
	c.windows = append(c.windows, [2]time.Time{windowStart, windowEnd})
	c.mu.Unlock()
	select {
	case c.done <- struct{}{}:
	default:
	}
	return &dto.BulkGenerationResult{}, nil
}

func TestSchedulerRunsImmediatelyWithHorizonWindow(t *testing.T) {
	gen := &captureGenerator{done: make(chan struct{}, 1)}
	svc := NewSchedulerService(gen, config.GenerationConfig{
		HorizonMonths:     3,
		SkipHolidays:      true,
		SchedulerEnabled:  true,
		SchedulerInterval: time.Hour,
		WorkerConcurrency: 1,
	}, zap.NewNop())
	now := date(2024, time.March, 1)
	svc.clock = func() time.Time { return now }

	svc.Start(context.Background())
	defer svc.Stop()

	select {
	case <-gen.done:
	case <-time.After(2 * time.Second):
		t.Fatal("generation run never fired")
	}

	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.NotEmpty(t, gen.windows)
	assert.Equal(t, now, gen.windows[0][0])
	assert.Equal(t, now.AddDate(0, 3, 0), gen.windows[0][1])
}

func TestSchedulerDisabledDoesNotStart(t *testing.T) {
	gen := &captureGenerator{done: make(chan struct{}, 1)}
	svc := NewSchedulerService(gen, config.GenerationConfig{
		SchedulerEnabled:  false,
		SchedulerInterval: time.Millisecond,
	}, zap.NewNop())

	svc.Start(context.Background())
	svc.Stop()

	select {
	case <-gen.done:
		t.Fatal("disabled scheduler still ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTriggerNowFailsBeforeStart(t *testing.T) {
	gen := &captureGenerator{done: make(chan struct{}, 1)}
	svc := NewSchedulerService(gen, config.GenerationConfig{SchedulerEnabled: true, SchedulerInterval: time.Hour}, zap.NewNop())

	assert.Error(t, svc.TriggerNow())
}
