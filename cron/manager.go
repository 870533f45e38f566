package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const defaultJobTimeout = 30 * time.Minute

// Manager schedules recurring maintenance jobs, the cache sweep among
// them. Jobs run with a bounded timeout and panics are contained.
type Manager struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	metrics    types.MetricsManager
	cron       *cron.Cron
	jobs       map[string]cron.EntryID
	mu         sync.Mutex
	state      atomic.Value
	jobTimeout time.Duration
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CronManager, error) {
	timezone := time.UTC
	if cronConfig := config.GetConfig().Cron; cronConfig != nil && cronConfig.Timezone != "" {
		if loaded, err := time.LoadLocation(cronConfig.Timezone); err == nil {
			timezone = loaded
		} else {
			logger.Warn("Unknown timezone, falling back to UTC",
				zap.String("timezone", cronConfig.Timezone))
		}
	}

	cronLog := cronLogger{logger: logger}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:     managerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithChain(cron.Recover(cronLog)),
		),
		jobs:       make(map[string]cron.EntryID),
		jobTimeout: defaultJobTimeout,
	}

	manager.state.Store(StateStopped)

	return manager, nil
}

func (m *Manager) AddJob(name, schedule string, job types.CronJob) error {
	if name == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return types.Errorf(types.ErrCronJobExists, "name: %s", name)
	}

	entryID, err := m.cron.AddFunc(schedule, m.wrapJob(name, job))
	if err != nil {
		return types.WrapError(err, "failed to add cron job")
	}

	m.jobs[name] = entryID

	m.logger.Info("Cron job added",
		zap.String("job_name", name),
		zap.String("schedule", schedule))

	return nil
}

func (m *Manager) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryID, exists := m.jobs[name]
	if !exists {
		return types.Errorf(types.ErrCronJobNameIsEmpty, "unknown job: %s", name)
	}

	m.cron.Remove(entryID)
	delete(m.jobs, name)

	m.logger.Info("Cron job removed", zap.String("job_name", name))
	return nil
}

func (m *Manager) Start() error {
	if !m.state.CompareAndSwap(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	m.cron.Start()
	m.state.Store(StateRunning)
	m.logger.Info("Cron manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.state.Store(StateStopped)

	m.cancel()

	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		m.logger.Warn("Cron jobs did not finish before shutdown deadline")
	}

	m.logger.Info("Cron manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.state.Load().(State) == StateRunning
}

func (m *Manager) wrapJob(name string, job types.CronJob) func() {
	return func() {
		start := time.Now()

		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		err := job(jobCtx)
		duration := time.Since(start)

		result := "success"
		if err != nil {
			result = "error"
			m.logger.Error("Cron job failed",
				zap.String("job_name", name),
				zap.Duration("duration", duration),
				zap.Error(err))
		} else {
			m.logger.Debug("Cron job completed",
				zap.String("job_name", name),
				zap.Duration("duration", duration))
		}

		if m.metrics != nil {
			m.metrics.Counter("cron_job_executions_total", map[string]string{
				"job":    name,
				"result": result,
			}).Inc()
			m.metrics.Histogram("cron_job_duration_seconds",
				[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
				map[string]string{"job": name},
			).ObserveDuration(start)
		}
	}
}

type cronLogger struct {
	logger types.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug(msg, zap.String("details", fmt.Sprint(keysAndValues...)))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error(msg, zap.Error(err), zap.String("details", fmt.Sprint(keysAndValues...)))
}
