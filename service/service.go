package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/cache"
	"github.com/saiset-co/sai-docstore/config"
	"github.com/saiset-co/sai-docstore/cron"
	"github.com/saiset-co/sai-docstore/database"
	"github.com/saiset-co/sai-docstore/events"
	"github.com/saiset-co/sai-docstore/gateway"
	"github.com/saiset-co/sai-docstore/logger"
	"github.com/saiset-co/sai-docstore/metrics"
	"github.com/saiset-co/sai-docstore/middleware"
	"github.com/saiset-co/sai-docstore/orders"
	"github.com/saiset-co/sai-docstore/server"
	"github.com/saiset-co/sai-docstore/types"
)

// Service wires every manager together and owns their lifecycle. Start
// order is dependencies first, Stop unwinds in reverse.
type Service struct {
	ctx     context.Context
	cancel  context.CancelFunc
	config  types.ConfigManager
	logger  types.Logger
	metrics types.MetricsManager
	cache   types.CacheManager
	store   types.DocumentStore
	hub     *events.Hub
	cron    types.CronManager
	server  *server.FastHTTPServer

	managers []types.LifecycleManager
}

func NewService(configPath string) (*Service, error) {
	configManager, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, err
	}

	serviceConfig := configManager.GetConfig()

	log, err := logger.NewDefaultLogger(serviceConfig.Logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		ctx:    ctx,
		cancel: cancel,
		config: configManager,
		logger: log,
	}

	if err := svc.build(); err != nil {
		cancel()
		return nil, err
	}

	return svc, nil
}

func (s *Service) build() error {
	serviceConfig := s.config.GetConfig()

	if serviceConfig.Metrics != nil && serviceConfig.Metrics.Enabled {
		promMetrics, err := metrics.NewPrometheusMetrics(s.logger, serviceConfig.Metrics)
		if err != nil {
			return err
		}
		s.metrics = promMetrics
		s.managers = append(s.managers, promMetrics)
	}

	cacheManager, err := cache.NewCacheManager(s.ctx, s.config, s.logger, s.metrics)
	if err != nil {
		return err
	}
	s.cache = cacheManager
	s.managers = append(s.managers, cacheManager)

	store, err := database.NewStore(s.ctx, s.config, s.logger, s.metrics)
	if err != nil {
		return err
	}
	s.store = store
	s.managers = append(s.managers, store)

	if serviceConfig.Events != nil && serviceConfig.Events.Enabled {
		hub, err := events.NewHub(s.ctx, s.config, s.logger, s.metrics)
		if err != nil {
			return err
		}
		s.hub = hub
		s.managers = append(s.managers, hub)
	}

	if serviceConfig.Cron != nil && serviceConfig.Cron.Enabled {
		cronManager, err := cron.NewManager(s.ctx, s.config, s.logger, s.metrics)
		if err != nil {
			return err
		}
		s.cron = cronManager
		s.managers = append(s.managers, cronManager)

		if err := s.registerJobs(); err != nil {
			return err
		}
	}

	gw := gateway.NewGateway(s.config, s.logger, s.cache, s.store)

	var publisher types.EventPublisher
	if s.hub != nil {
		publisher = s.hub
	}
	machine := orders.NewMachine(s.config, s.logger, s.cache, s.store, publisher)

	handlers := server.NewHandlers(s.config, s.logger, gw, machine, s.cache, s.hub)

	var metricsPath string
	var metricsHandler types.FastHTTPHandler
	if s.metrics != nil {
		metricsPath = serviceConfig.Metrics.Path
		metricsHandler = s.metrics.Handler()
	}

	router := server.NewRouter(handlers, metricsPath, metricsHandler)
	handler := middleware.Chain(router.Handler(),
		middleware.Recovery(s.logger, s.metrics),
		middleware.Logging(s.logger, s.metrics),
	)

	httpServer, err := server.NewHTTPServer(s.ctx, s.config, s.logger, handler)
	if err != nil {
		return err
	}
	s.server = httpServer
	s.managers = append(s.managers, httpServer)

	return nil
}

func (s *Service) registerJobs() error {
	return s.cron.AddJob("cache_sweep", "@every 5m", func(ctx context.Context) error {
		removed := s.cache.Cleanup()
		if removed > 0 {
			s.logger.Debug("Cache sweep removed expired entries", zap.Int("removed", removed))
		}
		return nil
	})
}

func (s *Service) Start() error {
	serviceConfig := s.config.GetConfig()

	s.logger.Info("Starting service",
		zap.String("name", serviceConfig.Name),
		zap.String("version", serviceConfig.Version))

	for _, manager := range s.managers {
		if err := manager.Start(); err != nil {
			s.stopStarted()
			return err
		}
	}

	s.logger.Info("Service started")
	return nil
}

// Run starts the service and blocks until the process receives an
// interrupt or termination signal.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		s.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
	}

	return s.Stop()
}

func (s *Service) Stop() error {
	defer s.cancel()

	var firstErr error
	for i := len(s.managers) - 1; i >= 0; i-- {
		manager := s.managers[i]
		if !manager.IsRunning() {
			continue
		}
		if err := manager.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("Service stopped")
	return firstErr
}

func (s *Service) stopStarted() {
	for i := len(s.managers) - 1; i >= 0; i-- {
		if s.managers[i].IsRunning() {
			_ = s.managers[i].Stop()
		}
	}
}
