package database

import (
	"context"
	"sync/atomic"
	"time"

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

var customStoreCreators = make(map[string]types.DocumentStoreCreator)

func RegisterDocumentStore(storeType string, creator types.DocumentStoreCreator) {
	customStoreCreators[storeType] = creator
}

func NewStore(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.DocumentStore, error) {
	dbConfig := config.GetConfig().Database

	if !dbConfig.Enabled {
		return nil, types.ErrDatabaseIsDisabled
	}

	var impl types.DocumentStore
	var err error

	switch dbConfig.Type {
	case "clover":
		impl, err = NewCloverStore(ctx, logger, dbConfig)
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, dbConfig)
	default:
		if creator, exists := customStoreCreators[dbConfig.Type]; exists {
			impl, err = creator(dbConfig)
		} else {
			return nil, types.Errorf(types.ErrDatabaseTypeUnknown, "type: %s", dbConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStore(logger, metrics, impl), nil
}

type instrumentedStore struct {
	impl    types.DocumentStore
	logger  types.Logger
	metrics types.MetricsManager
	state   atomic.Value
}

func newInstrumentedStore(logger types.Logger, metrics types.MetricsManager, impl types.DocumentStore) types.DocumentStore {
	instrumented := &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}

	instrumented.state.Store(StateStopped)
	return instrumented
}

func (ds *instrumentedStore) Start() error {
	if !ds.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if ds.getState() == StateStarting {
			ds.setState(StateRunning)
		}
	}()

	err := ds.impl.Start()
	if err != nil {
		ds.setState(StateStopped)
		return err
	}

	ds.logger.Info("Document store started")
	return nil
}

func (ds *instrumentedStore) Stop() error {
	if !ds.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		ds.setState(StateStopped)
	}()

	err := ds.impl.Stop()
	if err != nil {
		ds.logger.Error("Failed to stop document store implementation", zap.Error(err))
		return err
	}

	ds.logger.Info("Document store stopped gracefully")
	return nil
}

func (ds *instrumentedStore) IsRunning() bool {
	return ds.getState() == StateRunning
}

func (ds *instrumentedStore) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	start := time.Now()
	ids, err := ds.impl.CreateDocuments(ctx, request)
	ds.record("create", err, start)
	return ids, err
}

func (ds *instrumentedStore) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	start := time.Now()
	docs, total, err := ds.impl.ReadDocuments(ctx, request)
	ds.record("read", err, start)
	return docs, total, err
}

func (ds *instrumentedStore) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	start := time.Now()
	count, err := ds.impl.UpdateDocuments(ctx, request)
	ds.record("update", err, start)
	return count, err
}

func (ds *instrumentedStore) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	start := time.Now()
	count, err := ds.impl.DeleteDocuments(ctx, request)
	ds.record("delete", err, start)
	return count, err
}

func (ds *instrumentedStore) CountDocuments(ctx context.Context, request types.CountDocumentsRequest) (int64, error) {
	start := time.Now()
	count, err := ds.impl.CountDocuments(ctx, request)
	ds.record("count", err, start)
	return count, err
}

func (ds *instrumentedStore) Distinct(ctx context.Context, request types.DistinctRequest) ([]interface{}, error) {
	start := time.Now()
	values, err := ds.impl.Distinct(ctx, request)
	ds.record("distinct", err, start)
	return values, err
}

func (ds *instrumentedStore) Aggregate(ctx context.Context, request types.AggregateRequest) ([]map[string]interface{}, error) {
	start := time.Now()
	docs, err := ds.impl.Aggregate(ctx, request)
	ds.record("aggregate", err, start)
	return docs, err
}

func (ds *instrumentedStore) DropCollection(database, collection string) error {
	return ds.impl.DropCollection(database, collection)
}

func (ds *instrumentedStore) record(operation string, err error, start time.Time) {
	if ds.metrics == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	counter := ds.metrics.Counter("store_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	counter.Inc()

	duration := ds.metrics.Histogram("store_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
		map[string]string{"operation": operation},
	)
	duration.ObserveDuration(start)
}

func (ds *instrumentedStore) getState() State {
	return ds.state.Load().(State)
}

func (ds *instrumentedStore) setState(newState State) bool {
	currentState := ds.getState()
	return ds.state.CompareAndSwap(currentState, newState)
}

func (ds *instrumentedStore) transitionState(from, to State) bool {
	return ds.state.CompareAndSwap(from, to)
}
