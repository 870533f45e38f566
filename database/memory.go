package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-docstore/types"
)

// MemoryStore keeps collections in process memory. It backs tests and
// single-node deployments where persistence is not required.
type MemoryStore struct {
	collections map[string]map[string]map[string]interface{}
	mutex       sync.RWMutex
	logger      types.Logger
	config      *types.DatabaseConfig
	state       atomic.Value
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.DatabaseConfig) (types.DocumentStore, error) {
	store := &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		logger:      logger,
		config:      config,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == StateStarting {
			m.setState(StateRunning)
		}
	}()

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(StateStopped)
	}()

	m.mutex.Lock()
	m.collections = make(map[string]map[string]map[string]interface{})
	m.mutex.Unlock()

	m.logger.Info("Memory store stopped gracefully")
	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) DropCollection(database, collection string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.collections, namespace(database, collection))
	return nil
}

func (m *MemoryStore) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(request.Data) == 0 {
		return []string{}, nil
	}

	ns := namespace(request.Database, request.Collection)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.collections[ns]; !exists {
		m.collections[ns] = make(map[string]map[string]interface{})
	}

	var ids []string
	now := time.Now().UnixNano()

	for i, dataMap := range request.Data {
		internalID := uuid.New().String()
		dataMap[types.FieldInternalID] = internalID
		dataMap[types.FieldCreatedAt] = now + int64(i)
		dataMap[types.FieldChangedAt] = now + int64(i)

		m.collections[ns][internalID] = deepCopyMap(dataMap)
		ids = append(ids, internalID)
	}

	return ids, nil
}

func (m *MemoryStore) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	spec := request.Query
	if spec == nil {
		spec = &types.QuerySpec{}
	}

	matched := m.matchingDocuments(namespace(request.Database, request.Collection), spec.Filter)
	total := int64(len(matched))

	sortDocuments(matched, spec.Sort)
	matched = paginate(matched, spec.Skip, spec.Limit)

	results := make([]map[string]interface{}, 0, len(matched))
	for _, doc := range matched {
		results = append(results, projectDocument(doc, spec.Projection))
	}

	return results, total, nil
}

func (m *MemoryStore) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ns := namespace(request.Database, request.Collection)
	now := time.Now().UnixNano()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	collection, exists := m.collections[ns]
	if !exists {
		return 0, nil
	}

	updated := int64(0)

	for id, doc := range collection {
		if !matchFilter(doc, request.Filter) {
			continue
		}

		next := rebuildDocument(doc, request, now)

		if request.Replace || len(request.Unset) > 0 {
			collection[id] = deepCopyMap(next)
		} else {
			for key, value := range next {
				doc[key] = deepCopyValue(value)
			}
		}

		updated++
	}

	return updated, nil
}

func (m *MemoryStore) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ns := namespace(request.Database, request.Collection)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	collection, exists := m.collections[ns]
	if !exists {
		return 0, nil
	}

	deleted := int64(0)
	for id, doc := range collection {
		if matchFilter(doc, request.Filter) {
			delete(collection, id)
			deleted++
		}
	}

	return deleted, nil
}

func (m *MemoryStore) CountDocuments(ctx context.Context, request types.CountDocumentsRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	matched := m.matchingDocuments(namespace(request.Database, request.Collection), request.Filter)
	return int64(len(matched)), nil
}

func (m *MemoryStore) Distinct(ctx context.Context, request types.DistinctRequest) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched := m.matchingDocuments(namespace(request.Database, request.Collection), request.Filter)
	return distinctValues(matched, request.Field), nil
}

func (m *MemoryStore) Aggregate(ctx context.Context, request types.AggregateRequest) ([]map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs := m.matchingDocuments(namespace(request.Database, request.Collection), nil)
	return runPipeline(docs, request.Pipeline)
}

// matchingDocuments snapshots every document in the namespace matching the
// filter. Copies go out so callers never alias live store state.
func (m *MemoryStore) matchingDocuments(ns string, filter map[string]types.Predicate) []map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	collection, exists := m.collections[ns]
	if !exists {
		return []map[string]interface{}{}
	}

	matched := make([]map[string]interface{}, 0, len(collection))
	for _, doc := range collection {
		if matchFilter(doc, filter) {
			matched = append(matched, deepCopyMap(doc))
		}
	}

	return matched
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}
