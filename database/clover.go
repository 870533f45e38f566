package database

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ostafen/clover"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/types"
)

// CloverStore persists documents in an embedded CloverDB. A database name
// and collection name pair maps onto one clover collection under the
// "<database>/<collection>" namespace.
type CloverStore struct {
	db     *clover.DB
	logger types.Logger
	config *types.DatabaseConfig
	state  atomic.Value
}

func NewCloverStore(ctx context.Context, logger types.Logger, config *types.DatabaseConfig) (types.DocumentStore, error) {
	db, err := clover.Open(config.Path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open CloverDB")
	}

	store := &CloverStore{
		db:     db,
		logger: logger,
		config: config,
	}

	store.state.Store(StateStopped)
	return store, nil
}

func (c *CloverStore) Start() error {
	if !c.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if c.getState() == StateStarting {
			c.setState(StateRunning)
		}
	}()

	c.logger.Info("CloverDB started", zap.String("path", c.config.Path))
	return nil
}

func (c *CloverStore) Stop() error {
	if !c.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		c.setState(StateStopped)
	}()

	err := c.db.Close()
	if err != nil {
		return types.WrapError(err, "failed to close CloverDB")
	}

	c.logger.Info("CloverDB stopped gracefully")
	return nil
}

func (c *CloverStore) IsRunning() bool {
	return c.getState() == StateRunning
}

func (c *CloverStore) DropCollection(database, collection string) error {
	err := c.db.DropCollection(namespace(database, collection))
	if err != nil {
		return types.WrapError(err, "failed to drop collection")
	}

	return nil
}

func (c *CloverStore) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(request.Data) == 0 {
		return []string{}, nil
	}

	ns := namespace(request.Database, request.Collection)
	if err := c.ensureCollection(ns); err != nil {
		return nil, err
	}

	var docs []*clover.Document
	var ids []string
	now := time.Now().UnixNano()

	for i, dataMap := range request.Data {
		internalID := uuid.New().String()
		dataMap[types.FieldInternalID] = internalID
		dataMap[types.FieldCreatedAt] = now + int64(i)
		dataMap[types.FieldChangedAt] = now + int64(i)

		doc := clover.NewDocument()
		for key, value := range dataMap {
			doc.Set(key, value)
		}

		docs = append(docs, doc)
		ids = append(ids, internalID)
	}

	err := c.db.Insert(ns, docs...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to insert documents")
	}

	return ids, nil
}

func (c *CloverStore) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	ns := namespace(request.Database, request.Collection)

	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		return []map[string]interface{}{}, 0, nil
	}

	spec := request.Query
	if spec == nil {
		spec = &types.QuerySpec{}
	}

	query := c.applyFilter(c.db.Query(ns), spec.Filter)

	if len(spec.Sort) > 0 {
		sortOpts := make([]clover.SortOption, 0, len(spec.Sort))
		for _, sf := range spec.Sort {
			sortOpts = append(sortOpts, clover.SortOption{Field: sf.Field, Direction: int(sf.Direction)})
		}
		query = query.Sort(sortOpts...)
	}

	if spec.Skip > 0 {
		query = query.Skip(spec.Skip)
	}

	if spec.Limit > 0 {
		query = query.Limit(spec.Limit)
	}

	cloverDocs, err := query.FindAll()
	if err != nil {
		return nil, 0, pkgerrors.Wrap(err, "failed to find documents")
	}

	// Total matches ignore pagination.
	total, err := c.applyFilter(c.db.Query(ns), spec.Filter).Count()
	if err != nil {
		return nil, 0, pkgerrors.Wrap(err, "failed to count documents")
	}

	results := make([]map[string]interface{}, 0, len(cloverDocs))
	for _, doc := range cloverDocs {
		docMap := make(map[string]interface{})
		if err := doc.Unmarshal(&docMap); err != nil {
			continue
		}

		delete(docMap, "_id")

		results = append(results, projectDocument(docMap, spec.Projection))
	}

	return results, int64(total), nil
}

func (c *CloverStore) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ns := namespace(request.Database, request.Collection)

	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		return 0, nil
	}

	matching, err := c.applyFilter(c.db.Query(ns), request.Filter).FindAll()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to find matching documents")
	}

	if len(matching) == 0 {
		return 0, nil
	}

	now := time.Now().UnixNano()
	updated := int64(0)

	// Inc and Replace both need the current document, so updates run one
	// document at a time keyed on the identity field.
	for _, cloverDoc := range matching {
		docMap := make(map[string]interface{})
		if err := cloverDoc.Unmarshal(&docMap); err != nil {
			continue
		}
		delete(docMap, "_id")

		internalID, _ := docMap[types.FieldInternalID].(string)
		if internalID == "" {
			continue
		}

		next := rebuildDocument(docMap, request, now)

		byID := c.db.Query(ns).Where(clover.Field(types.FieldInternalID).Eq(internalID))

		if request.Replace || len(request.Unset) > 0 {
			// Clover merges update maps, so field removal needs a full
			// document swap.
			if err := byID.Delete(); err != nil {
				return updated, pkgerrors.Wrap(err, "failed to replace document")
			}

			doc := clover.NewDocument()
			for key, value := range next {
				doc.Set(key, value)
			}

			if err := c.db.Insert(ns, doc); err != nil {
				return updated, pkgerrors.Wrap(err, "failed to insert replacement document")
			}
		} else {
			if err := byID.Update(next); err != nil {
				return updated, pkgerrors.Wrap(err, "failed to update document")
			}
		}

		updated++
	}

	return updated, nil
}

func (c *CloverStore) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ns := namespace(request.Database, request.Collection)

	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		return 0, nil
	}

	query := c.applyFilter(c.db.Query(ns), request.Filter)

	count, err := query.Count()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to count matching documents")
	}

	if count == 0 {
		return 0, nil
	}

	if err := query.Delete(); err != nil {
		return 0, pkgerrors.Wrap(err, "failed to delete documents")
	}

	return int64(count), nil
}

func (c *CloverStore) CountDocuments(ctx context.Context, request types.CountDocumentsRequest) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ns := namespace(request.Database, request.Collection)

	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		return 0, nil
	}

	count, err := c.applyFilter(c.db.Query(ns), request.Filter).Count()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to count documents")
	}

	return int64(count), nil
}

func (c *CloverStore) Distinct(ctx context.Context, request types.DistinctRequest) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ns := namespace(request.Database, request.Collection)

	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		return []interface{}{}, nil
	}

	docs, err := c.applyFilter(c.db.Query(ns), request.Filter).FindAll()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to find documents")
	}

	return distinctValues(unmarshalDocs(docs), request.Field), nil
}

func (c *CloverStore) Aggregate(ctx context.Context, request types.AggregateRequest) ([]map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ns := namespace(request.Database, request.Collection)

	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		return []map[string]interface{}{}, nil
	}

	docs, err := c.db.Query(ns).FindAll()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to find documents")
	}

	return runPipeline(unmarshalDocs(docs), request.Pipeline)
}

func (c *CloverStore) ensureCollection(ns string) error {
	exists, err := c.db.HasCollection(ns)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to check collection existence")
	}

	if !exists {
		if err := c.db.CreateCollection(ns); err != nil {
			return pkgerrors.Wrap(err, "failed to create collection")
		}
	}

	return nil
}

func (c *CloverStore) applyFilter(query *clover.Query, filter map[string]types.Predicate) *clover.Query {
	for field, predicate := range filter {
		query = query.Where(cloverCriteria(field, predicate))
	}
	return query
}

func cloverCriteria(field string, predicate types.Predicate) *clover.Criteria {
	f := clover.Field(field)

	switch predicate.Op {
	case types.OpEq:
		return f.Eq(predicate.Value)
	case types.OpNe:
		return f.Neq(predicate.Value)
	case types.OpGt:
		return f.Gt(predicate.Value)
	case types.OpGte:
		return f.GtEq(predicate.Value)
	case types.OpLt:
		return f.Lt(predicate.Value)
	case types.OpLte:
		return f.LtEq(predicate.Value)
	case types.OpIn:
		return f.In(predicate.Values...)
	case types.OpRegex:
		return f.Like(insensitivePattern(predicate.Value))
	default:
		return f.Exists()
	}
}

func unmarshalDocs(docs []*clover.Document) []map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		docMap := make(map[string]interface{})
		if err := doc.Unmarshal(&docMap); err != nil {
			continue
		}
		delete(docMap, "_id")
		results = append(results, docMap)
	}
	return results
}

// rebuildDocument computes the post-update form of one document.
func rebuildDocument(current map[string]interface{}, request types.UpdateDocumentsRequest, now int64) map[string]interface{} {
	var next map[string]interface{}

	if request.Replace {
		next = make(map[string]interface{}, len(request.Set)+3)
		for key, value := range request.Set {
			next[key] = value
		}
		next[types.FieldInternalID] = current[types.FieldInternalID]
		next[types.FieldCreatedAt] = current[types.FieldCreatedAt]
	} else if len(request.Unset) > 0 {
		next = deepCopyMap(current)
		for key, value := range request.Set {
			next[key] = value
		}
		for _, key := range request.Unset {
			delete(next, key)
		}
	} else {
		next = make(map[string]interface{}, len(request.Set)+len(request.Inc)+1)
		for key, value := range request.Set {
			next[key] = value
		}
	}

	for key, inc := range request.Inc {
		currentValue, _ := toFloat(current[key])
		next[key] = currentValue + inc
	}

	delete(next, "_id")
	next[types.FieldChangedAt] = now

	return next
}

func distinctValues(docs []map[string]interface{}, field string) []interface{} {
	seen := make(map[string]bool)
	values := make([]interface{}, 0)

	for _, doc := range docs {
		value, present := fieldValue(doc, field)
		if !present {
			continue
		}

		key := valueKey(value)
		if !seen[key] {
			seen[key] = true
			values = append(values, value)
		}
	}

	return values
}

func valueKey(value interface{}) string {
	if num, ok := toFloat(value); ok {
		return "n:" + strconv.FormatFloat(num, 'g', -1, 64)
	}
	if str, ok := value.(string); ok {
		return "s:" + str
	}
	if b, ok := value.(bool); ok {
		return "b:" + strconv.FormatBool(b)
	}
	return "o:" + fmt.Sprintf("%v", value)
}

func namespace(database, collection string) string {
	return database + "/" + collection
}

func (c *CloverStore) getState() State {
	return c.state.Load().(State)
}

func (c *CloverStore) setState(newState State) bool {
	currentState := c.getState()
	return c.state.CompareAndSwap(currentState, newState)
}

func (c *CloverStore) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(from, to)
}
