package gateway

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/query"
	"github.com/saiset-co/sai-docstore/types"
	"github.com/saiset-co/sai-docstore/utils"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const defaultStoreTimeout = 10 * time.Second

// Gateway executes CRUD and aggregation operations against dynamically
// named database/collection pairs. Reads go through the cache, writes
// evict the collection's whole cache namespace.
type Gateway struct {
	store        types.DocumentStore
	cache        types.CacheManager
	logger       types.Logger
	storeTimeout time.Duration
}

func NewGateway(config types.ConfigManager, logger types.Logger, cache types.CacheManager, store types.DocumentStore) *Gateway {
	timeout := defaultStoreTimeout
	if dbConfig := config.GetConfig().Database; dbConfig != nil && dbConfig.Timeout > 0 {
		timeout = dbConfig.Timeout
	}

	return &Gateway{
		store:        store,
		cache:        cache,
		logger:       logger,
		storeTimeout: timeout,
	}
}

func validateNames(database, collection string) error {
	if !nameRe.MatchString(database) {
		return types.Errorf(types.ErrDatabaseNameInvalid, "database: %q", database)
	}
	if !nameRe.MatchString(collection) {
		return types.Errorf(types.ErrDatabaseNameInvalid, "collection: %q", collection)
	}
	return nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return types.Errorf(types.ErrInvalidID, "id: %q", id)
	}
	return nil
}

// Namespace is the cache key prefix shared by every cached read of a
// collection. Pattern invalidation over it evicts parameterized reads too.
func Namespace(database, collection string) string {
	return database + "/" + collection
}

// querySignature renders request parameters into a canonical string so
// equivalent parameter sets hit the same cache entry.
func querySignature(params map[string][]string) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(params[key], ","))
	}
	return sb.String()
}

func (g *Gateway) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.storeTimeout)
}

func (g *Gateway) invalidate(database, collection string) {
	namespace := Namespace(database, collection)
	removed := g.cache.InvalidatePattern(namespace)
	if removed > 0 {
		g.logger.Debug("Cache namespace invalidated",
			zap.String("namespace", namespace),
			zap.Int("entries", removed))
	}
}

// List serves a parameterized collection read with cache-aside semantics.
// On a datastore failure it falls back to a stale cache entry when one
// exists, tagging the response so callers can tell degraded data apart.
func (g *Gateway) List(ctx context.Context, database, collection string, params map[string][]string) (*types.ListResponse, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}

	cacheKey := Namespace(database, collection)
	if signature := querySignature(params); signature != "" {
		cacheKey += ":" + signature
	}

	if cached, found := g.cache.Get(cacheKey); found {
		if response, ok := decodeListResponse(cached); ok {
			response.Meta = copyMeta(response.Meta)
			response.Meta.Source = types.SourceCache
			return response, nil
		}
	}

	spec, err := query.Parse(params)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	request := types.ReadDocumentsRequest{
		Database:   database,
		Collection: collection,
		Query:      spec,
	}

	docs, total, err := g.store.ReadDocuments(opCtx, request)
	if err != nil {
		return g.staleFallback(cacheKey, database, collection, err)
	}

	response := &types.ListResponse{
		Success: true,
		Data:    docs,
		Meta: &types.ListMeta{
			Total:      total,
			Count:      len(docs),
			Database:   database,
			Collection: collection,
			Source:     types.SourceDatabase,
		},
	}

	if cacheErr := g.cache.Set(cacheKey, response, 0); cacheErr != nil {
		g.logger.Warn("Failed to cache list response",
			zap.String("key", cacheKey), zap.Error(cacheErr))
	}

	return response, nil
}

func (g *Gateway) staleFallback(cacheKey, database, collection string, storeErr error) (*types.ListResponse, error) {
	stale, found := g.cache.GetStale(cacheKey)
	if !found {
		return nil, types.WrapError(types.ErrUnavailable, storeErr.Error())
	}

	cached, ok := decodeListResponse(stale.Value)
	if !ok {
		return nil, types.WrapError(types.ErrUnavailable, storeErr.Error())
	}

	g.logger.Warn("Serving stale cache after datastore failure",
		zap.String("key", cacheKey),
		zap.Bool("expired", stale.Expired),
		zap.Error(storeErr))

	response := *cached
	response.Meta = copyMeta(cached.Meta)
	response.Meta.Source = types.SourceCacheStale
	response.Stale = true
	response.Warning = "datastore unavailable, serving cached data"
	response.Cache = &types.StaleInfo{
		CreatedAt: stale.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: stale.ExpiresAt.UTC().Format(time.RFC3339),
		Expired:   stale.Expired,
	}

	return &response, nil
}

// decodeListResponse recovers a cached list response. The memory backend
// hands the stored pointer back; backends that round-trip entries through
// JSON (redis) hand back a generic map, which is re-decoded here.
func decodeListResponse(value interface{}) (*types.ListResponse, bool) {
	switch v := value.(type) {
	case *types.ListResponse:
		copied := *v
		return &copied, true
	case types.ListResponse:
		return &v, true
	}

	data, err := utils.Marshal(value)
	if err != nil {
		return nil, false
	}

	response := &types.ListResponse{}
	if err := utils.Unmarshal(data, response); err != nil {
		return nil, false
	}
	if response.Meta == nil && response.Data == nil {
		return nil, false
	}

	return response, true
}

func copyMeta(meta *types.ListMeta) *types.ListMeta {
	if meta == nil {
		return &types.ListMeta{}
	}
	copied := *meta
	return &copied
}

func (g *Gateway) GetOne(ctx context.Context, database, collection, id string) (map[string]interface{}, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	docs, _, err := g.store.ReadDocuments(opCtx, types.ReadDocumentsRequest{
		Database:   database,
		Collection: collection,
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{types.FieldInternalID: types.Eq(id)},
			Limit:  1,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, types.Errorf(types.ErrNotFound, "id: %s", id)
	}

	return docs[0], nil
}

func (g *Gateway) Create(ctx context.Context, database, collection string, document map[string]interface{}) (map[string]interface{}, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	if len(document) == 0 {
		return nil, types.ErrEmptyBody
	}

	delete(document, types.FieldInternalID)

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	ids, err := g.store.CreateDocuments(opCtx, types.CreateDocumentsRequest{
		Database:   database,
		Collection: collection,
		Data:       []map[string]interface{}{document},
	})
	if err != nil {
		return nil, err
	}

	g.invalidate(database, collection)

	return g.GetOne(ctx, database, collection, ids[0])
}

func (g *Gateway) CreateMany(ctx context.Context, database, collection string, documents []map[string]interface{}) ([]string, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return nil, types.ErrEmptyBody
	}

	for _, document := range documents {
		delete(document, types.FieldInternalID)
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	ids, err := g.store.CreateDocuments(opCtx, types.CreateDocumentsRequest{
		Database:   database,
		Collection: collection,
		Data:       documents,
	})
	if err != nil {
		return nil, err
	}

	g.invalidate(database, collection)
	return ids, nil
}

// Replace swaps the whole document body, preserving identity and creation
// stamp. Patch merges the given fields into the existing document.
func (g *Gateway) Replace(ctx context.Context, database, collection, id string, document map[string]interface{}) (map[string]interface{}, error) {
	return g.update(ctx, database, collection, id, document, true)
}

func (g *Gateway) Patch(ctx context.Context, database, collection, id string, document map[string]interface{}) (map[string]interface{}, error) {
	return g.update(ctx, database, collection, id, document, false)
}

func (g *Gateway) update(ctx context.Context, database, collection, id string, document map[string]interface{}, replace bool) (map[string]interface{}, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	if len(document) == 0 {
		return nil, types.ErrEmptyBody
	}

	delete(document, types.FieldInternalID)

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	updated, err := g.store.UpdateDocuments(opCtx, types.UpdateDocumentsRequest{
		Database:   database,
		Collection: collection,
		Filter:     map[string]types.Predicate{types.FieldInternalID: types.Eq(id)},
		Set:        document,
		Replace:    replace,
	})
	if err != nil {
		return nil, err
	}
	if updated == 0 {
		return nil, types.Errorf(types.ErrNotFound, "id: %s", id)
	}

	g.invalidate(database, collection)

	return g.GetOne(ctx, database, collection, id)
}

func (g *Gateway) Delete(ctx context.Context, database, collection, id string) error {
	if err := validateNames(database, collection); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	deleted, err := g.store.DeleteDocuments(opCtx, types.DeleteDocumentsRequest{
		Database:   database,
		Collection: collection,
		Filter:     map[string]types.Predicate{types.FieldInternalID: types.Eq(id)},
	})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return types.Errorf(types.ErrNotFound, "id: %s", id)
	}

	g.invalidate(database, collection)
	return nil
}

// DeleteMany refuses an empty filter. A delete-all must be expressed
// through DropCollection, never by accident.
func (g *Gateway) DeleteMany(ctx context.Context, database, collection string, filter map[string]types.Predicate) (int64, error) {
	if err := validateNames(database, collection); err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, types.Errorf(types.ErrInvalidParameter, "delete filter must not be empty")
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	deleted, err := g.store.DeleteDocuments(opCtx, types.DeleteDocumentsRequest{
		Database:   database,
		Collection: collection,
		Filter:     filter,
	})
	if err != nil {
		return 0, err
	}

	g.invalidate(database, collection)
	return deleted, nil
}

func (g *Gateway) Count(ctx context.Context, database, collection string, params map[string][]string) (int64, error) {
	if err := validateNames(database, collection); err != nil {
		return 0, err
	}

	spec, err := query.Parse(params)
	if err != nil {
		return 0, err
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	return g.store.CountDocuments(opCtx, types.CountDocumentsRequest{
		Database:   database,
		Collection: collection,
		Filter:     spec.Filter,
	})
}

func (g *Gateway) Distinct(ctx context.Context, database, collection, field string, params map[string][]string) ([]interface{}, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	if field == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "distinct field must not be empty")
	}

	spec, err := query.Parse(params)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	return g.store.Distinct(opCtx, types.DistinctRequest{
		Database:   database,
		Collection: collection,
		Field:      field,
		Filter:     spec.Filter,
	})
}

// Aggregate runs a caller-supplied pipeline verbatim. Never cached.
func (g *Gateway) Aggregate(ctx context.Context, database, collection string, pipeline []interface{}) ([]map[string]interface{}, error) {
	if err := validateNames(database, collection); err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "pipeline must be an array")
	}

	opCtx, cancel := g.opContext(ctx)
	defer cancel()

	return g.store.Aggregate(opCtx, types.AggregateRequest{
		Database:   database,
		Collection: collection,
		Pipeline:   pipeline,
	})
}
