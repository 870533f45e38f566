package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/logger"
	"github.com/saiset-co/sai-docstore/types"
)

func newTestStore(t *testing.T) types.DocumentStore {
	t.Helper()

	store, err := NewMemoryStore(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.DatabaseConfig{})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return store
}

func seedProducts(t *testing.T, store types.DocumentStore) []string {
	t.Helper()

	ids, err := store.CreateDocuments(context.Background(), types.CreateDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Data: []map[string]interface{}{
			{"name": "notebook", "category": "paper", "price": 4.5, "stock": 10.0},
			{"name": "pen", "category": "pens", "price": 1.2, "stock": 100.0},
			{"name": "fountain pen", "category": "pens", "price": 35.0, "stock": 5.0},
			{"name": "ink", "category": "ink", "price": 8.0, "stock": 25.0},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 4)

	return ids
}

func TestMemoryStore_CreateStampsIdentity(t *testing.T) {
	store := newTestStore(t)
	ids := seedProducts(t, store)

	for _, id := range ids {
		_, err := uuid.Parse(id)
		require.NoError(t, err)
	}

	docs, total, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)

	for _, doc := range docs {
		assert.NotEmpty(t, doc[types.FieldInternalID])
		assert.NotNil(t, doc[types.FieldCreatedAt])
		assert.NotNil(t, doc[types.FieldChangedAt])
	}
}

func TestMemoryStore_ReadFilterSortPaginate(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	docs, total, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{"price": types.Gte(2.0)},
			Sort:   []types.SortField{{Field: "price", Direction: types.SortDesc}},
			Skip:   1,
			Limit:  1,
		},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 3, total, "total ignores skip and limit")
	require.Len(t, docs, 1)
	assert.Equal(t, "ink", docs[0]["name"])
}

func TestMemoryStore_ReadProjectionKeepsIdentity(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	docs, _, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter:     map[string]types.Predicate{"name": types.Eq("pen")},
			Projection: []string{"name"},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "pen", docs[0]["name"])
	assert.NotEmpty(t, docs[0][types.FieldInternalID])
	assert.NotContains(t, docs[0], "price")
}

func TestMemoryStore_UpdateSet(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	updated, err := store.UpdateDocuments(context.Background(), types.UpdateDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Filter:     map[string]types.Predicate{"category": types.Eq("pens")},
		Set:        map[string]interface{}{"discounted": true},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	docs, _, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{"discounted": types.Eq(true)},
		},
	})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestMemoryStore_UpdateInc(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	updated, err := store.UpdateDocuments(context.Background(), types.UpdateDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Filter:     map[string]types.Predicate{"name": types.Eq("pen")},
		Inc:        map[string]float64{"stock": -3},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	docs, _, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{"name": types.Eq("pen")},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.EqualValues(t, 97.0, docs[0]["stock"])
}

func TestMemoryStore_UpdateReplacePreservesIdentity(t *testing.T) {
	store := newTestStore(t)
	ids := seedProducts(t, store)

	updated, err := store.UpdateDocuments(context.Background(), types.UpdateDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Filter:     map[string]types.Predicate{types.FieldInternalID: types.Eq(ids[0])},
		Set:        map[string]interface{}{"name": "sketchbook", "price": 9.0},
		Replace:    true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	docs, _, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{types.FieldInternalID: types.Eq(ids[0])},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "sketchbook", docs[0]["name"])
	assert.Equal(t, ids[0], docs[0][types.FieldInternalID])
	assert.NotContains(t, docs[0], "category", "replace drops fields absent from the new body")
	assert.NotNil(t, docs[0][types.FieldCreatedAt])
}

func TestMemoryStore_UpdateUnset(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	updated, err := store.UpdateDocuments(context.Background(), types.UpdateDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Filter:     map[string]types.Predicate{"name": types.Eq("ink")},
		Unset:      []string{"category"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	docs, _, err := store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{"name": types.Eq("ink")},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotContains(t, docs[0], "category")
}

func TestMemoryStore_DeleteAndCount(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	deleted, err := store.DeleteDocuments(context.Background(), types.DeleteDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Filter:     map[string]types.Predicate{"category": types.Eq("pens")},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	count, err := store.CountDocuments(context.Background(), types.CountDocumentsRequest{
		Database:   "shop",
		Collection: "products",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestMemoryStore_DeleteByNestedObjectEquality(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateDocuments(context.Background(), types.CreateDocumentsRequest{
		Database:   "crm",
		Collection: "customers",
		Data: []map[string]interface{}{
			{"name": "alice", "addr": map[string]interface{}{"city": "NY"}},
			{"name": "bob", "addr": map[string]interface{}{"city": "LA"}},
			{"name": "carol", "tags": []interface{}{"vip"}},
		},
	})
	require.NoError(t, err)

	deleted, err := store.DeleteDocuments(context.Background(), types.DeleteDocumentsRequest{
		Database:   "crm",
		Collection: "customers",
		Filter:     map[string]types.Predicate{"addr": types.Eq(map[string]interface{}{"city": "NY"})},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	deleted, err = store.DeleteDocuments(context.Background(), types.DeleteDocumentsRequest{
		Database:   "crm",
		Collection: "customers",
		Filter:     map[string]types.Predicate{"tags": types.Eq([]interface{}{"vip"})},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	count, err := store.CountDocuments(context.Background(), types.CountDocumentsRequest{
		Database:   "crm",
		Collection: "customers",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMemoryStore_Distinct(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	values, err := store.Distinct(context.Background(), types.DistinctRequest{
		Database:   "shop",
		Collection: "products",
		Field:      "category",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{"paper", "pens", "ink"}, values)
}

func TestMemoryStore_AggregateMatchGroup(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	results, err := store.Aggregate(context.Background(), types.AggregateRequest{
		Database:   "shop",
		Collection: "products",
		Pipeline: []interface{}{
			map[string]interface{}{"$match": map[string]interface{}{
				"price": map[string]interface{}{"$gte": 1.0},
			}},
			map[string]interface{}{"$group": map[string]interface{}{
				"_id":   "$category",
				"total": map[string]interface{}{"$sum": "$stock"},
			}},
			map[string]interface{}{"$sort": map[string]interface{}{"total": -1.0}},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "pens", results[0]["_id"])
	assert.EqualValues(t, 105.0, results[0]["total"])
}

func TestMemoryStore_AggregateCount(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	results, err := store.Aggregate(context.Background(), types.AggregateRequest{
		Database:   "shop",
		Collection: "products",
		Pipeline: []interface{}{
			map[string]interface{}{"$match": map[string]interface{}{
				"category": "pens",
			}},
			map[string]interface{}{"$count": "matched"},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualValues(t, 2, results[0]["matched"])
}

func TestMemoryStore_AggregateUnknownStage(t *testing.T) {
	store := newTestStore(t)
	seedProducts(t, store)

	_, err := store.Aggregate(context.Background(), types.AggregateRequest{
		Database:   "shop",
		Collection: "products",
		Pipeline: []interface{}{
			map[string]interface{}{"$lookup": map[string]interface{}{}},
		},
	})
	require.ErrorIs(t, err, types.ErrPipelineStageUnknown)
}
