package orders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/cache"
	"github.com/saiset-co/sai-docstore/database"
	"github.com/saiset-co/sai-docstore/logger"
	"github.com/saiset-co/sai-docstore/types"
)

type stubConfig struct {
	config *types.ServiceConfig
}

func (s *stubConfig) Load() error                     { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig { return s.config }

type recordedEvent struct {
	room    string
	action  string
	payload interface{}
}

type stubPublisher struct {
	events []recordedEvent
}

func (s *stubPublisher) Start() error    { return nil }
func (s *stubPublisher) Stop() error     { return nil }
func (s *stubPublisher) IsRunning() bool { return true }

func (s *stubPublisher) Publish(room string, action string, payload interface{}) error {
	s.events = append(s.events, recordedEvent{room: room, action: action, payload: payload})
	return nil
}

type fixture struct {
	machine   *Machine
	store     types.DocumentStore
	cache     types.CacheManager
	publisher *stubPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	store, err := database.NewMemoryStore(context.Background(), log, &types.DatabaseConfig{})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	cacheManager, err := cache.NewMemoryCache(context.Background(), log, &types.CacheConfig{})
	require.NoError(t, err)

	config := &stubConfig{config: &types.ServiceConfig{
		Name:    "test",
		Version: "0.0.0",
		Database: &types.DatabaseConfig{
			Enabled: true,
			Type:    "memory",
			Timeout: time.Second,
		},
		Orders: &types.OrdersConfig{
			Database:          "shop",
			OrderCollection:   "orders",
			ProductCollection: "products",
		},
	}}

	publisher := &stubPublisher{}
	machine := NewMachine(config, log, cacheManager, store, publisher)

	return &fixture{
		machine:   machine,
		store:     store,
		cache:     cacheManager,
		publisher: publisher,
	}
}

func (f *fixture) seedProduct(t *testing.T, refID string, stock float64) {
	t.Helper()

	_, err := f.store.CreateDocuments(context.Background(), types.CreateDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Data: []map[string]interface{}{
			{types.FieldProductRefID: refID, "name": refID, types.FieldProductStock: stock},
		},
	})
	require.NoError(t, err)
}

func (f *fixture) seedOrder(t *testing.T, items []interface{}) string {
	t.Helper()

	ids, err := f.store.CreateDocuments(context.Background(), types.CreateDocumentsRequest{
		Database:   "shop",
		Collection: "orders",
		Data: []map[string]interface{}{
			{
				types.FieldOrderStatus:   string(types.OrderStatusPending),
				types.FieldOrderItems:    items,
				types.FieldStockDeducted: false,
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	return ids[0]
}

func (f *fixture) productStock(t *testing.T, refID string) float64 {
	t.Helper()

	docs, _, err := f.store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "products",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{types.FieldProductRefID: types.Eq(refID)},
		},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	stock, ok := docs[0][types.FieldProductStock].(float64)
	require.True(t, ok)

	return stock
}

func lineItem(refID string, quantity float64) interface{} {
	return map[string]interface{}{
		types.FieldProductRefID: refID,
		"quantity":              quantity,
	}
}

func TestMachine_StockDeductedExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 3)})

	order, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.NoError(t, err)
	assert.Equal(t, string(types.OrderStatusReady), order[types.FieldOrderStatus])
	assert.Equal(t, true, order[types.FieldStockDeducted])
	assert.EqualValues(t, 7, f.productStock(t, "A"))

	// A second deducting transition must not touch stock again.
	order, err = f.machine.Transition(context.Background(), orderID, types.OrderStatusShipped, "")
	require.NoError(t, err)
	assert.Equal(t, string(types.OrderStatusShipped), order[types.FieldOrderStatus])
	assert.EqualValues(t, 7, f.productStock(t, "A"))

	order, err = f.machine.Transition(context.Background(), orderID, types.OrderStatusCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, false, order[types.FieldStockDeducted])
	assert.EqualValues(t, 10, f.productStock(t, "A"))

	// Cancelling again restores nothing.
	_, err = f.machine.Transition(context.Background(), orderID, types.OrderStatusCancelled, "")
	require.NoError(t, err)
	assert.EqualValues(t, 10, f.productStock(t, "A"))
}

func TestMachine_PendingHasNoStockEffect(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 3)})

	order, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusPending, "")
	require.NoError(t, err)
	assert.Equal(t, false, order[types.FieldStockDeducted])
	assert.EqualValues(t, 10, f.productStock(t, "A"))
}

func TestMachine_DeliveredWithDeviceAttribution(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 2)})

	order, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusDelivered, "scanner-7")
	require.NoError(t, err)

	assert.Equal(t, "scanner-7", order[types.FieldDeliveredBy])
	assert.NotNil(t, order[types.FieldDeliveredAt])
	assert.EqualValues(t, 8, f.productStock(t, "A"))
}

func TestMachine_InvalidStatusRejectedBeforeLookup(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.Transition(context.Background(), "not-even-an-id", "teleported", "")
	require.ErrorIs(t, err, types.ErrOrderStatusInvalid)
}

func TestMachine_InvalidOrderID(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.Transition(context.Background(), "not-a-uuid", types.OrderStatusReady, "")
	require.ErrorIs(t, err, types.ErrInvalidID)
}

func TestMachine_OrderNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.machine.Transition(context.Background(), "8f14e45f-ceea-4670-8f3a-8a9c2f0325cd", types.OrderStatusReady, "")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestMachine_PartialStockFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	// Product B intentionally missing: the second line item fails mid-loop.
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 3), lineItem("B", 1)})

	_, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.ErrorIs(t, err, types.ErrStockAdjustFailed)

	assert.EqualValues(t, 10, f.productStock(t, "A"), "the applied decrement is compensated")

	docs, _, readErr := f.store.ReadDocuments(context.Background(), types.ReadDocumentsRequest{
		Database:   "shop",
		Collection: "orders",
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{types.FieldInternalID: types.Eq(orderID)},
		},
	})
	require.NoError(t, readErr)
	require.Len(t, docs, 1)
	assert.Equal(t, string(types.OrderStatusPending), docs[0][types.FieldOrderStatus])
	assert.Equal(t, false, docs[0][types.FieldStockDeducted])
}

// orderWriteFailingStore delegates to a real store but refuses to persist
// order documents, so the stock movement lands before the flag write fails.
type orderWriteFailingStore struct {
	types.DocumentStore
	orderUpdateErr error
	vanishOrders   bool
}

func (s *orderWriteFailingStore) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	if request.Collection == "orders" {
		if s.orderUpdateErr != nil {
			return 0, s.orderUpdateErr
		}
		if s.vanishOrders {
			return 0, nil
		}
	}
	return s.DocumentStore.UpdateDocuments(ctx, request)
}

func TestMachine_OrderWriteFailureRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 3)})

	f.machine.store = &orderWriteFailingStore{DocumentStore: f.store, orderUpdateErr: types.ErrUnavailable}

	_, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.ErrorIs(t, err, types.ErrUnavailable)
	assert.EqualValues(t, 10, f.productStock(t, "A"))

	// A retry against a healthy store must deduct exactly once.
	f.machine.store = f.store

	order, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.NoError(t, err)
	assert.Equal(t, true, order[types.FieldStockDeducted])
	assert.EqualValues(t, 7, f.productStock(t, "A"))
}

func TestMachine_OrderVanishedAfterStockMoveRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 3)})

	f.machine.store = &orderWriteFailingStore{DocumentStore: f.store, vanishOrders: true}

	_, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.EqualValues(t, 10, f.productStock(t, "A"))
}

func TestMachine_PublishesOrderEvent(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 1)})

	_, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.NoError(t, err)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, types.RoomAdmin, f.publisher.events[0].room)
	assert.Equal(t, types.ActionOrderUpdated, f.publisher.events[0].action)

	event, ok := f.publisher.events[0].payload.(types.OrderEvent)
	require.True(t, ok)
	assert.Equal(t, orderID, event.OrderID)
	assert.Equal(t, types.OrderStatusReady, event.Status)
	assert.Equal(t, string(types.OrderStatusReady), event.Order[types.FieldOrderStatus])
}

func TestMachine_InvalidatesCacheNamespaces(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "A", 10)
	orderID := f.seedOrder(t, []interface{}{lineItem("A", 1)})

	require.NoError(t, f.cache.Set("shop/orders:page=1", "cached-orders", time.Minute))
	require.NoError(t, f.cache.Set("shop/products", "cached-products", time.Minute))
	require.NoError(t, f.cache.Set("shop/customers", "cached-customers", time.Minute))

	_, err := f.machine.Transition(context.Background(), orderID, types.OrderStatusReady, "")
	require.NoError(t, err)

	_, found := f.cache.Get("shop/orders:page=1")
	assert.False(t, found)
	_, found = f.cache.Get("shop/products")
	assert.False(t, found)
	_, found = f.cache.Get("shop/customers")
	assert.True(t, found, "unrelated namespaces stay cached")
}
