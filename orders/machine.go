package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/gateway"
	"github.com/saiset-co/sai-docstore/types"
)

// Machine drives order status transitions. The stock side effect is keyed
// off the persisted stock_deducted flag, so repeated transitions into a
// deducting status adjust inventory exactly once.
type Machine struct {
	store     types.DocumentStore
	cache     types.CacheManager
	events    types.EventPublisher
	logger    types.Logger
	database  string
	orders    string
	products  string
	opTimeout time.Duration
}

func NewMachine(config types.ConfigManager, logger types.Logger, cache types.CacheManager, store types.DocumentStore, events types.EventPublisher) *Machine {
	serviceConfig := config.GetConfig()

	ordersConfig := serviceConfig.Orders
	if ordersConfig == nil {
		ordersConfig = &types.OrdersConfig{
			Database:          "shop",
			OrderCollection:   "orders",
			ProductCollection: "products",
		}
	}

	timeout := 10 * time.Second
	if dbConfig := serviceConfig.Database; dbConfig != nil && dbConfig.Timeout > 0 {
		timeout = dbConfig.Timeout
	}

	return &Machine{
		store:     store,
		cache:     cache,
		events:    events,
		logger:    logger,
		database:  ordersConfig.Database,
		orders:    ordersConfig.OrderCollection,
		products:  ordersConfig.ProductCollection,
		opTimeout: timeout,
	}
}

// Transition moves an order to the requested status, applying the stock
// side effect and publishing a change event. The returned document is the
// post-transition order.
func (m *Machine) Transition(ctx context.Context, orderID string, status types.OrderStatus, device string) (map[string]interface{}, error) {
	if !status.Valid() {
		return nil, types.Errorf(types.ErrOrderStatusInvalid, "status: %q", status)
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, types.Errorf(types.ErrInvalidID, "order id: %q", orderID)
	}

	order, err := m.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	deducted, _ := order[types.FieldStockDeducted].(bool)

	stockChanged := false
	stockDirection := 0.0
	flagAfter := deducted

	switch {
	case status.DeductsStock() && !deducted:
		if err := m.adjustStock(ctx, order, -1); err != nil {
			return nil, err
		}
		stockChanged = true
		stockDirection = -1
		flagAfter = true
	case status == types.OrderStatusCancelled && deducted:
		if err := m.adjustStock(ctx, order, 1); err != nil {
			return nil, err
		}
		stockChanged = true
		stockDirection = 1
		flagAfter = false
	}

	set := map[string]interface{}{
		types.FieldOrderStatus:   string(status),
		types.FieldStockDeducted: flagAfter,
	}
	if status == types.OrderStatusDelivered && device != "" {
		set[types.FieldDeliveredBy] = device
		set[types.FieldDeliveredAt] = time.Now().UnixNano()
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	updated, err := m.store.UpdateDocuments(opCtx, types.UpdateDocumentsRequest{
		Database:   m.database,
		Collection: m.orders,
		Filter:     map[string]types.Predicate{types.FieldInternalID: types.Eq(orderID)},
		Set:        set,
	})
	// The flag write is what makes the stock movement idempotent. If it
	// fails, or the order vanished underneath us, the movement must be
	// undone or a retry would adjust twice.
	if err != nil {
		if stockChanged {
			m.rollbackStock(ctx, parseItems(order[types.FieldOrderItems]), -stockDirection)
		}
		return nil, err
	}
	if updated == 0 {
		if stockChanged {
			m.rollbackStock(ctx, parseItems(order[types.FieldOrderItems]), -stockDirection)
		}
		return nil, types.Errorf(types.ErrNotFound, "order: %s", orderID)
	}

	m.cache.InvalidatePattern(gateway.Namespace(m.database, m.orders))
	if stockChanged {
		m.cache.InvalidatePattern(gateway.Namespace(m.database, m.products))
	}

	result, err := m.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	m.publish(orderID, status, result)
	return result, nil
}

func (m *Machine) fetchOrder(ctx context.Context, orderID string) (map[string]interface{}, error) {
	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	docs, _, err := m.store.ReadDocuments(opCtx, types.ReadDocumentsRequest{
		Database:   m.database,
		Collection: m.orders,
		Query: &types.QuerySpec{
			Filter: map[string]types.Predicate{types.FieldInternalID: types.Eq(orderID)},
			Limit:  1,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, types.Errorf(types.ErrNotFound, "order: %s", orderID)
	}

	return docs[0], nil
}

// adjustStock applies direction*quantity to every line item's product. On a
// mid-loop failure the already applied increments are rolled back so the
// inventory never ends up half adjusted.
func (m *Machine) adjustStock(ctx context.Context, order map[string]interface{}, direction float64) error {
	items := parseItems(order[types.FieldOrderItems])

	applied := make([]types.OrderItem, 0, len(items))
	for _, item := range items {
		if err := m.incrementStock(ctx, item.RefID, direction*item.Quantity); err != nil {
			m.rollbackStock(ctx, applied, -direction)
			return types.WrapError(types.ErrStockAdjustFailed, err.Error())
		}
		applied = append(applied, item)
	}

	return nil
}

func (m *Machine) rollbackStock(ctx context.Context, applied []types.OrderItem, direction float64) {
	for _, item := range applied {
		if err := m.incrementStock(ctx, item.RefID, direction*item.Quantity); err != nil {
			m.logger.Error("Stock rollback failed, inventory needs reconciliation",
				zap.String("refid", item.RefID),
				zap.Float64("quantity", item.Quantity),
				zap.Error(err))
		}
	}
}

func (m *Machine) incrementStock(ctx context.Context, refID string, delta float64) error {
	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	updated, err := m.store.UpdateDocuments(opCtx, types.UpdateDocumentsRequest{
		Database:   m.database,
		Collection: m.products,
		Filter:     map[string]types.Predicate{types.FieldProductRefID: types.Eq(refID)},
		Inc:        map[string]float64{types.FieldProductStock: delta},
	})
	if err != nil {
		return err
	}
	if updated == 0 {
		return types.Errorf(types.ErrNotFound, "product: %s", refID)
	}

	return nil
}

func (m *Machine) publish(orderID string, status types.OrderStatus, order map[string]interface{}) {
	if m.events == nil {
		return
	}

	event := types.OrderEvent{
		OrderID: orderID,
		Status:  status,
		Order:   order,
	}

	if err := m.events.Publish(types.RoomAdmin, types.ActionOrderUpdated, event); err != nil {
		m.logger.Debug("Order event dropped",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func parseItems(raw interface{}) []types.OrderItem {
	entries, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	items := make([]types.OrderItem, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}

		refID, _ := fields[types.FieldProductRefID].(string)
		if refID == "" {
			continue
		}

		items = append(items, types.OrderItem{
			RefID:    refID,
			Quantity: quantityOf(fields["quantity"]),
		})
	}

	return items
}

func quantityOf(raw interface{}) float64 {
	switch value := raw.(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return 0
	}
}
