package server

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/events"
	"github.com/saiset-co/sai-docstore/gateway"
	"github.com/saiset-co/sai-docstore/types"
	"github.com/saiset-co/sai-docstore/utils"
)

type Handlers struct {
	gateway *gateway.Gateway
	orders  types.OrderMachine
	cache   types.CacheManager
	hub     *events.Hub
	logger  types.Logger
	debug   bool
}

func NewHandlers(config types.ConfigManager, logger types.Logger, gw *gateway.Gateway, orders types.OrderMachine, cache types.CacheManager, hub *events.Hub) *Handlers {
	return &Handlers{
		gateway: gw,
		orders:  orders,
		cache:   cache,
		hub:     hub,
		logger:  logger,
		debug:   config.GetConfig().Debug,
	}
}

func (h *Handlers) Health(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "ok",
	})
}

func (h *Handlers) NotFound(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusNotFound, map[string]interface{}{
		"success": false,
		"error":   "not found",
	})
}

func (h *Handlers) MethodNotAllowed(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]interface{}{
		"success": false,
		"error":   "method not allowed",
	})
}

func (h *Handlers) List(ctx *fasthttp.RequestCtx, database, collection string) {
	response, err := h.gateway.List(ctx, database, collection, queryParams(ctx))
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, response)
}

func (h *Handlers) GetOne(ctx *fasthttp.RequestCtx, database, collection, id string) {
	document, err := h.gateway.GetOne(ctx, database, collection, id)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"data":    document,
	})
}

func (h *Handlers) Create(ctx *fasthttp.RequestCtx, database, collection string) {
	var document map[string]interface{}
	if err := h.readBody(ctx, &document); err != nil {
		h.writeError(ctx, err)
		return
	}

	created, err := h.gateway.Create(ctx, database, collection, document)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    created,
	})
}

func (h *Handlers) CreateMany(ctx *fasthttp.RequestCtx, database, collection string) {
	var documents []map[string]interface{}
	if err := h.readBody(ctx, &documents); err != nil {
		h.writeError(ctx, err)
		return
	}

	ids, err := h.gateway.CreateMany(ctx, database, collection, documents)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusCreated, map[string]interface{}{
		"success": true,
		"ids":     ids,
		"count":   len(ids),
	})
}

func (h *Handlers) Replace(ctx *fasthttp.RequestCtx, database, collection, id string) {
	h.update(ctx, database, collection, id, true)
}

func (h *Handlers) Patch(ctx *fasthttp.RequestCtx, database, collection, id string) {
	h.update(ctx, database, collection, id, false)
}

func (h *Handlers) update(ctx *fasthttp.RequestCtx, database, collection, id string, replace bool) {
	var document map[string]interface{}
	if err := h.readBody(ctx, &document); err != nil {
		h.writeError(ctx, err)
		return
	}

	var updated map[string]interface{}
	var err error
	if replace {
		updated, err = h.gateway.Replace(ctx, database, collection, id, document)
	} else {
		updated, err = h.gateway.Patch(ctx, database, collection, id, document)
	}
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"data":    updated,
	})
}

func (h *Handlers) Delete(ctx *fasthttp.RequestCtx, database, collection, id string) {
	if err := h.gateway.Delete(ctx, database, collection, id); err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (h *Handlers) DeleteMany(ctx *fasthttp.RequestCtx, database, collection string) {
	var filter map[string]interface{}
	if err := h.readBody(ctx, &filter); err != nil {
		h.writeError(ctx, err)
		return
	}

	deleted, err := h.gateway.DeleteMany(ctx, database, collection, equalityFilter(filter))
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": deleted,
	})
}

func (h *Handlers) Count(ctx *fasthttp.RequestCtx, database, collection string) {
	count, err := h.gateway.Count(ctx, database, collection, queryParams(ctx))
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"count":   count,
	})
}

func (h *Handlers) Distinct(ctx *fasthttp.RequestCtx, database, collection, field string) {
	values, err := h.gateway.Distinct(ctx, database, collection, field, queryParams(ctx))
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"data":    values,
	})
}

func (h *Handlers) Aggregate(ctx *fasthttp.RequestCtx, database, collection string) {
	var body struct {
		Pipeline []interface{} `json:"pipeline"`
	}
	if err := h.readBody(ctx, &body); err != nil {
		h.writeError(ctx, err)
		return
	}

	results, err := h.gateway.Aggregate(ctx, database, collection, body.Pipeline)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"data":    results,
	})
}

func (h *Handlers) OrderTransition(ctx *fasthttp.RequestCtx, orderID, status string) {
	device := string(ctx.QueryArgs().Peek("device"))

	order, err := h.orders.Transition(ctx, orderID, types.OrderStatus(status), device)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"data":    order,
	})
}

func (h *Handlers) CacheStats(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"data":    h.cache.Stats(),
	})
}

func (h *Handlers) CacheClear(ctx *fasthttp.RequestCtx) {
	if err := h.cache.Clear(); err != nil {
		h.writeError(ctx, err)
		return
	}

	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (h *Handlers) CacheCleanup(ctx *fasthttp.RequestCtx) {
	removed := h.cache.Cleanup()
	h.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

func (h *Handlers) Subscribe(ctx *fasthttp.RequestCtx, room string) {
	if h.hub == nil {
		h.NotFound(ctx)
		return
	}

	if err := h.hub.Serve(ctx, room); err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		h.writeError(ctx, err)
	}
}

func (h *Handlers) readBody(ctx *fasthttp.RequestCtx, target interface{}) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return types.ErrEmptyBody
	}

	if err := utils.Unmarshal(body, target); err != nil {
		return types.WrapError(types.ErrInvalidParameter, err.Error())
	}

	return nil
}

func (h *Handlers) writeJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	data, err := utils.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal response", zap.Error(err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"success":false,"error":"internal error"}`)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func (h *Handlers) writeError(ctx *fasthttp.RequestCtx, err error) {
	status := statusFor(err)

	message := err.Error()
	if status == fasthttp.StatusInternalServerError && !h.debug {
		message = "internal error"
	}

	if status >= fasthttp.StatusInternalServerError {
		h.logger.Error("Request handler error",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Error(err))
	}

	h.writeJSON(ctx, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func statusFor(err error) int {
	switch {
	case types.IsError(err, types.ErrInvalidParameter),
		types.IsError(err, types.ErrInvalidID),
		types.IsError(err, types.ErrEmptyBody),
		types.IsError(err, types.ErrOrderStatusInvalid),
		types.IsError(err, types.ErrDatabaseNameInvalid),
		types.IsError(err, types.ErrPipelineStageUnknown):
		return fasthttp.StatusBadRequest
	case types.IsError(err, types.ErrNotFound):
		return fasthttp.StatusNotFound
	case types.IsError(err, types.ErrConflict):
		return fasthttp.StatusConflict
	case types.IsError(err, types.ErrUnavailable):
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func queryParams(ctx *fasthttp.RequestCtx) map[string][]string {
	params := make(map[string][]string)
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		name := string(key)
		params[name] = append(params[name], string(value))
	})
	return params
}

// equalityFilter turns a plain JSON filter body into equality predicates.
// Array values become set membership.
func equalityFilter(body map[string]interface{}) map[string]types.Predicate {
	filter := make(map[string]types.Predicate, len(body))
	for field, value := range body {
		if values, ok := value.([]interface{}); ok {
			filter[field] = types.In(values...)
			continue
		}
		filter[field] = types.Eq(value)
	}
	return filter
}
