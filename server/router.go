package server

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-docstore/types"
)

// Router dispatches the fixed API surface. Database and collection names
// are dynamic path segments validated downstream, everything else is
// positional.
type Router struct {
	handlers       *Handlers
	metricsPath    string
	metricsHandler types.FastHTTPHandler
}

func NewRouter(handlers *Handlers, metricsPath string, metricsHandler types.FastHTTPHandler) *Router {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Router{
		handlers:       handlers,
		metricsPath:    metricsPath,
		metricsHandler: metricsHandler,
	}
}

func (r *Router) Handler() types.FastHTTPHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		if r.metricsHandler != nil && method == fasthttp.MethodGet && path == r.metricsPath {
			r.metricsHandler(ctx)
			return
		}

		segments := splitPath(path)

		switch {
		case len(segments) == 1 && segments[0] == "healthz":
			r.handlers.Health(ctx)
			return
		case len(segments) == 2 && segments[0] == "ws" && segments[1] == types.RoomAdmin:
			r.handlers.Subscribe(ctx, types.RoomAdmin)
			return
		}

		if len(segments) < 2 || segments[0] != "api" {
			r.handlers.NotFound(ctx)
			return
		}

		rest := segments[1:]

		if rest[0] == "cache" {
			r.routeCache(ctx, method, rest)
			return
		}

		if rest[0] == "order" && len(rest) == 3 && method == fasthttp.MethodGet {
			r.handlers.OrderTransition(ctx, rest[1], rest[2])
			return
		}

		r.routeCollection(ctx, method, rest)
	}
}

func (r *Router) routeCache(ctx *fasthttp.RequestCtx, method string, rest []string) {
	if len(rest) != 2 {
		r.handlers.NotFound(ctx)
		return
	}

	switch {
	case method == fasthttp.MethodGet && rest[1] == "stats":
		r.handlers.CacheStats(ctx)
	case method == fasthttp.MethodPost && rest[1] == "clear":
		r.handlers.CacheClear(ctx)
	case method == fasthttp.MethodPost && rest[1] == "cleanup":
		r.handlers.CacheCleanup(ctx)
	default:
		r.handlers.NotFound(ctx)
	}
}

func (r *Router) routeCollection(ctx *fasthttp.RequestCtx, method string, rest []string) {
	if len(rest) < 2 {
		r.handlers.NotFound(ctx)
		return
	}

	database, collection := rest[0], rest[1]
	tail := rest[2:]

	switch len(tail) {
	case 0:
		switch method {
		case fasthttp.MethodGet:
			r.handlers.List(ctx, database, collection)
		case fasthttp.MethodPost:
			r.handlers.Create(ctx, database, collection)
		default:
			r.handlers.MethodNotAllowed(ctx)
		}
	case 1:
		switch {
		case tail[0] == "bulk" && method == fasthttp.MethodPost:
			r.handlers.CreateMany(ctx, database, collection)
		case tail[0] == "bulk" && method == fasthttp.MethodDelete:
			r.handlers.DeleteMany(ctx, database, collection)
		case tail[0] == "count" && method == fasthttp.MethodGet:
			r.handlers.Count(ctx, database, collection)
		case tail[0] == "search" && method == fasthttp.MethodPost:
			r.handlers.Aggregate(ctx, database, collection)
		default:
			r.routeDocument(ctx, method, database, collection, tail[0])
		}
	case 2:
		if tail[0] == "distinct" && method == fasthttp.MethodGet {
			r.handlers.Distinct(ctx, database, collection, tail[1])
			return
		}
		r.handlers.NotFound(ctx)
	default:
		r.handlers.NotFound(ctx)
	}
}

func (r *Router) routeDocument(ctx *fasthttp.RequestCtx, method, database, collection, id string) {
	switch method {
	case fasthttp.MethodGet:
		r.handlers.GetOne(ctx, database, collection, id)
	case fasthttp.MethodPut:
		r.handlers.Replace(ctx, database, collection, id)
	case fasthttp.MethodPatch:
		r.handlers.Patch(ctx, database, collection, id)
	case fasthttp.MethodDelete:
		r.handlers.Delete(ctx, database, collection, id)
	default:
		r.handlers.MethodNotAllowed(ctx)
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
