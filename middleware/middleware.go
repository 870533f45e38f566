package middleware

import (
	"runtime"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/types"
)

// Chain wraps a handler with the given middlewares, first in the slice
// being the outermost.
func Chain(handler types.FastHTTPHandler, wrappers ...func(types.FastHTTPHandler) types.FastHTTPHandler) types.FastHTTPHandler {
	for i := len(wrappers) - 1; i >= 0; i-- {
		handler = wrappers[i](handler)
	}
	return handler
}

func Recovery(logger types.Logger, metrics types.MetricsManager) func(types.FastHTTPHandler) types.FastHTTPHandler {
	return func(next types.FastHTTPHandler) types.FastHTTPHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					stack := make([]byte, 4096)
					stack = stack[:runtime.Stack(stack, false)]

					logger.Error("Panic in request handler",
						zap.Any("panic", rec),
						zap.ByteString("method", ctx.Method()),
						zap.ByteString("path", ctx.Path()),
						zap.ByteString("stack", stack))

					if metrics != nil {
						metrics.Counter("http_panics_total", map[string]string{
							"path": string(ctx.Path()),
						}).Inc()
					}

					ctx.SetStatusCode(fasthttp.StatusInternalServerError)
					ctx.SetContentType("application/json")
					ctx.SetBodyString(`{"success":false,"error":"internal error"}`)
				}
			}()

			next(ctx)
		}
	}
}

func Logging(logger types.Logger, metrics types.MetricsManager) func(types.FastHTTPHandler) types.FastHTTPHandler {
	return func(next types.FastHTTPHandler) types.FastHTTPHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			duration := time.Since(start)
			status := ctx.Response.StatusCode()

			fields := []zap.Field{
				zap.String("method", string(ctx.Method())),
				zap.String("path", string(ctx.Path())),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("remote_addr", ctx.RemoteAddr().String()),
			}
			if query := ctx.QueryArgs().QueryString(); len(query) > 0 {
				fields = append(fields, zap.ByteString("query", query))
			}

			if status >= fasthttp.StatusInternalServerError {
				logger.Error("Request failed", fields...)
			} else {
				logger.Info("Request completed", fields...)
			}

			if metrics != nil {
				metrics.Counter("http_requests_total", map[string]string{
					"method": string(ctx.Method()),
					"status": statusClass(status),
				}).Inc()
				metrics.Histogram("http_request_duration_seconds",
					[]float64{0.001, 0.01, 0.1, 1.0, 10.0},
					map[string]string{"method": string(ctx.Method())},
				).ObserveDuration(start)
			}
		}
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
