package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/domain"
)

// AccessLog logs one line per request and turns panics into 500 responses.
func AccessLog(logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler",
						zap.String("path", string(ctx.Path())),
						zap.String("panic", fmt.Sprint(rec)),
						zap.Stack("stack"),
					)
					writeError(ctx, http.StatusInternalServerError, domain.ErrCodeInternal, "internal error")
				}
				fields := []zap.Field{
					zap.String("method", string(ctx.Method())),
					zap.String("path", string(ctx.Path())),
					zap.Int("status", ctx.Response.StatusCode()),
					zap.Duration("duration", time.Since(start)),
				}
				if reqID := ctx.Response.Header.Peek("X-Request-ID"); len(reqID) > 0 {
					fields = append(fields, zap.String("request_id", string(reqID)))
				}
				if identity, ok := IdentityFrom(ctx); ok {
					fields = append(fields, zap.String("uid", identity.UID))
				}
				logger.Info("request", fields...)
			}()
			next(ctx)
		}
	}
}
