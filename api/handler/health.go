package handler

import (
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/api/transport"
	"github.com/fastygo/donote/internal/infrastructure/monitor"
	"github.com/fastygo/donote/pkg/httpcontext"
)

// StatusSource reports dependency health.
type StatusSource interface {
	GetStatus() monitor.Status
}

// SessionCounter reports how many live stores are open.
type SessionCounter interface {
	Len() int
}

type HealthHandler struct {
	baseHandler
	monitor  StatusSource
	sessions SessionCounter
}

func NewHealthHandler(mon StatusSource, sessions SessionCounter, adapter *httpcontext.Adapter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		monitor:     mon,
		sessions:    sessions,
	}
}

// @Summary Health check
// @Tags health
// @Router /health [get]
func (h *HealthHandler) Check(ctx *fasthttp.RequestCtx) {
	status := h.monitor.GetStatus()
	payload := map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"services":   status.Components,
		"last_check": status.LastCheck,
	}
	if h.sessions != nil {
		payload["open_sessions"] = h.sessions.Len()
	}

	if status.Online {
		h.respondSuccess(ctx, http.StatusOK, payload)
		return
	}
	h.respondJSON(ctx, http.StatusServiceUnavailable, transport.NewError("DEGRADED", "dependencies unhealthy", payload))
}
