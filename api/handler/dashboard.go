package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/pkg/httpcontext"
	"github.com/fastygo/donote/usecase/dashboard"
)

type DashboardHandler struct {
	baseHandler
}

func NewDashboardHandler(adapter *httpcontext.Adapter, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{baseHandler: newBaseHandler(adapter, logger)}
}

// @Summary Dashboard summary
// @Tags dashboard
// @Router /api/v1/dashboard [get]
func (h *DashboardHandler) Summary(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	h.respondSuccess(ctx, http.StatusOK, dashboard.Build(st))
}

// @Summary Read the one-shot celebration signal
// @Tags dashboard
// @Router /api/v1/celebration [get]
func (h *DashboardHandler) Celebration(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	h.respondSuccess(ctx, http.StatusOK, st.Celebration())
}

// @Summary Dismiss the celebration signal
// @Tags dashboard
// @Router /api/v1/celebration [delete]
func (h *DashboardHandler) DismissCelebration(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	st.DismissCelebration()
	h.respondSuccess(ctx, http.StatusOK, st.Celebration())
}
