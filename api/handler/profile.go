package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/api/transport"
	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/pkg/httpcontext"
)

type ProfileHandler struct {
	baseHandler
}

func NewProfileHandler(adapter *httpcontext.Adapter, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{baseHandler: newBaseHandler(adapter, logger)}
}

// @Summary Current identity and streak
// @Tags profile
// @Router /api/v1/me [get]
func (h *ProfileHandler) Me(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	state := st.State()
	if state.Identity == nil {
		// signed out between the middleware check and now
		h.respondError(ctx, domain.ErrNoActiveSession)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.MeResponse{
		Identity:  *state.Identity,
		Streak:    state.Streak,
		Aggregate: state.Aggregate,
	})
}
