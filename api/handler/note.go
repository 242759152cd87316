package handler

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/api/transport"
	"github.com/fastygo/donote/pkg/httpcontext"
)

type NoteHandler struct {
	baseHandler
}

func NewNoteHandler(adapter *httpcontext.Adapter, logger *zap.Logger) *NoteHandler {
	return &NoteHandler{baseHandler: newBaseHandler(adapter, logger)}
}

// @Summary List notes, newest first
// @Tags notes
// @Router /api/v1/notes [get]
func (h *NoteHandler) GetNotes(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	notes := st.Notes()
	h.respondList(ctx, notes, transport.ListMeta{Count: len(notes)})
}

// @Summary Create note
// @Tags notes
// @Router /api/v1/notes [post]
func (h *NoteHandler) CreateNote(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	var req transport.NoteRequest
	if !h.decode(ctx, &req) {
		return
	}
	draft, err := req.ToDraft()
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id, err := st.AddNote(stdCtx, draft)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}

// @Summary Update note
// @Tags notes
// @Router /api/v1/notes/{id} [patch]
func (h *NoteHandler) UpdateNote(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}
	var req transport.NotePatchRequest
	if !h.decode(ctx, &req) {
		return
	}
	patch, err := req.ToPatch()
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id := pathID(ctx)
	if err := st.UpdateNote(stdCtx, id, patch); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}

// @Summary Delete note
// @Tags notes
// @Router /api/v1/notes/{id} [delete]
func (h *NoteHandler) DeleteNote(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	id := pathID(ctx)
	if err := st.DeleteNote(stdCtx, id); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondAccepted(ctx, id)
}
