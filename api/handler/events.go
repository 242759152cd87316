package handler

import (
	"bufio"
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/pkg/httpcontext"
)

const defaultHeartbeat = 15 * time.Second

// EventsHandler streams the caller's store state as server-sent events.
type EventsHandler struct {
	baseHandler
	heartbeat time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewEventsHandler(heartbeat time.Duration, adapter *httpcontext.Adapter, logger *zap.Logger) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{
		baseHandler: newBaseHandler(adapter, logger),
		heartbeat:   heartbeat,
		done:        make(chan struct{}),
	}
}

// Close ends every open stream. It matches lifecycle.ShutdownFunc.
func (h *EventsHandler) Close(context.Context) error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

// @Summary Live state stream
// @Description Sends a "state" event with the full store state on connect and after every change,
// @Description and a final "signed-out" event when the session ends.
// @Tags events
// @Router /api/v1/events [get]
func (h *EventsHandler) Stream(ctx *fasthttp.RequestCtx) {
	st, ok := h.store(ctx)
	if !ok {
		return
	}

	var stdCtx context.Context
	var cancel context.CancelFunc
	if h.adapter != nil {
		stdCtx, cancel = h.adapter.Stream(ctx)
	} else {
		stdCtx, cancel = context.WithCancel(context.Background())
	}
	logger := httpcontext.Logger(stdCtx, h.logger)
	changes, release := st.Watch()

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer release()

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			state := st.State()
			if state.Identity == nil {
				_ = writeEvent(w, "signed-out", struct{}{})
				return
			}
			if err := writeEvent(w, "state", state); err != nil {
				logger.Debug("event stream closed", zap.Error(err))
				return
			}

		wait:
			for {
				select {
				case <-changes:
					break wait
				case <-ticker.C:
					if _, err := w.WriteString(": ping\n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						logger.Debug("event stream closed", zap.Error(err))
						return
					}
				case <-h.done:
					return
				}
			}
		}
	})
}

func writeEvent(w *bufio.Writer, event string, payload interface{}) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("event: " + event + "\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
