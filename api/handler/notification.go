package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/donote/api/transport"
	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/internal/notify"
	"github.com/fastygo/donote/pkg/httpcontext"
)

// PermissionStore records which identities opted in to reminders.
type PermissionStore interface {
	Grant(ctx context.Context, uid string) error
	Revoke(ctx context.Context, uid string) error
	Granted(ctx context.Context, uid string) (bool, error)
}

type NotificationHandler struct {
	baseHandler
	permissions PermissionStore
}

func NewNotificationHandler(permissions PermissionStore, adapter *httpcontext.Adapter, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		baseHandler: newBaseHandler(adapter, logger),
		permissions: permissions,
	}
}

// @Summary Reminder permission of the caller
// @Tags notifications
// @Router /api/v1/notifications/permission [get]
func (h *NotificationHandler) GetPermission(ctx *fasthttp.RequestCtx) {
	identity, ok := h.identity(ctx)
	if !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	granted, err := h.permissions.Granted(stdCtx, identity.UID)
	if err != nil {
		h.respondError(ctx, permissionFailure(err))
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.PermissionResponse{Granted: granted})
}

// @Summary Opt in to reminders
// @Tags notifications
// @Router /api/v1/notifications/permission [put]
func (h *NotificationHandler) Grant(ctx *fasthttp.RequestCtx) {
	h.setPermission(ctx, true)
}

// @Summary Opt out of reminders
// @Tags notifications
// @Router /api/v1/notifications/permission [delete]
func (h *NotificationHandler) Revoke(ctx *fasthttp.RequestCtx) {
	h.setPermission(ctx, false)
}

func (h *NotificationHandler) setPermission(ctx *fasthttp.RequestCtx, granted bool) {
	identity, ok := h.identity(ctx)
	if !ok {
		return
	}
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	var err error
	if granted {
		err = h.permissions.Grant(stdCtx, identity.UID)
	} else {
		err = h.permissions.Revoke(stdCtx, identity.UID)
	}
	if err != nil {
		h.respondError(ctx, permissionFailure(err))
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.PermissionResponse{Granted: granted})
}

func permissionFailure(err error) error {
	if errors.Is(err, notify.ErrUnavailable) {
		return domain.WrapError(domain.ErrCodeUnavailable, "notifications unavailable", err)
	}
	return err
}
