package middleware

import (
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/usecase/store"
)

const userValueStore = "store"

// StoreLookup finds the open store of an identity.
type StoreLookup interface {
	Get(uid string) (*store.Store, bool)
}

// RequireSession rejects requests whose identity has no open store with 401 NO_ACTIVE_SESSION.
// It must run after Authenticate.
func RequireSession(stores StoreLookup) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			identity, ok := IdentityFrom(ctx)
			if !ok {
				writeError(ctx, http.StatusUnauthorized, domain.ErrCodeUnauthorized, "missing identity")
				return
			}
			st, ok := stores.Get(identity.UID)
			if !ok || !st.Active() {
				writeError(ctx, http.StatusUnauthorized, domain.ErrCodeNoActiveSession, domain.ErrNoActiveSession.Message)
				return
			}
			ctx.SetUserValue(userValueStore, st)
			next(ctx)
		}
	}
}

// StoreFrom returns the store attached by RequireSession.
func StoreFrom(ctx *fasthttp.RequestCtx) (*store.Store, bool) {
	st, ok := ctx.UserValue(userValueStore).(*store.Store)
	return st, ok && st != nil
}
