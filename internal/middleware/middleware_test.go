package middleware

import (
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fastygo/donote/domain"
	boltstore "github.com/fastygo/donote/repository/bolt"
	"github.com/fastygo/donote/usecase/store"
)

type stubVerifier map[string]domain.Identity

func (v stubVerifier) VerifyHeader(header string) (domain.Identity, error) {
	identity, ok := v[header]
	if !ok {
		return domain.Identity{}, errors.New("unknown token")
	}
	return identity, nil
}

type stubLookup map[string]*store.Store

func (l stubLookup) Get(uid string) (*store.Store, bool) {
	st, ok := l[uid]
	return st, ok
}

var ada = domain.Identity{UID: "uid-ada", Email: "ada@example.com"}

func newRequest(uri, authorization string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI(uri)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func TestAuthenticate(t *testing.T) {
	verifier := stubVerifier{"Bearer good": ada}
	var seen domain.Identity
	handler := Authenticate(verifier, nil)(func(ctx *fasthttp.RequestCtx) {
		seen, _ = IdentityFrom(ctx)
	})

	cases := []struct {
		name   string
		uri    string
		header string
		status int
	}{
		{name: "header", uri: "/api/v1/tasks", header: "Bearer good", status: http.StatusOK},
		{name: "query fallback", uri: "/api/v1/events?access_token=good", status: http.StatusOK},
		{name: "header wins over query", uri: "/api/v1/events?access_token=good", header: "Bearer bad", status: http.StatusUnauthorized},
		{name: "missing", uri: "/api/v1/tasks", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = domain.Identity{}
			ctx := newRequest(tc.uri, tc.header)
			handler(ctx)
			assert.Equal(t, tc.status, ctx.Response.StatusCode())
			if tc.status == http.StatusOK {
				assert.Equal(t, ada, seen)
			} else {
				assert.Empty(t, seen.UID)
				assert.Contains(t, string(ctx.Response.Body()), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestRequireSession(t *testing.T) {
	docs, err := boltstore.Open(filepath.Join(t.TempDir(), "mw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	active := store.New(docs)
	require.NoError(t, active.Start(t.Context(), ada))
	t.Cleanup(active.Stop)
	stopped := store.New(docs)

	next := func(ctx *fasthttp.RequestCtx) {
		st, ok := StoreFrom(ctx)
		require.True(t, ok)
		assert.Same(t, active, st)
	}

	t.Run("open store", func(t *testing.T) {
		ctx := newRequest("/api/v1/tasks", "")
		ctx.SetUserValue(userValueIdentity, ada)
		RequireSession(stubLookup{ada.UID: active})(next)(ctx)
		assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	})

	t.Run("no store", func(t *testing.T) {
		ctx := newRequest("/api/v1/tasks", "")
		ctx.SetUserValue(userValueIdentity, ada)
		RequireSession(stubLookup{})(next)(ctx)
		assert.Equal(t, http.StatusUnauthorized, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), `"code":"NO_ACTIVE_SESSION"`)
	})

	t.Run("stopped store", func(t *testing.T) {
		ctx := newRequest("/api/v1/tasks", "")
		ctx.SetUserValue(userValueIdentity, ada)
		RequireSession(stubLookup{ada.UID: stopped})(next)(ctx)
		assert.Equal(t, http.StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("no identity", func(t *testing.T) {
		ctx := newRequest("/api/v1/tasks", "")
		RequireSession(stubLookup{ada.UID: active})(next)(ctx)
		assert.Equal(t, http.StatusUnauthorized, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), `"code":"UNAUTHORIZED"`)
	})
}

func TestAccessLogRecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := AccessLog(zap.New(core))(func(ctx *fasthttp.RequestCtx) {
		ctx.SetUserValue(userValueIdentity, ada)
		panic("boom")
	})

	ctx := newRequest("/api/v1/tasks", "")
	require.NotPanics(t, func() { handler(ctx) })
	assert.Equal(t, http.StatusInternalServerError, ctx.Response.StatusCode())

	assert.Equal(t, 1, logs.FilterMessage("panic in handler").Len())
	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	assert.Equal(t, "uid-ada", fields["uid"])
}
