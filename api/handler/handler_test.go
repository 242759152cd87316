package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v4"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/donote/api/handler"
	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/internal/infrastructure/identity"
	"github.com/fastygo/donote/internal/infrastructure/monitor"
	"github.com/fastygo/donote/internal/middleware"
	"github.com/fastygo/donote/internal/notify"
	"github.com/fastygo/donote/internal/router"
	"github.com/fastygo/donote/internal/services/registry"
	boltstore "github.com/fastygo/donote/repository/bolt"
	redisrepo "github.com/fastygo/donote/repository/redis"
	authUC "github.com/fastygo/donote/usecase/auth"
	"github.com/fastygo/donote/usecase/store"
)

const secret = "handler-secret"

type harness struct {
	t        *testing.T
	handler  fasthttp.RequestHandler
	registry *registry.Registry
	events   *handler.EventsHandler
}

type envelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
	Meta json.RawMessage `json:"meta"`
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	docs, err := boltstore.Open(filepath.Join(t.TempDir(), "handler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	reg := registry.New(func(domain.Identity) *store.Store {
		return store.New(docs, store.WithLocation(time.UTC), store.WithCelebrationDuration(time.Minute))
	}, nil)
	t.Cleanup(func() { _ = reg.CloseAll(context.Background()) })

	auth := authUC.New(redisrepo.NewSessionRepository(client, time.Hour), reg, authUC.Config{
		SessionTTL:    time.Hour,
		AllowedEmails: []string{"ada@example.com"},
	}, nil)
	verifier, err := identity.New(identity.Config{Secret: secret})
	require.NoError(t, err)

	mon := monitor.New(time.Hour, nil)
	mon.Add("store", docs, time.Second)
	mon.Start()
	t.Cleanup(mon.Stop)

	events := handler.NewEventsHandler(time.Hour, nil, nil)
	r := router.New(router.Handlers{
		Auth:         handler.NewAuthHandler(auth, nil, nil),
		Profile:      handler.NewProfileHandler(nil, nil),
		Task:         handler.NewTaskHandler(nil, nil),
		Note:         handler.NewNoteHandler(nil, nil),
		Dashboard:    handler.NewDashboardHandler(nil, nil),
		Notification: handler.NewNotificationHandler(notify.NewRedisNotifier(client, ""), nil, nil),
		Events:       events,
		Health:       handler.NewHealthHandler(mon, reg, nil, nil),
	}, router.Chain{
		Authenticate: middleware.Authenticate(verifier, nil),
		Session:      middleware.RequireSession(reg),
	})

	return &harness{
		t:        t,
		handler:  middleware.AccessLog(nil)(r.Handler),
		registry: reg,
		events:   events,
	}
}

func token(t *testing.T, uid, email string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   uid,
		"name":  "Test User",
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (h *harness) serve(method, path, bearer, body string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	h.handler(ctx)
	return ctx
}

func (h *harness) do(method, path, bearer, body string) (int, envelope) {
	ctx := h.serve(method, path, bearer, body)
	var env envelope
	require.NoError(h.t, json.Unmarshal(ctx.Response.Body(), &env), string(ctx.Response.Body()))
	return ctx.Response.StatusCode(), env
}

func (h *harness) signIn(bearer string) {
	status, env := h.do(http.MethodPost, "/api/v1/session", bearer, "")
	require.Equal(h.t, http.StatusCreated, status, env.Error.Message)
}

func (h *harness) tasks(bearer, view string) []handlerTask {
	status, env := h.do(http.MethodGet, "/api/v1/tasks?view="+view, bearer, "")
	require.Equal(h.t, http.StatusOK, status)
	var out []handlerTask
	require.NoError(h.t, json.Unmarshal(env.Data, &out))
	return out
}

type handlerTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Priority  string `json:"priority"`
	Completed bool   `json:"completed"`
	Overdue   bool   `json:"overdue"`
}

func today() string {
	return domain.DateOf(time.Now(), time.UTC).String()
}

func TestRequestsWithoutIdentityAreRejected(t *testing.T) {
	h := newHarness(t)
	status, env := h.do(http.MethodGet, "/api/v1/tasks", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, string(domain.ErrCodeUnauthorized), env.Code)

	status, _ = h.do(http.MethodGet, "/api/v1/tasks", "not.a.jwt", "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRequestsWithoutSessionAnswerNoActiveSession(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")

	status, env := h.do(http.MethodPost, "/api/v1/tasks", ada, `{"title":"Write report","dueDate":"`+today()+`"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, string(domain.ErrCodeNoActiveSession), env.Code)
}

func TestSignInDeniedOutsideAllowlist(t *testing.T) {
	h := newHarness(t)
	status, env := h.do(http.MethodPost, "/api/v1/session", token(t, "uid-eve", "eve@example.com"), "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(domain.ErrCodeForbidden), env.Code)
	assert.Zero(t, h.registry.Len())
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")
	h.signIn(ada)

	status, env := h.do(http.MethodPost, "/api/v1/tasks", ada, `{"title":"Write report","dueDate":"`+today()+`","reminder":"on-due-date"}`)
	require.Equal(t, http.StatusAccepted, status)
	var accepted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	require.NotEmpty(t, accepted.ID)

	require.Eventually(t, func() bool { return len(h.tasks(ada, "open")) == 1 }, 3*time.Second, 10*time.Millisecond)
	task := h.tasks(ada, "all")[0]
	assert.Equal(t, "Write report", task.Title)
	assert.Equal(t, "medium", task.Priority)
	assert.False(t, task.Overdue)

	status, _ = h.do(http.MethodPost, "/api/v1/tasks/"+accepted.ID+"/toggle", ada, "")
	require.Equal(t, http.StatusAccepted, status)
	require.Eventually(t, func() bool { return len(h.tasks(ada, "completed")) == 1 }, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, env := h.do(http.MethodGet, "/api/v1/me", ada, "")
		var me struct {
			Streak int `json:"streak"`
		}
		return json.Unmarshal(env.Data, &me) == nil && me.Streak == 1
	}, 3*time.Second, 10*time.Millisecond)

	status, env = h.do(http.MethodGet, "/api/v1/celebration", ada, "")
	require.Equal(t, http.StatusOK, status)
	var celebration domain.Celebration
	require.NoError(t, json.Unmarshal(env.Data, &celebration))
	assert.True(t, celebration.Active)
	assert.Equal(t, store.CompletedMessage, celebration.Message)

	status, env = h.do(http.MethodDelete, "/api/v1/celebration", ada, "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &celebration))
	assert.False(t, celebration.Active)

	status, _ = h.do(http.MethodPatch, "/api/v1/tasks/"+accepted.ID, ada, `{"priority":"high"}`)
	require.Equal(t, http.StatusAccepted, status)
	require.Eventually(t, func() bool { return h.tasks(ada, "all")[0].Priority == "high" }, 3*time.Second, 10*time.Millisecond)

	status, _ = h.do(http.MethodDelete, "/api/v1/tasks/"+accepted.ID, ada, "")
	require.Equal(t, http.StatusAccepted, status)
	require.Eventually(t, func() bool { return len(h.tasks(ada, "all")) == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestTaskFormRules(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")
	h.signIn(ada)

	status, env := h.do(http.MethodPost, "/api/v1/tasks", ada, `{"title":"ab","dueDate":"15/08/2024","priority":"urgent"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, string(domain.ErrCodeInvalid), env.Code)
	assert.Contains(t, env.Error.Fields, "title")
	assert.Contains(t, env.Error.Fields, "dueDate")

	status, env = h.do(http.MethodPost, "/api/v1/tasks", ada, `{"title":"Valid title","dueDate":"`+today()+`","priority":"urgent"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Error.Fields, "priority")

	status, _ = h.do(http.MethodPost, "/api/v1/tasks", ada, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(http.MethodGet, "/api/v1/tasks?view=someday", ada, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = h.do(http.MethodPatch, "/api/v1/tasks/missing", ada, `{"title":"Renamed"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(domain.ErrCodeNotFound), env.Code)

	status, _ = h.do(http.MethodPost, "/api/v1/tasks/missing/toggle", ada, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNotesAndDashboard(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")
	h.signIn(ada)

	status, env := h.do(http.MethodPost, "/api/v1/notes", ada, `{"title":"Hi","content":"ok"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, env.Error.Fields, 2)

	status, _ = h.do(http.MethodPost, "/api/v1/notes", ada, `{"title":"Ideas","content":"Try dark mode"}`)
	require.Equal(t, http.StatusAccepted, status)

	var summary struct {
		OpenTasks  int `json:"openTasks"`
		TotalNotes int `json:"totalNotes"`
		Chart      []struct {
			Completed int `json:"completed"`
		} `json:"chart"`
	}
	require.Eventually(t, func() bool {
		_, env := h.do(http.MethodGet, "/api/v1/dashboard", ada, "")
		return json.Unmarshal(env.Data, &summary) == nil && summary.TotalNotes == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, summary.OpenTasks)
	assert.Len(t, summary.Chart, 7)

	status, env = h.do(http.MethodGet, "/api/v1/notes", ada, "")
	require.Equal(t, http.StatusOK, status)
	var notes []domain.Note
	require.NoError(t, json.Unmarshal(env.Data, &notes))
	require.Len(t, notes, 1)

	status, _ = h.do(http.MethodPatch, "/api/v1/notes/"+notes[0].ID, ada, `{"content":"Try light mode"}`)
	assert.Equal(t, http.StatusAccepted, status)
	status, _ = h.do(http.MethodDelete, "/api/v1/notes/"+notes[0].ID, ada, "")
	assert.Equal(t, http.StatusAccepted, status)
	status, _ = h.do(http.MethodDelete, "/api/v1/notes/"+notes[0].ID, ada, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSignOutClosesStore(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")
	h.signIn(ada)

	status, _ := h.do(http.MethodPost, "/api/v1/session/refresh", ada, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do(http.MethodDelete, "/api/v1/session", ada, "")
	require.Equal(t, http.StatusOK, status)

	status, env := h.do(http.MethodGet, "/api/v1/tasks", ada, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, string(domain.ErrCodeNoActiveSession), env.Code)

	status, _ = h.do(http.MethodPost, "/api/v1/session/refresh", ada, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNotificationPermission(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")

	var perm struct {
		Granted bool `json:"granted"`
	}
	status, env := h.do(http.MethodPut, "/api/v1/notifications/permission", ada, "")
	require.Equal(t, http.StatusOK, status)

	_, env = h.do(http.MethodGet, "/api/v1/notifications/permission", ada, "")
	require.NoError(t, json.Unmarshal(env.Data, &perm))
	assert.True(t, perm.Granted)

	status, _ = h.do(http.MethodDelete, "/api/v1/notifications/permission", ada, "")
	require.Equal(t, http.StatusOK, status)
	_, env = h.do(http.MethodGet, "/api/v1/notifications/permission", ada, "")
	require.NoError(t, json.Unmarshal(env.Data, &perm))
	assert.False(t, perm.Granted)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, env := h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", env.Status)
	assert.Contains(t, string(env.Data), `"store":true`)
}

func TestEventStreamEndsOnSignOut(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")
	h.signIn(ada)

	ctx := h.serve(http.MethodGet, "/api/v1/events?access_token="+ada, "", "")
	require.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "text/event-stream", string(ctx.Response.Header.ContentType()))

	go func() {
		time.Sleep(100 * time.Millisecond)
		h.registry.Close("uid-ada")
	}()

	body := string(ctx.Response.Body())
	assert.True(t, strings.HasPrefix(body, "event: state\ndata: "), body)
	assert.Contains(t, body, `"uid":"uid-ada"`)
	assert.Contains(t, body, "event: signed-out")
}

func TestEventStreamEndsOnShutdown(t *testing.T) {
	h := newHarness(t)
	ada := token(t, "uid-ada", "ada@example.com")
	h.signIn(ada)

	ctx := h.serve(http.MethodGet, "/api/v1/events", ada, "")
	require.NoError(t, h.events.Close(context.Background()))

	body := string(ctx.Response.Body())
	assert.Contains(t, body, "event: state")
	assert.NotContains(t, body, "signed-out")
}
