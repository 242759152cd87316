package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/donote/api/handler"
)

type Handlers struct {
	Auth         *apiHandler.AuthHandler
	Profile      *apiHandler.ProfileHandler
	Task         *apiHandler.TaskHandler
	Note         *apiHandler.NoteHandler
	Dashboard    *apiHandler.DashboardHandler
	Notification *apiHandler.NotificationHandler
	Events       *apiHandler.EventsHandler
	Health       *apiHandler.HealthHandler
}

// Middleware is a fasthttp handler decorator.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Chain guards routes. Authenticated requires a verified identity token; Session additionally
// requires an open store for that identity.
type Chain struct {
	Authenticate Middleware
	Session      Middleware
}

func (c Chain) authenticated(h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return c.Authenticate(h)
}

func (c Chain) withSession(h fasthttp.RequestHandler) fasthttp.RequestHandler {
	return c.Authenticate(c.Session(h))
}

func New(handlers Handlers, chain Chain) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)

	// Session routes
	r.POST("/api/v1/session", chain.authenticated(handlers.Auth.SignIn))
	r.POST("/api/v1/session/refresh", chain.authenticated(handlers.Auth.Refresh))
	r.DELETE("/api/v1/session", chain.authenticated(handlers.Auth.SignOut))

	r.GET("/api/v1/notifications/permission", chain.authenticated(handlers.Notification.GetPermission))
	r.PUT("/api/v1/notifications/permission", chain.authenticated(handlers.Notification.Grant))
	r.DELETE("/api/v1/notifications/permission", chain.authenticated(handlers.Notification.Revoke))

	// Store routes
	r.GET("/api/v1/me", chain.withSession(handlers.Profile.Me))

	r.GET("/api/v1/tasks", chain.withSession(handlers.Task.GetTasks))
	r.POST("/api/v1/tasks", chain.withSession(handlers.Task.CreateTask))
	r.PATCH("/api/v1/tasks/{id}", chain.withSession(handlers.Task.UpdateTask))
	r.DELETE("/api/v1/tasks/{id}", chain.withSession(handlers.Task.DeleteTask))
	r.POST("/api/v1/tasks/{id}/toggle", chain.withSession(handlers.Task.ToggleTask))

	r.GET("/api/v1/notes", chain.withSession(handlers.Note.GetNotes))
	r.POST("/api/v1/notes", chain.withSession(handlers.Note.CreateNote))
	r.PATCH("/api/v1/notes/{id}", chain.withSession(handlers.Note.UpdateNote))
	r.DELETE("/api/v1/notes/{id}", chain.withSession(handlers.Note.DeleteNote))

	r.GET("/api/v1/dashboard", chain.withSession(handlers.Dashboard.Summary))
	r.GET("/api/v1/celebration", chain.withSession(handlers.Dashboard.Celebration))
	r.DELETE("/api/v1/celebration", chain.withSession(handlers.Dashboard.DismissCelebration))

	r.GET("/api/v1/events", chain.withSession(handlers.Events.Stream))

	return r
}
