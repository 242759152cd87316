package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/donote/api/handler"
	"github.com/fastygo/donote/domain"
	"github.com/fastygo/donote/internal/config"
	"github.com/fastygo/donote/internal/infrastructure/identity"
	"github.com/fastygo/donote/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/donote/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/donote/internal/infrastructure/redis"
	"github.com/fastygo/donote/internal/middleware"
	"github.com/fastygo/donote/internal/notify"
	"github.com/fastygo/donote/internal/router"
	"github.com/fastygo/donote/internal/services/lifecycle"
	"github.com/fastygo/donote/internal/services/registry"
	"github.com/fastygo/donote/pkg/httpcontext"
	"github.com/fastygo/donote/pkg/logger"
	"github.com/fastygo/donote/repository"
	boltStore "github.com/fastygo/donote/repository/bolt"
	pgStore "github.com/fastygo/donote/repository/postgres"
	redisRepo "github.com/fastygo/donote/repository/redis"
	authUC "github.com/fastygo/donote/usecase/auth"
	"github.com/fastygo/donote/usecase/reminder"
	"github.com/fastygo/donote/usecase/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	redisClient, err := redisInfra.NewClient(cfg.Redis, zapLogger)
	if err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	manager.RegisterCloser("redis", redisClient)

	mon := monitor.New(cfg.Monitor.Interval, zapLogger)
	mon.Add("redis", monitor.PingFunc(redisInfra.Pinger(redisClient)), 0)

	var docs repository.DocumentStore
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
			zapLogger.Fatal("migrations failed", zap.Error(err))
		}
		pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
		if err != nil {
			zapLogger.Fatal("postgres connection failed", zap.Error(err))
		}
		manager.RegisterStop("postgres", func() { pgInfra.Close(pool, zapLogger) })

		pgDocs := pgStore.NewDocumentStore(pool, zapLogger.Named("documents"))
		manager.RegisterStop("documents", pgDocs.Close)
		docs = pgDocs
	case config.BackendBolt:
		boltDocs, err := boltStore.Open(cfg.Store.BoltPath, boltStore.WithLogger(zapLogger.Named("documents")))
		if err != nil {
			zapLogger.Fatal("failed to open document store", zap.String("path", cfg.Store.BoltPath), zap.Error(err))
		}
		manager.RegisterCloser("documents", boltDocs)
		docs = boltDocs
	default:
		docs = redisRepo.NewDocumentStore(redisClient,
			redisRepo.WithPrefix(cfg.Store.RedisPrefix),
			redisRepo.WithMaxRetries(cfg.Store.MaxRetries),
			redisRepo.WithLogger(zapLogger.Named("documents")),
		)
	}
	mon.Add("documents", docs, 0)

	mon.Start()
	manager.RegisterStop("monitor", mon.Stop)
	zapLogger.Info("document store ready", zap.String("backend", cfg.Store.Backend), zap.Bool("online", mon.IsOnline()))

	stores := registry.New(func(domain.Identity) *store.Store {
		return store.New(docs,
			store.WithLocation(cfg.Location),
			store.WithLogger(zapLogger.Named("store")),
			store.WithCelebrationDuration(cfg.Celebration.Duration),
		)
	}, zapLogger)
	manager.Register("stores", stores.CloseAll)

	sessionRepo := redisRepo.NewSessionRepository(redisClient, cfg.Session.TTL)
	authUseCase := authUC.New(sessionRepo, stores, authUC.Config{
		SessionTTL:      cfg.Session.TTL,
		AllowedEmails:   cfg.Auth.AllowedEmails,
		AllowedUIDs:     cfg.Auth.AllowedUIDs,
		JanitorSchedule: cfg.Session.JanitorSchedule,
	}, zapLogger)
	if err := authUseCase.StartJanitor(); err != nil {
		zapLogger.Fatal("session janitor failed to start", zap.Error(err))
	}
	manager.Register("session_janitor", authUseCase.StopJanitor)

	permissions := notify.NewRedisNotifier(redisClient, cfg.Store.RedisPrefix)
	if cfg.Reminder.Enabled {
		checker := reminder.New(stores, buildNotifier(cfg.Reminder.Notifier, permissions, zapLogger),
			reminder.WithSchedule(cfg.Reminder.Schedule),
			reminder.WithHour(cfg.Reminder.Hour),
			reminder.WithHealth(mon),
			reminder.WithLogger(zapLogger.Named("reminder")),
		)
		if err := checker.Start(); err != nil {
			zapLogger.Fatal("reminder checker failed to start", zap.Error(err))
		}
		manager.Register("reminder", checker.Stop)
	}

	verifier, err := identity.New(identity.Config{
		JWKSURL:     cfg.Identity.JWKSURL,
		JWKSRefresh: cfg.Identity.JWKSRefresh,
		Secret:      cfg.Identity.Secret,
		Audience:    cfg.Identity.Audience,
		Issuer:      cfg.Identity.Issuer,
	})
	if err != nil {
		zapLogger.Fatal("identity verifier failed", zap.Error(err))
	}
	manager.RegisterStop("identity", verifier.Close)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)
	events := apiHandler.NewEventsHandler(cfg.HTTP.EventsHeartbeat, ctxAdapter, zapLogger)

	handlers := router.Handlers{
		Auth:         apiHandler.NewAuthHandler(authUseCase, ctxAdapter, zapLogger),
		Profile:      apiHandler.NewProfileHandler(ctxAdapter, zapLogger),
		Task:         apiHandler.NewTaskHandler(ctxAdapter, zapLogger),
		Note:         apiHandler.NewNoteHandler(ctxAdapter, zapLogger),
		Dashboard:    apiHandler.NewDashboardHandler(ctxAdapter, zapLogger),
		Notification: apiHandler.NewNotificationHandler(permissions, ctxAdapter, zapLogger),
		Events:       events,
		Health:       apiHandler.NewHealthHandler(mon, stores, ctxAdapter, zapLogger),
	}
	r := router.New(handlers, router.Chain{
		Authenticate: middleware.Authenticate(verifier, zapLogger),
		Session:      middleware.RequireSession(stores),
	})

	server := &fasthttp.Server{
		Handler:      middleware.AccessLog(zapLogger)(r.Handler),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started", zap.String("address", cfg.Address()))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})
	// open event streams hold connections until released
	manager.Register("events", events.Close)

	if err := manager.Wait(appCtx); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

func buildNotifier(kind string, redisNotifier *notify.RedisNotifier, zapLogger *zap.Logger) notify.Notifier {
	logNotifier := notify.NewLogNotifier(zapLogger.Named("notify"))
	switch kind {
	case "redis":
		return redisNotifier
	case "log":
		return logNotifier
	default:
		return notify.Multi{redisNotifier, logNotifier}
	}
}

