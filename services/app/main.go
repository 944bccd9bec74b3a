package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/agrilovers/internal/auth"
	"github.com/agrilovers/internal/config"
	"github.com/agrilovers/internal/controller"
	"github.com/agrilovers/internal/email"
	"github.com/agrilovers/internal/gateway"
	"github.com/agrilovers/internal/handler"
	"github.com/agrilovers/internal/logger"
	"github.com/agrilovers/internal/manager"
	"github.com/agrilovers/internal/middleware"
	"github.com/agrilovers/internal/push"
	"github.com/agrilovers/internal/realtime"
	"github.com/agrilovers/internal/session"
	"github.com/agrilovers/internal/startup"
	"github.com/agrilovers/internal/storage"
	"github.com/agrilovers/internal/storage/memory"
	redisstorage "github.com/agrilovers/internal/storage/redis"
	"github.com/agrilovers/internal/ws"
	"github.com/agrilovers/migrations"
)

const devJWTSecret = "agrilovers-dev-secret-change-me"

func main() {
	logger.SetPrefix("app")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and the local auth provider")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting Agrilovers client")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	kv := openKV(ctx, cfg)
	defer kv.Close()

	// без реквизитов бэкенда клиент работает в демо-режиме и в сеть не ходит
	demo := !*dev && !cfg.BackendConfigured()
	claims := gateway.NewClaimsHolder()

	var pool *pgxpool.Pool
	if !demo {
		p, err := connectDB(ctx, cfg, claims)
		if err != nil {
			logger.Errorf("database unavailable, falling back to demo mode: %v", err)
			demo = true
		} else {
			pool = p
			defer pool.Close()
		}
	}
	if pool != nil && (*dev || *migrate) {
		migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := migrations.Apply(migCtx, pool)
		cancel()
		if err != nil {
			logger.Errorf("migrations: %v", err)
			os.Exit(1)
		}
	}
	if *migrate && !*dev {
		return
	}

	var db gateway.DB
	if pool != nil {
		db = pool
	}

	// аутентификация
	var provider auth.Provider
	if *dev {
		secret := cfg.Backend.JWTSecret
		if secret == "" {
			logger.Warnf("SUPABASE_JWT_SECRET is empty, using the built-in dev secret")
			secret = devJWTSecret
			cfg.Backend.JWTSecret = secret
		}
		var mailer auth.CodeSender
		if s := email.NewSender(&cfg.SMTP); s != nil {
			mailer = s
		}
		provider = auth.NewDevProvider(db, kv, mailer, secret)
	} else {
		provider = auth.NewHostedProvider(cfg.Backend.URL, cfg.Backend.AnonKey, cfg.AuthRedirectURL, nil)
	}
	authClient := auth.NewClient(provider, kv, cfg.Backend.JWTSecret)
	claims.Follow(authClient)
	var profiles auth.Manager
	if !demo {
		profiles = auth.NewProfileManager(authClient, db)
	}

	// объектное хранилище
	var objects gateway.ObjectStore
	localDir := ""
	if *dev {
		ls, err := gateway.NewLocalStorage(cfg.Upload.LocalDir, "http://"+cfg.ServerAddr+"/files")
		if err != nil {
			logger.Errorf("local storage: %v", err)
			os.Exit(1)
		}
		objects, localDir = ls, ls.Dir()
	} else if !demo {
		objects = gateway.NewHostedStorage(cfg.Backend.URL, cfg.Backend.AnonKey, authClient, nil)
	}

	broker := realtime.NewBroker(realtimeSource(cfg, pool, kv))
	defer broker.Close()

	gw := gateway.New(gateway.Options{
		Session:  authClient,
		DB:       db,
		Storage:  objects,
		Realtime: broker,
		Limits: gateway.UploadLimits{
			MaxFiles:     cfg.Upload.MaxFiles,
			MaxFileSize:  cfg.Upload.MaxFileSize,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
		Timeout: cfg.RequestTimeout,
	})
	tools := manager.NewToolsManager(cfg.WeatherURL, &http.Client{Timeout: cfg.RequestTimeout})
	set := manager.NewSet(gw, tools, kv)

	// пуши
	vapid, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, "")
	if err != nil {
		logger.Warnf("push disabled: %v", err)
	}
	pushClient := push.NewClient(kv, vapid, cfg.Push.Subscriber)

	hub := ws.NewHub(cfg.MaxWSConnections, cfg.WSSendBufferSize, pushClient)
	ctrl := controller.New(controller.Options{
		Posts:         set.Posts,
		Market:        set.Market,
		Groups:        set.Groups,
		Chats:         set.Messaging,
		Friends:       set.Friends,
		Stories:       set.Stories,
		Search:        set.Search,
		Tools:         set.Tools,
		Notifications: set.Notifications,
		Auth:          profiles,
		Conversations: func(r session.Renderer) controller.Conversations {
			return session.New(session.Options{
				Direct:        set.Messaging,
				Groups:        set.Groups,
				Posts:         set.Posts,
				Notifications: set.Notifications,
				Channels:      gw,
				Renderer:      r,
				Timeout:       cfg.RequestTimeout,
				HistoryLimit:  cfg.HistoryLimit,
			})
		},
		KV:      kv,
		Sink:    hub,
		Demo:    demo,
		Timeout: cfg.RequestTimeout,
	})
	hub.Bind(ctrl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if !demo {
		g.Go(func() error { return broker.Run(gctx) })
		g.Go(func() error {
			authClient.RunAutoRefresh(gctx)
			return nil
		})
	}

	initCtx, initCancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	if err := ctrl.Init(initCtx, "/"); err != nil {
		logger.Warnf("initial view: %v", err)
	}
	initCancel()

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      newRouter(cfg, ctrl, hub, pushClient, gw.Limits, localDir),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	g.Go(func() error {
		logger.Infof("listening on http://%s (demo=%v)", cfg.ServerAddr, demo)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		ctrl.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("app stopped: %v", err)
	}
	if pm, ok := profiles.(*auth.ProfileManager); ok {
		pm.Close()
	}
	logger.Info("app stopped")
}

func newRouter(cfg *config.Config, ctrl *controller.Controller, hub *ws.Hub, pushClient *push.Client, limits gateway.UploadLimits, localDir string) http.Handler {
	app := handler.NewAppHandler(ctrl, limits)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	configH := handler.NewConfigHandler(cfg, pushClient)
	pushH := handler.NewPushHandler(pushClient, app.UserID)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.LocalOnly)
	r.Use(middleware.RecoverJSON)
	// не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-App-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", wsH.ServeWS)
	if localDir != "" {
		r.Get("/files/{bucket}/*", handler.NewFileHandler(localDir).Serve)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit())
		r.Get("/config", configH.GetAppConfig)
		r.Get("/config/push", configH.GetPushConfig)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
		app.Routes(r)
	})

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(webDist))
	}
	return r
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

func openKV(ctx context.Context, cfg *config.Config) storage.Store {
	if cfg.KVURL == "" {
		return memory.New()
	}
	cli, err := startup.ConnectRedisWithRetry(ctx, cfg.KVURL, 15*time.Second)
	if err != nil {
		logger.Errorf("redis unavailable, using in-memory store: %v", err)
		return memory.New()
	}
	return cli
}

func connectDB(ctx context.Context, cfg *config.Config, claims *gateway.ClaimsHolder) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Backend.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 1
	gateway.InstallRLS(poolCfg, claims)
	return startup.ConnectDBWithRetry(ctx, poolCfg, 30*time.Second)
}

// realtimeSource выбирает источник изменений: LISTEN/NOTIFY Postgres, Redis pub/sub или память.
func realtimeSource(cfg *config.Config, pool *pgxpool.Pool, kv storage.Store) realtime.Source {
	switch cfg.Realtime.Source {
	case "redis":
		if rc, ok := kv.(*redisstorage.Client); ok {
			return realtime.NewRedisSource(rc.Raw(), cfg.Realtime.Channel)
		}
		logger.Warnf("realtime: redis source requested without REDIS_URL, using memory")
	case "memory":
	default:
		if pool != nil {
			return realtime.NewPGSource(pool, cfg.Realtime.Channel)
		}
	}
	return realtime.NewMemorySource(256)
}

func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 54329
		user     = "agrilovers"
		password = "agrilovers_dev"
		database = "agrilovers"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "agrilovers-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Backend.DatabaseURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
