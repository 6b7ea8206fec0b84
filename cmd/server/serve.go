package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"crisisflow/internal/chat"
	"crisisflow/internal/config"
	"crisisflow/internal/db"
	myMiddleware "crisisflow/internal/middleware"
	"crisisflow/internal/room"
	"crisisflow/internal/store"
	"crisisflow/internal/task"
	"crisisflow/internal/user"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the crisisflow server",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log := newLogger(cfg.Debug)
	slog.SetDefault(log)
	ctx := context.Background()

	// 1. Database
	database, err := db.NewDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("❌ failed to connect to database: %w", err)
	}
	log.Info("✅ Connected to database", "driver", cfg.Database.Driver)

	if err := database.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	log.Info("✅ Database schema initialized")

	// 2. Redis, for the cross-instance relay and the user cache
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("❌ failed to connect to Redis: %w", err)
		}
		log.Info("✅ Connected to Redis", "addr", cfg.Redis.Addr)
	} else {
		log.Info("Redis not configured, running as a single instance")
	}

	a, err := newApp(ctx, cfg, database, redisClient, log)
	if err != nil {
		return err
	}
	go a.hub.Run()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("🚀 Server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("❌ Server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"server": func(ctx context.Context) error {
				log.Info("Graceful shutdown initiated...")
				// stop accepting requests, then close sockets and drain the
				// hub before the stores go away
				errs := []error{srv.Shutdown(ctx), a.hub.Shutdown(ctx)}
				if redisClient != nil {
					errs = append(errs, redisClient.Close())
				}
				errs = append(errs, database.Close())
				return errors.Join(errs...)
			},
		},
	)

	exitCode := <-wait
	log.Info("Server exited", "code", exitCode)
	os.Exit(exitCode)
	return nil
}

type app struct {
	hub    *chat.Hub
	router http.Handler
}

// newApp wires every service on top of an open database. redisClient may
// be nil. The caller starts the hub.
func newApp(ctx context.Context, cfg *config.Config, database *db.Database, redisClient *redis.Client, log *slog.Logger) (*app, error) {
	var relay chat.Relay
	if redisClient != nil {
		relay = chat.NewRedisRelay(redisClient, cfg.Redis.Channel, log)
	}

	// users
	roles, err := cfg.Roles()
	if err != nil {
		return nil, err
	}
	userRepo := user.NewRepository(database)
	users := user.NewCachedDirectory(userRepo, redisClient, cfg.Redis.CachePrefix, cfg.Redis.CacheTTL, log)
	userService := user.NewService(userRepo, users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, roles)
	auth := myMiddleware.NewAuthMiddleware(userService, cfg.Auth.CookieName)

	// chat
	st := store.New(database, users)
	hub := chat.NewHub(st, relay, log, chat.Options{
		StoreTimeout:   cfg.StoreTimeout,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
	})
	if err := hub.LoadDirectory(ctx); err != nil {
		return nil, fmt.Errorf("❌ failed to load rooms: %w", err)
	}
	if err := hub.SubscribeToRelay(); err != nil {
		return nil, fmt.Errorf("❌ failed to subscribe to relay: %w", err)
	}

	// rooms and tasks; the hub keeps live membership in step
	roomRepo := room.NewRepository(database)
	roomService, err := room.NewService(roomRepo, hub, log)
	if err != nil {
		return nil, err
	}
	uploads, err := task.NewUploadStore(cfg.Uploads.Dir)
	if err != nil {
		return nil, fmt.Errorf("❌ failed to prepare uploads directory: %w", err)
	}
	taskService := task.NewService(task.NewRepository(database), roomRepo, uploads, hub, log)

	router := newRouter(routes{
		auth:  auth,
		users: user.NewHandler(userService, cfg.Auth.CookieName, cfg.Auth.TokenTTL),
		rooms: room.NewHandler(roomService),
		tasks: task.NewHandler(taskService),
		chat:  chat.NewHandler(hub, auth, st, cfg.Messages.DefaultCount, cfg.WS.AllowedOrigins, log),
	})
	return &app{hub: hub, router: router}, nil
}
