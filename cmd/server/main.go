// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/Wanchah/EcoEdu/config"
	"github.com/Wanchah/EcoEdu/internal/api"
	"github.com/Wanchah/EcoEdu/internal/auth"
	"github.com/Wanchah/EcoEdu/internal/database"
	"github.com/Wanchah/EcoEdu/internal/logger"
	"github.com/Wanchah/EcoEdu/internal/services"
	"github.com/Wanchah/EcoEdu/internal/websocket"
)

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml (default: . and ./config)")
	flag.Parse()

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "ecoedu: %v\n", err)
		os.Exit(1)
	}
}

// configPaths leaves the search path to config.Load unless a directory was given.
func configPaths(dir string) []string {
	if dir == "" {
		return nil
	}
	return []string{dir}
}

func run(configDir string) error {
	cfg, err := config.Load(configPaths(configDir)...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(logger.LogLevel(cfg.Log.Level), cfg.Log.Format); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.New()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services
	ledger := services.NewLedgerService(db)
	tasks := services.NewDailyTaskService(db, ledger,
		services.WithTasksPerDay(cfg.Tasks.PerDay),
		services.WithTaskClock(time.Now, loc),
	)
	lessons := services.NewLessonProgressService(db)
	challenges := services.NewChallengeService(db)

	if cfg.Challenges.Seed {
		if _, err := challenges.SeedDefaults(ctx, time.Now()); err != nil {
			return fmt.Errorf("failed to seed challenges: %w", err)
		}
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	opts := []services.CoordinatorOption{services.WithCoordinatorClock(time.Now, loc)}
	if cfg.Challenges.AutoContribute {
		opts = append(opts, services.WithContributor(challenges))
	}
	coordinator := services.NewActionCoordinator(ledger, tasks, lessons, challenges, hub, opts...)

	sessions := auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionName)
	handler := api.NewHandler(ledger, tasks, challenges, coordinator, services.NewBadgeService(ledger, nil))

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	// WebSocket connections are long-lived and stay outside the request timeout.
	websocket.RegisterRoutes(r, hub)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(api.TimeoutMiddleware(cfg.Server.RequestTimeout))
	api.RegisterRoutes(apiRouter, handler, sessions)

	hookRouter := r.PathPrefix("/internal/v1").Subrouter()
	hookRouter.Use(api.TimeoutMiddleware(cfg.Server.RequestTimeout))
	api.RegisterHookRoutes(hookRouter, handler, cfg.Auth.HookToken)
	if cfg.Auth.HookToken == "" {
		log.Warn("auth.hook_token is empty; collaborator hooks are disabled")
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.With("port", cfg.Server.Port, "driver", cfg.Database.Driver, "timezone", loc.String()).Info("EcoEdu server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
