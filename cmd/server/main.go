package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/cohortview/internal/api"
	"github.com/JonMunkholm/cohortview/internal/config"
	"github.com/JonMunkholm/cohortview/internal/logging"
	"github.com/JonMunkholm/cohortview/internal/session"
	"github.com/JonMunkholm/cohortview/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"session_store", cfg.Session.Store,
		"page_size", cfg.API.PageSize,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	profile, err := config.LoadProfile(cfg.View.ProfilePath)
	if err != nil {
		slog.Error("failed to load view profile", "error", err)
		os.Exit(1)
	}

	// Per-call deadlines come from the handlers, so the HTTP client has none.
	client, err := api.New(cfg.API.URL,
		api.WithHTTPClient(&http.Client{}),
		api.WithLogger(slog.Default()),
	)
	if err != nil {
		slog.Error("failed to create api client", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var store session.TokenStore = session.NewMemoryStore()
	if cfg.Session.Store == config.StorePostgres {
		pool, err := connectDB(ctx, cfg.Session)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := session.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate session table", "error", err)
			os.Exit(1)
		}
		store = pg
	}

	server := web.NewServer(cfg, client, store, profile)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go server.RunJanitor(jobCtx)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for forwarded uploads to complete (with timeout)
		if st := server.UploadStatus(); st.Active > 0 {
			slog.Info("waiting for uploads to complete", "active", st.Active)
			if err := server.WaitForUploads(shutdownCtx); err != nil {
				slog.Warn("uploads did not complete in time", "error", err)
			} else {
				slog.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr(), "api", client.BaseURL())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// connectDB opens and pings the pool backing the session store.
func connectDB(ctx context.Context, cfg config.SessionConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("connected to session database", "max_conns", cfg.MaxConns)
	return pool, nil
}
