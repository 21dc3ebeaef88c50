package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tillerlabs/tiller/pkg/api"
	"github.com/tillerlabs/tiller/pkg/audit"
	"github.com/tillerlabs/tiller/pkg/config"
	"github.com/tillerlabs/tiller/pkg/identity"
	"github.com/tillerlabs/tiller/pkg/observability"
	"github.com/tillerlabs/tiller/pkg/store"
)

// openStore builds the configured persistence backend. The export and
// verify subcommands share it with the server, so a backend typo fails the
// same way everywhere.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file":
		return store.NewFileStore(cfg.StatePath)
	case "sqlite":
		return store.OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runServer() {
	fmt.Fprintf(os.Stdout, "%sTiller Kernel starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// Server mode fails closed: no secrets, no server. The offline
	// subcommands run without either.
	if cfg.TokenSecret == "" {
		log.Fatalf("TOKEN_SECRET is required in server mode")
	}
	if cfg.MandateSecret == "" {
		log.Fatalf("MANDATE_SECRET is required in server mode")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	log.Printf("[tiller] store: %s", cfg.StoreBackend)

	var profile *config.GovernanceProfile
	if cfg.ProfileCode != "" {
		profile, err = config.LoadProfile(cfg.ProfileDir, cfg.ProfileCode)
		if err != nil {
			log.Fatalf("profile %s: %v", cfg.ProfileCode, err)
		}
		log.Printf("[tiller] profile: %s", profile.Code)
	}

	tokens, err := identity.NewTokenManager([]byte(cfg.TokenSecret))
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	var limiter api.LimiterStore
	if cfg.RedisURL != "" {
		rl, err := api.NewRedisLimiterStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis limiter: %v", err)
		}
		defer rl.Close()
		limiter = rl
		log.Println("[tiller] limiter: redis")
	} else {
		limiter = api.NewLocalLimiterStore()
		log.Println("[tiller] limiter: local")
	}

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			log.Printf("[tiller] observability init (non-fatal, degraded mode): %v", err)
			obs = nil
		} else {
			defer func() {
				shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = obs.Shutdown(shCtx)
			}()
			log.Printf("[tiller] observability: otlp %s", cfg.OTLPEndpoint)
		}
	}

	srv, err := api.NewServer(api.Options{
		Store:         st,
		Tokens:        tokens,
		MandateSecret: []byte(cfg.MandateSecret),
		Profile:       profile,
		Audit:         audit.NewLogger(),
		Obs:           obs,
		Logger:        logger,
		Limiter:       limiter,
		Limit:         api.Limit{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
	})
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(":" + cfg.Port)
	}()

	log.Printf("[tiller] ready: http://localhost:%s", cfg.Port)
	log.Println("[tiller] press ctrl+c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	case <-sigCh:
		log.Println("[tiller] shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			log.Printf("[tiller] shutdown: %v", err)
		}
	}
}
