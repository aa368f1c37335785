// Package main wires and runs the riy authentication gateway: external
// identity validation (Microsoft, Google), domain gating, user directory
// reconciliation against PostgreSQL, permission resolution, and session
// token issuance, exposed over HTTP.
//
// Configuration is loaded from environment variables under the RIY
// prefix, e.g.
//
//	RIY_SESSION_SECRET=... \
//	RIY_WHITELISTED_DOMAINS=riycorp.com,gmail.com \
//	RIY_MSAL_CLIENT_ID=... \
//	RIY_GOOGLE_CLIENT_ID=... \
//	RIY_POSTGRES_HOST=localhost go run ./cmd/gateway
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/riycorp/riy-gateway/pkg/auth"
	"github.com/riycorp/riy-gateway/pkg/clients/postgres"
	"github.com/riycorp/riy-gateway/pkg/clients/redis"
	"github.com/riycorp/riy-gateway/pkg/config"
	"github.com/riycorp/riy-gateway/pkg/gateway"
	"github.com/riycorp/riy-gateway/pkg/lifecycle"
	"github.com/riycorp/riy-gateway/pkg/users"
)

const serviceName = "riy-gateway"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.MustLoad[gateway.Config](
		config.New().WithEnvPrefix("RIY"),
	)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.NewClient(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	// The JWKS cache is in-process by default; a shared Redis cache lets
	// gateway replicas reuse fetched key sets across restarts.
	keyCache := auth.NewMemoryKeySetCache(auth.DefaultKeySetTTL)
	var redisClient *redis.Client
	if cfg.JWKSCacheRedis {
		redisClient, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		keyCache = auth.NewRedisKeySetCache(redisClient, auth.DefaultKeySetTTL)
	}
	resolver := auth.NewKeyResolver(nil, keyCache)

	policy, err := auth.NewDomainPolicy(cfg.WhitelistedDomains, cfg.B2BDomains)
	if err != nil {
		return err
	}

	microsoft, err := auth.NewMicrosoftValidator(cfg.Microsoft, resolver, policy)
	if err != nil {
		return err
	}
	google, err := auth.NewGoogleValidator(cfg.Google, nil, resolver)
	if err != nil {
		return err
	}

	directory, err := users.NewRepository(pg, policy)
	if err != nil {
		return err
	}
	issuer, err := auth.NewSessionIssuer(cfg.SessionSecret)
	if err != nil {
		return err
	}

	orchestrator, err := gateway.NewOrchestrator(gateway.OrchestratorParams{
		Microsoft:     microsoft,
		Google:        google,
		Policy:        policy,
		Directory:     directory,
		Issuer:        issuer,
		ApplicationID: cfg.ApplicationID,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	handler, err := gateway.NewHandler(orchestrator, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handler.Register(mux)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	svc, err := lifecycle.NewBuilder(serviceName, version).
		WithLogger(logger).
		WithOnStart(func(ctx context.Context) error {
			if err := pg.Health(ctx); err != nil {
				return err
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil &&
					!errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", "error", err)
					stop()
				}
			}()
			logger.InfoContext(ctx, "http server listening",
				"addr", cfg.ListenAddr)
			return nil
		}).
		WithOnStop(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}).
		OnStateChange(func(old, new lifecycle.State) {
			logger.Info("state transition",
				"from", old.String(),
				"to", new.String(),
			)
		}).
		Build()
	if err != nil {
		return err
	}

	// Readiness reflects the lifecycle state plus database connectivity,
	// so a wedged pool takes the instance out of rotation.
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		if svc.Health(r.Context()) != nil || pg.Health(r.Context()) != nil {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(svc.Info())
	})

	if err := svc.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// The signal context is done; use a fresh one for the drain.
	return svc.Stop(context.Background())
}
