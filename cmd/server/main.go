package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/api"
	"github.com/maroonops/signal-console/internal/auth"
	"github.com/maroonops/signal-console/internal/cache"
	"github.com/maroonops/signal-console/internal/config"
	"github.com/maroonops/signal-console/internal/policy"
	"github.com/maroonops/signal-console/internal/provider"
	"github.com/maroonops/signal-console/internal/store"
	"github.com/maroonops/signal-console/internal/vector"
	"github.com/maroonops/signal-console/internal/warehouse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	st, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.Close()

	pol := policy.New(cfg.TableAllowlist, cfg.DefaultRole)

	var (
		verifier auth.TokenVerifier
		dir      auth.Directory
		roles    *auth.RoleService
	)
	if cfg.AuthRequired {
		identity, err := auth.NewFirebaseIdentity(ctx, cfg.FirestoreProject)
		if err != nil {
			logger.Fatal("identity provider init failed", zap.Error(err))
		}
		verifier = identity
		dir = identity
		roles = auth.NewRoleService(identity, pol, logger.Named("roles"))
	} else {
		logger.Warn("authentication bypass is enabled; all callers resolve as founder")
	}
	resolver := auth.NewResolver(cfg, verifier, logger.Named("auth"))

	gemini, err := provider.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.Fatal("gemini init failed", zap.Error(err))
	}
	defer gemini.Close()
	claude := provider.NewClaude(cfg.AnthropicAPIKey, cfg.ClaudeModel)
	deepseek := provider.NewDeepSeek(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel)
	router := provider.NewRouter(cfg.PrimaryProvider, gemini, claude, deepseek)
	embedder := gemini.EmbedderChain(cfg.EmbedModels)

	compiler, err := warehouse.NewCompiler(cfg.BigQueryProject, cfg.BigQueryDataset, pol)
	if err != nil {
		logger.Fatal("warehouse config invalid", zap.Error(err))
	}
	runner, err := warehouse.NewBigQueryRunner(ctx, cfg.BigQueryProject, cfg.BigQueryLocation, cfg.MaxBytesBilled)
	if err != nil {
		logger.Fatal("warehouse init failed", zap.Error(err))
	}
	defer runner.Close()

	handler := api.NewHandler(api.HandlerDeps{
		Config:   cfg,
		Log:      logger.Named("api"),
		Resolver: resolver,
		Roles:    roles,
		Dir:      dir,
		Policy:   pol,
		Compiler: compiler,
		Runner:   runner,
		Snapshot: warehouse.NewSnapshotService(compiler, runner),
		Router:   router,
		Embedder: embedder,
		Cache:    cache.NewService(st, logger.Named("cache")),
		Memory:   vector.NewMemory(st, embedder, logger.Named("vector")),
		Store:    st,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "firestore":
		return store.NewFirestoreStore(ctx, cfg.FirestoreProject)
	default:
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
}
