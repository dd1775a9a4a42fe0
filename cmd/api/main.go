package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/cart"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/identity/remote"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv"
	kvrepo "github.com/ovaphlow/pitchfork/service-storefront-go/internal/kv/repo"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry"
	registryrepo "github.com/ovaphlow/pitchfork/service-storefront-go/internal/registry/repo"
	"github.com/ovaphlow/pitchfork/service-storefront-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-storefront-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-storefront-go/pkg/utilities"
)

func main() {
	// best-effort: without a .env the real environment and defaults apply
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-storefront-go")

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("store: %v", err)
	}
	defer closeStore()

	reg := registry.NewService(registryrepo.NewRegistryRepo(store),
		registry.WithHasher(registry.BcryptHasher{Cost: cfg.BcryptCost}))

	var remoteSvc identity.RemoteIdentityService
	if !cfg.RemoteDisabled {
		remoteSvc = remote.New(cfg.RemoteIdentityURL, cfg.RemoteHTTPTimeout, sugar.Named("remote"))
	}

	minter, err := identity.NewTokenMinter([]byte(cfg.LocalTokenSecret), nil)
	if err != nil {
		sugar.Fatalf("token minter: %v", err)
	}
	if cfg.LocalTokenSecret == "" {
		sugar.Warn("LOCAL_TOKEN_SECRET not set; using a per-process key")
	}

	engine, err := identity.NewService(store, reg, remoteSvc,
		identity.WithLogger(sugar.Named("identity")),
		identity.WithTokenMinter(minter),
		identity.WithTimeouts(cfg.LoginTimeout, cfg.RestoreTimeout),
	)
	if err != nil {
		sugar.Fatalf("identity engine: %v", err)
	}

	carts := cart.NewService(ctx, store, cart.WithLogger(sugar.Named("cart")))
	engine.Subscribe(carts)

	if id, ok := engine.RestoreSession(ctx); ok {
		sugar.Infow("session restored", "identity", id.ID, "source", id.Source)
	} else {
		sugar.Info("no session restored; starting as guest")
	}

	handler := router.RegisterRoutes(sugar, router.Deps{Identity: engine, Registry: reg, Cart: carts})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.ListenAddr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

// openStore selects the durable key-value backend.
func openStore(ctx context.Context, cfg config.Config, sugar *zap.SugaredLogger) (kv.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		sugar.Warn("using in-memory store; nothing survives a restart")
		return kv.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Connect(database.ConfigFromEnv(cfg.StoreDriver, cfg.StoreDSN))
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	repo := kvrepo.NewRepo(db)
	if err := repo.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure kv table: %w", err)
	}
	sugar.Infow("store ready", "driver", cfg.StoreDriver)
	return repo, func() {
		if err := db.Close(); err != nil {
			sugar.Warnf("db close failed: %v", err)
		}
	}, nil
}
