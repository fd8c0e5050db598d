// @title        Accounts API
// @version      1.0
// @description  Customer accounts, registration and session issuance.
// @BasePath     /
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 Access token as: Bearer <token>
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/storefront/accounts-api/internal/api"
	"github.com/storefront/accounts-api/internal/api/metrics"
	"github.com/storefront/accounts-api/internal/core/ports"
	"github.com/storefront/accounts-api/internal/core/service"
	"github.com/storefront/accounts-api/internal/infrastructure/config"
	"github.com/storefront/accounts-api/internal/infrastructure/db/memory"
	mongostore "github.com/storefront/accounts-api/internal/infrastructure/db/mongo"
	"github.com/storefront/accounts-api/internal/infrastructure/db/postgres"
	redisstore "github.com/storefront/accounts-api/internal/infrastructure/db/redis"
	"github.com/storefront/accounts-api/internal/infrastructure/http/handlers"
	"github.com/storefront/accounts-api/internal/infrastructure/queue"
	"github.com/storefront/accounts-api/internal/infrastructure/security/hasher"
	"github.com/storefront/accounts-api/internal/infrastructure/security/token"
	"github.com/storefront/accounts-api/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "accounts-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "accounts-api",
	})

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	pool := queue.NewWorkerPool(cfg.Hash.Workers, logger.Component("hash-pool"))
	pool.OnQueueDepth(func(n int) { metrics.HashPoolQueueDepth.Set(float64(n)) })
	pool.Start()
	defer pool.Stop()

	var credentials ports.CredentialHasher
	switch cfg.Hash.Algorithm {
	case config.HashArgon2id:
		credentials = hasher.NewArgon2id(hasher.DefaultArgon2idParams())
	default:
		credentials = hasher.NewBcrypt(cfg.Hash.BcryptCost)
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
	})
	if err != nil {
		return err
	}

	svc := service.NewIdentityService(
		store.repo,
		hasher.NewPooled(credentials, pool),
		issuer,
		logger.Component("identity"),
	)

	e := api.NewRouter(api.RouterDeps{
		Service:  svc,
		Verifier: issuer,
		Health:   store.health,
		Log:      logger.Component("http"),
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("storage", cfg.Storage.Driver).
			Str("hash", cfg.Hash.Algorithm).
			Int("hash_workers", pool.Workers()).
			Bool("cache", cfg.Cache.Enabled).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// storage bundles the selected repository with its readiness checks and
// the function releasing its connections.
type storage struct {
	repo    ports.AccountRepository
	health  map[string]handlers.Pinger
	closers []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	s := &storage{health: make(map[string]handlers.Pinger)}

	switch cfg.Storage.Driver {
	case config.StorageMongo:
		client, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Disconnect(context.Background()) })

		repo := mongostore.NewAccountRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			s.close()
			return nil, err
		}
		s.repo = repo
		s.health["mongodb"] = mongostore.Pinger(db)
		log.Info().Str("database", cfg.Mongo.Database).Msg("mongodb connected")

	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Postgres.DSN})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pool.Close)

		if cfg.Postgres.RunMigrations {
			if err := postgres.Migrate(pool); err != nil {
				s.close()
				return nil, err
			}
			log.Info().Msg("postgres migrations applied")
		}
		s.repo = postgres.NewAccountRepository(pool)
		s.health["postgres"] = postgres.Pinger(pool)
		log.Info().Msg("postgres connected")

	default:
		s.repo = memory.NewAccountRepository()
		log.Warn().Msg("using in-memory storage; accounts are lost on restart")
	}

	if cfg.Cache.Enabled {
		client, err := redisstore.Connect(ctx, redisstore.Config{Addr: cfg.Cache.Addr, DB: cfg.Cache.DB})
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = client.Close() })

		s.repo = redisstore.NewAccountCache(s.repo, client, cfg.Cache.TTL, logger.Component("account-cache"))
		s.health["redis"] = redisstore.Pinger(client)
		log.Info().Str("addr", cfg.Cache.Addr).Dur("ttl", cfg.Cache.TTL).Msg("account cache enabled")
	}

	return s, nil
}
