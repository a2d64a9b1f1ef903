// Package app wires the Warden server runtime: config, logging, storage,
// token and email plumbing, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"warden/cmd/identity"
	"warden/cmd/internal/api"
	"warden/cmd/internal/delivery"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
	"warden/cmd/users"
)

// App is the Warden server runtime. It owns the connections it opened.
type App struct {
	cfg Config
	log Logger

	pool      *pgxpool.Pool
	rdb       *redis.Client
	publisher *delivery.RabbitPublisher

	handler http.Handler
}

// New constructs a fully wired App from cfg. Optional backends (Postgres,
// Redis, RabbitMQ) are only dialed when configured.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secrets, err := LoadSecrets(cfg)
	if err != nil {
		return nil, err
	}
	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	pw, err := password.NewManager(pwCfg)
	if err != nil {
		return nil, err
	}
	codec, err := token.NewCodec(secrets.Signing, token.Options{Issuer: cfg.TokenIssuer, Leeway: cfg.TokenLeeway})
	if err != nil {
		return nil, err
	}

	a = &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	usersCfg := users.Config{
		VerifyTokenTTL: cfg.VerifyTokenTTL,
		ResetTokenTTL:  cfg.ResetTokenTTL,
		AccessTokenTTL: cfg.AccessTokenTTL,
	}
	opts := users.Options[*identity.User]{
		Metrics: users.NewMetrics(registry),
		Logger:  log,
		Config:  usersCfg,
	}

	var handlerOpts []api.HandlerOption
	apiCfg := api.LoadConfigFromEnv()
	var readyRedis redis.Cmdable
	if cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		readyRedis = rdb

		storeOpts := []token.RedisStoreOption{}
		if secrets.Digest != nil {
			storeOpts = append(storeOpts, token.WithDigestKey(secrets.Digest))
		}
		opts.TokenStore = token.NewRedisStore(rdb, storeOpts...)
		handlerOpts = append(handlerOpts, api.WithLoginLimiter(api.NewRedisLimiter(rdb, apiCfg.LoginIPMax, apiCfg.LoginIPWindow)))
		log.Info("redis.enabled", "addr", cfg.RedisAddr)
	}

	if cfg.RabbitURL != "" {
		pub, err := delivery.DialRabbit(cfg.RabbitURL, cfg.EmailQueue)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
		opts.Sender = delivery.NewQueueSender[*identity.User](pub, delivery.LinkConfig{
			BaseURL:   cfg.PublicBaseURL,
			VerifyTTL: cfg.VerifyTokenTTL,
			ResetTTL:  cfg.ResetTokenTTL,
		})
		log.Info("email.queue.enabled", "queue", cfg.EmailQueue)
	} else {
		opts.Sender = delivery.LogSender[*identity.User]{Log: log}
		log.Warn("email.queue.disabled.log_sender")
	}

	svc, err := users.New[*identity.User](repo, pw, codec, opts)
	if err != nil {
		return nil, err
	}
	if cfg.BootstrapAdminEmail != "" {
		if err := bootstrapAdmin(ctx, svc, log, apiCfg.AdminRole, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			return nil, err
		}
	}

	h, err := api.NewHandler(log, svc, apiCfg, handlerOpts...)
	if err != nil {
		return nil, err
	}

	a.handler = newHTTPHandler(httpDeps{
		log:      log,
		cfg:      cfg,
		pool:     a.pool,
		rdb:      readyRedis,
		registry: registry,
		api:      h,
	})
	return a, nil
}

func (a *App) openRepository(ctx context.Context) (identity.Repository[*identity.User], error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("db.disabled.memory_store")
		return identity.NewUserMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if a.cfg.DBMigrate {
		if err := identity.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		a.log.Info("db.migrated")
	}

	store, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	a.log.Info("db.enabled.postgres_store")
	return store, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves HTTP until ctx is done or the server fails, then releases
// the App's connections.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil, "redis_enabled", a.rdb != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.Error("rabbitmq.close.fail", "err", err)
		}
		a.publisher = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
