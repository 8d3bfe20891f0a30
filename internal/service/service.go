// Package service assembles an Interlink process from its configuration: the
// message store, the configuration store, the subscription registry, the
// adapter cache and the two pipeline loops.
package service

import (
	"context"
	"net/http"
	"time"

	"github.com/ajitpratap0/interlink/internal/pipeline"
	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/configstore"
	"github.com/ajitpratap0/interlink/pkg/cursor"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/metrics"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/ajitpratap0/interlink/pkg/schema"
	"github.com/ajitpratap0/interlink/pkg/store"
	"github.com/ajitpratap0/interlink/pkg/subscription"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is a wired Interlink process.
type Service struct {
	Config        *config.ServiceConfig
	ConfigStore   configstore.Store
	Subscriptions *subscription.Registry
	Store         store.Store
	Cursor        *cursor.Cursor
	Adapters      *pipeline.Adapters
	Scheduler     *pipeline.Scheduler
	Deliverer     *pipeline.Deliverer
	Reconciler    *schema.Reconciler

	logger *zap.Logger
}

// New opens the stores described by cfg and builds the pipeline loops.
func New(ctx context.Context, cfg *config.ServiceConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid service configuration")
	}

	cs, err := openConfigStore(ctx, cfg.ConfigStore)
	if err != nil {
		return nil, err
	}
	subs := subscription.NewRegistry(cs)
	cur := cursor.New()

	st, err := openStore(ctx, cfg.Store, store.Options{
		Subscriptions:     subs,
		Cursor:            cur,
		DefaultMaxRetries: cfg.Store.DefaultMaxRetries,
		ArchiveDelivered:  cfg.Store.ArchiveDelivered,
		Logger:            logger,
	})
	if err != nil {
		_ = cs.Close()
		return nil, err
	}

	adapters := pipeline.NewAdapters(nil, logger)
	s := &Service{
		Config:        cfg,
		ConfigStore:   cs,
		Subscriptions: subs,
		Store:         st,
		Cursor:        cur,
		Adapters:      adapters,
		Scheduler:     pipeline.NewScheduler(cfg.Scheduler, cs, st, cur, adapters, logger),
		Deliverer:     pipeline.NewDeliverer(cfg.Delivery, cs, st, adapters, logger),
		Reconciler:    schema.NewReconciler(logger),
		logger:        logger.With(zap.String("component", "service")),
	}
	s.logger.Info("service initialized",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("config_store_driver", cfg.ConfigStore.Driver))
	return s, nil
}

func openConfigStore(ctx context.Context, cfg config.ConfigStoreConfig) (configstore.Store, error) {
	switch cfg.Driver {
	case "file":
		return configstore.NewFileStore(cfg.Path), nil
	case "postgres":
		cs, err := configstore.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return cs, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown config store driver %q", cfg.Driver)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, opts store.Options) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		opts.Logger.Warn("using the in-memory message store; staged messages are lost on exit")
		return store.NewMemoryStore(opts), nil
	case "postgres":
		st, err := store.OpenPostgres(ctx, store.PostgresConfig{
			DSN:         cfg.DSN,
			MaxConns:    cfg.MaxConns,
			AutoMigrate: cfg.AutoMigrate,
		}, opts)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown store driver %q", cfg.Driver)
	}
}

// Migrate applies the message store migrations without starting anything else.
func Migrate(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) error {
	if cfg.Driver != "postgres" {
		return errors.Newf(errors.ErrorTypeConfig, "store driver %q has no migrations", cfg.Driver)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to connect to message store")
	}
	defer pool.Close()
	return store.Migrate(ctx, pool, logger)
}

// Run starts the scheduler, the deliverer and, when enabled, the metrics
// endpoint and gauge refresher. It returns when ctx is cancelled or one of
// them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Scheduler.Run(ctx) })
	g.Go(func() error { return s.Deliverer.Run(ctx) })

	if s.Config.Metrics.Enabled {
		g.Go(func() error {
			metrics.RefreshStaged(ctx, s.Store, s.Config.Metrics.StatsInterval, s.logger)
			return nil
		})
		g.Go(func() error { return s.serveMetrics(ctx) })
	}
	return g.Wait()
}

func (s *Service) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              s.Config.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("metrics endpoint listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, errors.ErrorTypeConfig, "metrics endpoint failed")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Routes returns the effective subscription graph.
func (s *Service) Routes(ctx context.Context) ([]subscription.Route, error) {
	return s.Subscriptions.Graph(ctx)
}

// CompareSchemas compares the schema at a source instance's locator with the
// schema at a destination instance's locator.
func (s *Service) CompareSchemas(ctx context.Context, sourceID, destinationID uuid.UUID) (schema.Result, error) {
	src, err := s.instance(ctx, sourceID, models.RoleSource)
	if err != nil {
		return schema.Result{}, err
	}
	dst, err := s.instance(ctx, destinationID, models.RoleDestination)
	if err != nil {
		return schema.Result{}, err
	}
	srcAdapter, err := s.Adapters.Get(ctx, src)
	if err != nil {
		return schema.Result{}, err
	}
	dstAdapter, err := s.Adapters.Get(ctx, dst)
	if err != nil {
		return schema.Result{}, err
	}
	return s.Reconciler.Reconcile(ctx, srcAdapter, src.Locator, dstAdapter, dst.Locator)
}

func (s *Service) instance(ctx context.Context, id uuid.UUID, role models.Role) (*models.AdapterInstance, error) {
	inst, err := s.ConfigStore.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Role != role {
		return nil, errors.Newf(errors.ErrorTypeValidation, "instance %s is a %s, not a %s", id, inst.Role, role)
	}
	return inst, nil
}

// Close releases adapters and both stores.
func (s *Service) Close(ctx context.Context) error {
	var first error
	if err := s.Adapters.Close(ctx); err != nil {
		s.logger.Warn("failed to close adapters", zap.Error(err))
		first = err
	}
	if err := s.Store.Close(); err != nil && first == nil {
		first = err
	}
	if err := s.ConfigStore.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
