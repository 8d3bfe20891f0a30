package pipeline

import (
	"context"
	"time"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/ajitpratap0/interlink/pkg/cursor"
	"github.com/ajitpratap0/interlink/pkg/debatch"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/logger"
	"github.com/ajitpratap0/interlink/pkg/metrics"
	"github.com/ajitpratap0/interlink/pkg/models"
	"github.com/ajitpratap0/interlink/pkg/observability"
	"github.com/ajitpratap0/interlink/pkg/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scheduler polls enabled source instances at their configured cadence and
// stages what they return.
type Scheduler struct {
	cfg       config.SchedulerConfig
	instances Instances
	store     store.Store
	cursor    *cursor.Cursor
	adapters  *Adapters
	log       *zap.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler. cur must be the cursor the store was
// opened with so both see the same content hashes.
func NewScheduler(cfg config.SchedulerConfig, instances Instances, st store.Store, cur *cursor.Cursor, adapters *Adapters, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Scheduler{
		cfg:       cfg,
		instances: instances,
		store:     st,
		cursor:    cur,
		adapters:  adapters,
		log:       log.With(zap.String("component", "scheduler")),
		now:       time.Now,
	}
}

// Cursor exposes the polling state for diagnostics.
func (s *Scheduler) Cursor() *cursor.Cursor {
	return s.cursor
}

// Run calls Tick every scheduler.tick_interval until ctx is cancelled. Polls
// started by one tick may still be running when the next tick fires; those
// instances are skipped by the re-entrancy guard.
func (s *Scheduler) Run(ctx context.Context) error {
	g := s.group()
	defer func() { _ = g.Wait() }()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int("max_concurrency", s.cfg.MaxConcurrency))
	for {
		if err := s.dispatch(ctx, g); err != nil && ctx.Err() == nil {
			s.log.Error("scheduler tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick starts a poll for every due source instance and waits for them all.
// Poll failures are logged and never returned; the error reports only that
// the instance list could not be read.
func (s *Scheduler) Tick(ctx context.Context) error {
	g := s.group()
	err := s.dispatch(ctx, g)
	_ = g.Wait()
	return err
}

// PollOnce polls one source immediately, ignoring its interval. A poll of the
// same instance that is still running makes it fail. It returns the number
// of messages staged.
func (s *Scheduler) PollOnce(ctx context.Context, instanceID uuid.UUID) (int, error) {
	inst, err := s.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	if inst.Role != models.RoleSource {
		return 0, errors.New(errors.ErrorTypeValidation, "instance is not a source").
			WithDetail("instance_id", instanceID.String())
	}
	if !inst.IsEnabled {
		return 0, errors.New(errors.ErrorTypeValidation, "instance is disabled").
			WithDetail("instance_id", instanceID.String())
	}
	if ok, reason := s.cursor.BeginPoll(instanceID, s.now()); !ok {
		return 0, errors.New(errors.ErrorTypeValidation, "poll already in progress").
			WithDetail("instance_id", instanceID.String()).
			WithDetail("reason", string(reason))
	}
	return s.poll(ctx, uuid.NewString(), inst)
}

func (s *Scheduler) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(s.cfg.MaxConcurrency)
	return g
}

func (s *Scheduler) dispatch(ctx context.Context, g *errgroup.Group) error {
	instances, err := s.instances.ListInstances(ctx)
	if err != nil {
		return err
	}
	tickID := uuid.NewString()
	for _, inst := range instances {
		if !inst.IsEnabled || inst.Role != models.RoleSource {
			continue
		}
		interval := inst.PollingInterval(s.defaultInterval(inst.AdapterType))
		if ok, reason := s.cursor.TryBeginPoll(inst.InstanceID, s.now(), interval); !ok {
			metrics.PollsTotal.WithLabelValues(metrics.StatusSkipped).Inc()
			s.log.Debug("poll skipped",
				zap.String("source_instance", inst.InstanceID.String()),
				zap.String("reason", string(reason)))
			continue
		}
		inst := inst
		g.Go(func() error {
			_, _ = s.poll(ctx, tickID, inst)
			return nil
		})
	}
	return nil
}

func (s *Scheduler) defaultInterval(t models.AdapterType) time.Duration {
	if t.FileLike() {
		return s.cfg.FileInterval
	}
	return s.cfg.RelationalInterval
}

// poll runs one Polling state of inst. The caller has already moved the
// instance to Polling; poll always returns it to Idle.
func (s *Scheduler) poll(ctx context.Context, tickID string, inst *models.AdapterInstance) (n int, err error) {
	ctx = logger.ContextWith(ctx, logger.TickIDKey, tickID)
	ctx = logger.ContextWith(ctx, logger.SourceInstanceKey, inst.InstanceID.String())
	ctx = logger.ContextWith(ctx, logger.InterfaceKey, inst.InterfaceName)
	log := logger.FromContext(ctx, s.log)

	if s.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PollTimeout)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanPoll,
		observability.AttrInstanceID.String(inst.InstanceID.String()),
		observability.AttrAdapterType.String(string(inst.AdapterType)),
		observability.AttrInterface.String(inst.InterfaceName))
	timer := metrics.NewTimer()

	defer func() {
		s.cursor.EndPoll(inst.InstanceID, s.now(), err == nil)
		metrics.ObservePoll(err, timer.Stop())
		span.SetAttributes(observability.AttrRecords.Int(n))
		observability.End(span, err)
		if err != nil {
			log.Error("poll failed", zap.String("adapter_type", string(inst.AdapterType)), zap.Error(err))
		}
	}()

	log.Info("poll started", zap.String("name", inst.Name), zap.String("locator", inst.Locator))

	adapter, err := s.adapters.Get(ctx, inst)
	if err != nil {
		return 0, err
	}
	batches, err := adapter.Read(ctx, inst.Locator)
	if err != nil {
		return 0, err
	}
	for _, b := range batches {
		staged, err := s.stage(ctx, inst, b, log)
		n += staged
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeMalformedPayload) && b.Abort != nil {
				if aerr := b.Abort(ctx, err); aerr != nil {
					log.Warn("failed to abort batch", zap.String("batch", b.Locator), zap.Error(aerr))
				}
			}
			return n, err
		}
	}
	return n, nil
}

// stage debatches b, enqueues its records and commits it.
func (s *Scheduler) stage(ctx context.Context, inst *models.AdapterInstance, b *core.Batch, log *zap.Logger) (int, error) {
	var (
		records []models.Record
		hash    string
		err     error
	)
	if b.IsRaw() {
		opts := b.Options
		if opts.Logger == nil {
			opts.Logger = log
		}
		_, records, err = debatch.Debatch(b.Raw, opts)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "failed to debatch").
				WithDetail("batch", b.Locator)
		}
		hash = debatch.Hash(b.Raw)
	} else {
		records, err = debatch.FromResultSet(b.Columns, b.Rows)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "failed to read result set").
				WithDetail("batch", b.Locator)
		}
		hash = debatch.HashRecords(b.Columns, records)
	}

	n, err := s.store.Enqueue(ctx, inst.InterfaceName, inst.InstanceID, records, hash,
		store.WithMaxRetries(inst.MaxRetries))
	if err != nil {
		return 0, err
	}
	metrics.MessagesEnqueued.WithLabelValues(inst.InterfaceName).Add(float64(n))
	log.Info("records enqueued",
		zap.String("batch", b.Locator),
		zap.Int("records", len(records)),
		zap.Int("staged", n))

	if b.Commit != nil {
		if err := b.Commit(ctx); err != nil {
			return n, errors.Wrap(err, errors.ErrorTypeConnectivity, "failed to commit batch").
				WithDetail("batch", b.Locator)
		}
	}
	return n, nil
}
