package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/ajitpratap0/interlink/pkg/config"
	"github.com/ajitpratap0/interlink/pkg/connector/core"
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

// Outcome counts what one delivery pass did for a destination.
type Outcome struct {
	Claimed      int `json:"claimed"`
	Acknowledged int `json:"acknowledged"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// Deliverer drains the message store into destination instances.
type Deliverer struct {
	cfg       config.DeliveryConfig
	instances Instances
	store     store.Store
	adapters  *Adapters
	log       *zap.Logger
	now       func() time.Time
}

// NewDeliverer creates a deliverer.
func NewDeliverer(cfg config.DeliveryConfig, instances Instances, st store.Store, adapters *Adapters, log *zap.Logger) *Deliverer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Deliverer{
		cfg:       cfg,
		instances: instances,
		store:     st,
		adapters:  adapters,
		log:       log.With(zap.String("component", "deliverer")),
		now:       time.Now,
	}
}

// Run calls Tick every delivery.tick_interval until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.log.Info("deliverer started",
		zap.Duration("tick_interval", d.cfg.TickInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Duration("lease_duration", d.cfg.LeaseDuration))
	for {
		if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("delivery tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			d.log.Info("deliverer stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one delivery pass for every enabled destination. Failures of one
// destination are logged and do not affect the others.
func (d *Deliverer) Tick(ctx context.Context) error {
	instances, err := d.instances.ListInstances(ctx)
	if err != nil {
		return err
	}
	tickID := uuid.NewString()

	g := &errgroup.Group{}
	g.SetLimit(d.cfg.MaxConcurrency)
	for _, inst := range instances {
		if !inst.IsEnabled || inst.Role != models.RoleDestination {
			continue
		}
		inst := inst
		g.Go(func() error {
			_, _ = d.deliver(ctx, tickID, inst)
			return nil
		})
	}
	return g.Wait()
}

// DeliverOnce runs one delivery pass for a single destination.
func (d *Deliverer) DeliverOnce(ctx context.Context, destinationID uuid.UUID) (Outcome, error) {
	inst, err := d.instances.GetInstance(ctx, destinationID)
	if err != nil {
		return Outcome{}, err
	}
	if inst.Role != models.RoleDestination {
		return Outcome{}, errors.New(errors.ErrorTypeValidation, "instance is not a destination").
			WithDetail("instance_id", destinationID.String())
	}
	return d.deliver(ctx, uuid.NewString(), inst)
}

// messageGroup is the claimed messages that share an interface and column set.
type messageGroup struct {
	interfaceName string
	columns       []string
	messages      []*models.StagedMessage
	records       []models.Record
}

func (d *Deliverer) deliver(ctx context.Context, tickID string, inst *models.AdapterInstance) (out Outcome, err error) {
	ctx = logger.ContextWith(ctx, logger.TickIDKey, tickID)
	ctx = logger.ContextWith(ctx, logger.DestinationInstanceKey, inst.InstanceID.String())
	log := logger.FromContext(ctx, d.log)
	defer func() {
		if err != nil {
			log.Error("delivery failed",
				zap.String("adapter_type", string(inst.AdapterType)),
				zap.Int("claimed", out.Claimed),
				zap.Error(err))
		}
	}()

	claimedAt := d.now()
	msgs, err := d.store.ClaimBatch(ctx, inst.InstanceID, d.cfg.BatchSize, d.cfg.LeaseDuration)
	if err != nil {
		return out, err
	}
	if len(msgs) == 0 {
		return out, nil
	}

	// Nothing may be written or settled once the leases could have passed to
	// another worker.
	ctx, cancel := context.WithDeadline(ctx, claimedAt.Add(d.cfg.LeaseDuration))
	defer cancel()
	out.Claimed = len(msgs)
	metrics.MessagesClaimed.WithLabelValues(inst.Name).Add(float64(len(msgs)))
	log.Info("messages claimed", zap.Int("count", len(msgs)))

	// From here on an early return leaves the remaining leases to expire.
	adapter, err := d.adapters.Get(ctx, inst)
	if err != nil {
		return out, err
	}
	if !adapter.SupportsWrite() {
		return out, errors.NotSupported(string(inst.AdapterType), "write").
			WithDetail("instance_id", inst.InstanceID.String())
	}

	for _, g := range d.group(ctx, inst, msgs, &out, log) {
		if err := d.write(ctx, inst, adapter, g, &out, log); err != nil {
			return out, err
		}
	}
	return out, nil
}

// group decodes msgs and groups them by interface and column set, keeping the
// claim order. Messages whose payload cannot be decoded are failed here.
func (d *Deliverer) group(ctx context.Context, inst *models.AdapterInstance, msgs []*models.StagedMessage, out *Outcome, log *zap.Logger) []*messageGroup {
	var groups []*messageGroup
	index := make(map[string]*messageGroup)
	for _, m := range msgs {
		r, err := m.Record()
		if err != nil {
			d.fail(ctx, inst, m, errors.Wrap(err, errors.ErrorTypeMalformedPayload, "undecodable payload"), out, log)
			continue
		}
		key := m.InterfaceName + "\x00" + strings.Join(r.Columns, "\x1f")
		g, ok := index[key]
		if !ok {
			g = &messageGroup{interfaceName: m.InterfaceName, columns: r.Columns}
			index[key] = g
			groups = append(groups, g)
		}
		g.messages = append(g.messages, m)
		g.records = append(g.records, r)
	}
	return groups
}

// write delivers one group and settles each of its messages. It returns an
// error only when the pass must stop with the remaining leases untouched.
func (d *Deliverer) write(ctx context.Context, inst *models.AdapterInstance, adapter core.Adapter, g *messageGroup, out *Outcome, log *zap.Logger) (err error) {
	log = log.With(zap.String("interface", g.interfaceName))

	wctx := core.WithInterface(ctx, g.interfaceName)
	if d.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}
	wctx, span := observability.StartSpan(wctx, observability.SpanDeliver,
		observability.AttrInstanceID.String(inst.InstanceID.String()),
		observability.AttrAdapterType.String(string(inst.AdapterType)),
		observability.AttrInterface.String(g.interfaceName),
		observability.AttrRecords.Int(len(g.records)))
	defer func() { observability.End(span, err) }()

	timer := metrics.NewTimer()
	result, werr := adapter.Write(wctx, inst.Locator, g.columns, g.records)
	metrics.DeliveryDuration.WithLabelValues(string(inst.AdapterType)).Observe(timer.Stop().Seconds())

	switch {
	case werr == nil:
	case wctx.Err() != nil:
		log.Warn("delivery timed out, leases left to expire",
			zap.Int("messages", len(g.messages)),
			zap.Duration("timeout", d.cfg.DeliveryTimeout))
		return errors.Wrap(werr, errors.ErrorTypeTimeout, "delivery timed out")
	case errors.IsType(werr, errors.ErrorTypeNotSupported):
		log.Error("destination cannot accept writes", zap.Error(werr))
		return werr
	default:
		for _, m := range g.messages {
			d.fail(ctx, inst, m, werr, out, log)
		}
		return nil
	}

	if result == nil {
		result = core.NewDeliveryResult(len(g.records))
	}
	for i, m := range g.messages {
		if ferr, failed := result.Failed[i]; failed {
			d.fail(ctx, inst, m, ferr, out, log)
			continue
		}
		if err := d.store.Acknowledge(ctx, inst.InstanceID, m.ID, m.Token()); err != nil {
			log.Error("failed to acknowledge message", zap.String("message_id", m.ID.String()), zap.Error(err))
			continue
		}
		out.Acknowledged++
		metrics.MessagesAcknowledged.Inc()
		log.Debug("message acknowledged", zap.String("message_id", m.ID.String()))
	}
	return nil
}

// fail records a failed attempt. The store dead-letters the message when the
// attempt exhausts its retry budget.
func (d *Deliverer) fail(ctx context.Context, inst *models.AdapterInstance, m *models.StagedMessage, cause error, out *Outcome, log *zap.Logger) {
	if err := d.store.Fail(ctx, inst.InstanceID, m.ID, m.Token(), cause.Error()); err != nil {
		log.Error("failed to record delivery failure", zap.String("message_id", m.ID.String()), zap.Error(err))
		return
	}
	out.Failed++
	metrics.MessagesFailed.Inc()

	fields := []zap.Field{
		zap.String("message_id", m.ID.String()),
		zap.Int("retry_count", m.RetryCount+1),
		zap.Int("max_retries", m.MaxRetries),
		zap.Error(cause),
	}
	if m.RetryCount+1 > m.MaxRetries {
		out.DeadLettered++
		metrics.MessagesDeadLettered.Inc()
		log.Warn("message dead-lettered", fields...)
		return
	}
	log.Warn("message failed", fields...)
}
