package service

import (
	"context"
	"time"

	"walink-service/internal/model"
	"walink-service/pkg/logger"
	"walink-service/prometheus"

	"go.uber.org/zap"
)

// Poller bridges gateway state into the instance registry. It scans
// instances in non-terminal states on a fixed interval and reconciles
// each against the gateway-observed state. A transient gateway failure
// (already retried inside the gateway client) flags the instance stale
// instead of changing its connection state, so a flaky network never
// produces a false disconnect.
type Poller struct {
	instances InstanceStore
	svc       *InstanceService
	gw        Gateway
	interval  time.Duration
	now       func() time.Time
}

// NewPoller creates a new Poller
func NewPoller(instances InstanceStore, svc *InstanceService, gw Gateway, interval time.Duration) *Poller {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	return &Poller{
		instances: instances,
		svc:       svc,
		gw:        gw,
		interval:  interval,
		now:       time.Now,
	}
}

// Start runs the poller until the context is cancelled
func (p *Poller) Start(ctx context.Context) {
	log := logger.GetLogger()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log.Info("Starting gateway status poller",
		zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("Gateway status poller stopped")
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				log.Error("Poller pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single reconciliation pass over all instances in
// non-terminal states
func (p *Poller) RunOnce(ctx context.Context) error {
	log := logger.FromContext(ctx)
	defer func(start time.Time) {
		prometheus.PollerPassDuration.Observe(time.Since(start).Seconds())
	}(p.now())

	watched, err := p.instances.ListWatched(ctx)
	if err != nil {
		return err
	}
	prometheus.WatchedInstancesGauge.Set(float64(len(watched)))

	for _, instance := range watched {
		state, err := p.gw.GetConnectionState(ctx, GatewayName(instance.TenantID, instance.Name))
		if err != nil {
			// Retries exhausted inside the client. Keep the last known
			// local state and flag the instance for the UI.
			log.Warn("Gateway state query failed, flagging instance stale",
				zap.Uint("instance_id", instance.ID),
				zap.String("name", instance.Name),
				zap.Error(err))
			prometheus.GatewayErrorCounter.WithLabelValues("connection_state").Inc()
			prometheus.ReconcileResultCounter.WithLabelValues("stale").Inc()
			if serr := p.svc.MarkStale(ctx, instance.ID); serr != nil {
				log.Error("Failed to flag instance stale",
					zap.Uint("instance_id", instance.ID),
					zap.Error(serr))
			}
			continue
		}

		if err := p.svc.ReconcileState(ctx, instance.ID, model.ConnectionState(state.State), state.PhoneNumber, p.now()); err != nil {
			log.Error("Reconciliation failed",
				zap.Uint("instance_id", instance.ID),
				zap.Error(err))
			prometheus.ReconcileResultCounter.WithLabelValues("error").Inc()
		}
	}

	return nil
}
