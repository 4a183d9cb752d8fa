package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"
	"walink-service/pkg/gateway"
	"walink-service/pkg/logger"
	"walink-service/prometheus"

	"go.uber.org/zap"
)

// Gateway is the capability object for the external messaging gateway.
// The production implementation retries transient failures internally;
// any error it returns is definitive.
type Gateway interface {
	CreateInstance(ctx context.Context, name string) (*gateway.CreateInstanceResponse, error)
	GetQRCode(ctx context.Context, name string) (*gateway.QRCodeResponse, error)
	GetConnectionState(ctx context.Context, name string) (*gateway.ConnectionStateResponse, error)
	Logout(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
}

// InstanceStore persists messaging instances. Create must reject a
// duplicate (tenant, name) pair with apperr.ErrDuplicateName.
type InstanceStore interface {
	Create(ctx context.Context, instance *model.MessagingInstance) error
	FindByID(ctx context.Context, id uint) (*model.MessagingInstance, error)
	ExistsByName(ctx context.Context, tenantID uint, name string) (bool, error)
	ListByTenant(ctx context.Context, tenantID uint) ([]model.MessagingInstance, error)
	ListWatched(ctx context.Context) ([]model.MessagingInstance, error)
	Save(ctx context.Context, instance *model.MessagingInstance) error
	Delete(ctx context.Context, id uint) error
}

// InstanceService creates, tracks and tears down gateway instances per
// CRM link. Remote gateway calls always happen before the local record
// changes, so a failed remote call never leaves local state ahead of
// the gateway.
type InstanceService struct {
	links     LinkStore
	instances InstanceStore
	gw        Gateway
	now       func() time.Time
}

// NewInstanceService creates a new InstanceService
func NewInstanceService(links LinkStore, instances InstanceStore, gw Gateway) *InstanceService {
	return &InstanceService{
		links:     links,
		instances: instances,
		gw:        gw,
		now:       time.Now,
	}
}

// GatewayName returns the gateway-side name for an instance. Instance
// names are unique per tenant locally; the tenant prefix keeps them
// unique on the shared gateway.
func GatewayName(tenantID uint, name string) string {
	return fmt.Sprintf("t%d-%s", tenantID, name)
}

// CreateInstance provisions an instance on the gateway and records it
// locally in state created. The gateway call happens first: on gateway
// failure no local record is persisted.
func (s *InstanceService) CreateInstance(ctx context.Context, tenantID, linkID uint, name string) (*model.MessagingInstance, error) {
	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.TenantID != tenantID || link.Revoked() {
		return nil, apperr.ErrNotFound
	}

	taken, err := s.instances.ExistsByName(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, apperr.ErrDuplicateName
	}

	if _, err := s.gw.CreateInstance(ctx, GatewayName(tenantID, name)); err != nil {
		logger.FromContext(ctx).Error("Gateway instance create failed",
			zap.String("name", name),
			zap.Error(err))
		prometheus.GatewayErrorCounter.WithLabelValues("create").Inc()
		return nil, apperr.ErrGatewayUnavailable
	}

	instance := &model.MessagingInstance{
		CRMLinkID:       link.ID,
		TenantID:        tenantID,
		Name:            name,
		ConnectionState: model.StateCreated,
	}

	if err := s.instances.Create(ctx, instance); err != nil {
		if errors.Is(err, apperr.ErrDuplicateName) {
			// A concurrent create won the name. Remove the remote
			// instance we just provisioned so the gateway does not
			// accumulate orphans.
			if derr := s.gw.DeleteInstance(ctx, GatewayName(tenantID, name)); derr != nil {
				logger.FromContext(ctx).Warn("Failed to clean up gateway instance after name collision",
					zap.String("name", name),
					zap.Error(derr))
			}
		}
		return nil, err
	}

	return instance, nil
}

// RequestConnection asks the gateway for a QR/pairing code and moves
// the instance to connecting. Valid only from created or disconnected.
func (s *InstanceService) RequestConnection(ctx context.Context, tenantID, instanceID uint) (*gateway.QRCodeResponse, *model.MessagingInstance, error) {
	instance, err := s.findOwnedInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, nil, err
	}

	if instance.ConnectionState != model.StateCreated && instance.ConnectionState != model.StateDisconnected {
		return nil, nil, apperr.ErrInvalidState
	}

	qr, err := s.gw.GetQRCode(ctx, GatewayName(instance.TenantID, instance.Name))
	if err != nil {
		logger.FromContext(ctx).Error("Gateway QR request failed",
			zap.Uint("instance_id", instance.ID),
			zap.Error(err))
		prometheus.GatewayErrorCounter.WithLabelValues("qr").Inc()
		return nil, nil, apperr.ErrGatewayUnavailable
	}

	instance.ConnectionState = model.StateConnecting
	if err := s.instances.Save(ctx, instance); err != nil {
		return nil, nil, err
	}

	return qr, instance, nil
}

// ReconcileState applies a gateway-observed state to an instance. The
// observed state is applied only when it is a legal transition from
// the current state; stale or out-of-order reports are logged and
// dropped, never applied. Phone number and the reconciliation
// timestamp are updated whenever the report is newer than the last
// reconciliation.
func (s *InstanceService) ReconcileState(ctx context.Context, instanceID uint, observed model.ConnectionState, phoneNumber string, observedAt time.Time) error {
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)

	newer := instance.LastReconciledAt == nil || observedAt.After(*instance.LastReconciledAt)
	if !newer {
		log.Debug("Dropping stale gateway report",
			zap.Uint("instance_id", instance.ID),
			zap.Time("observed_at", observedAt))
		return nil
	}

	if phoneNumber != "" {
		instance.PhoneNumber = &phoneNumber
	}
	instance.LastReconciledAt = &observedAt
	instance.Stale = false

	switch {
	case !observed.Valid():
		log.Warn("Gateway reported unknown state",
			zap.Uint("instance_id", instance.ID),
			zap.String("observed", string(observed)))
	case observed == instance.ConnectionState:
		// No change
	case instance.ConnectionState.CanTransitionTo(observed):
		log.Info("Instance state reconciled",
			zap.Uint("instance_id", instance.ID),
			zap.String("from", string(instance.ConnectionState)),
			zap.String("to", string(observed)))
		instance.ConnectionState = observed
		prometheus.ReconcileResultCounter.WithLabelValues("applied").Inc()
	default:
		// Out-of-order or stale gateway report; local state wins.
		log.Warn("Ignoring illegal state transition from gateway",
			zap.Uint("instance_id", instance.ID),
			zap.String("current", string(instance.ConnectionState)),
			zap.String("observed", string(observed)))
		prometheus.ReconcileResultCounter.WithLabelValues("ignored").Inc()
	}

	return s.instances.Save(ctx, instance)
}

// MarkStale flags an instance whose reconciliation failed after
// retries. Its connection state is left untouched.
func (s *InstanceService) MarkStale(ctx context.Context, instanceID uint) error {
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if instance.Stale {
		return nil
	}
	instance.Stale = true
	return s.instances.Save(ctx, instance)
}

// Disconnect logs the instance out at the gateway and marks it
// disconnected. Disconnecting an already-disconnected instance is a
// no-op success.
func (s *InstanceService) Disconnect(ctx context.Context, tenantID, instanceID uint) (*model.MessagingInstance, error) {
	instance, err := s.findOwnedInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.ConnectionState == model.StateDisconnected {
		return instance, nil
	}

	if err := s.gw.Logout(ctx, GatewayName(instance.TenantID, instance.Name)); err != nil {
		if !isGatewayNotFound(err) {
			logger.FromContext(ctx).Error("Gateway logout failed",
				zap.Uint("instance_id", instance.ID),
				zap.Error(err))
			prometheus.GatewayErrorCounter.WithLabelValues("logout").Inc()
			return nil, apperr.ErrGatewayUnavailable
		}
	}

	instance.ConnectionState = model.StateDisconnected
	if err := s.instances.Save(ctx, instance); err != nil {
		return nil, err
	}

	return instance, nil
}

// Delete removes the instance from the gateway and then locally. The
// local record is only removed once the gateway delete succeeded or
// the gateway no longer knows the instance.
func (s *InstanceService) Delete(ctx context.Context, tenantID, instanceID uint) error {
	instance, err := s.findOwnedInstance(ctx, tenantID, instanceID)
	if err != nil {
		return err
	}

	if err := s.gw.DeleteInstance(ctx, GatewayName(instance.TenantID, instance.Name)); err != nil {
		if !isGatewayNotFound(err) {
			logger.FromContext(ctx).Error("Gateway instance delete failed",
				zap.Uint("instance_id", instance.ID),
				zap.Error(err))
			prometheus.GatewayErrorCounter.WithLabelValues("delete").Inc()
			return apperr.ErrGatewayUnavailable
		}
	}

	return s.instances.Delete(ctx, instance.ID)
}

// GetInstance returns a tenant's instance by id
func (s *InstanceService) GetInstance(ctx context.Context, tenantID, instanceID uint) (*model.MessagingInstance, error) {
	return s.findOwnedInstance(ctx, tenantID, instanceID)
}

// ListInstances returns all of a tenant's instances
func (s *InstanceService) ListInstances(ctx context.Context, tenantID uint) ([]model.MessagingInstance, error) {
	return s.instances.ListByTenant(ctx, tenantID)
}

// RefreshInstance reconciles a single instance on demand (manual
// refresh from the UI)
func (s *InstanceService) RefreshInstance(ctx context.Context, tenantID, instanceID uint) (*model.MessagingInstance, error) {
	instance, err := s.findOwnedInstance(ctx, tenantID, instanceID)
	if err != nil {
		return nil, err
	}

	state, err := s.gw.GetConnectionState(ctx, GatewayName(instance.TenantID, instance.Name))
	if err != nil {
		if serr := s.MarkStale(ctx, instance.ID); serr != nil {
			logger.FromContext(ctx).Warn("Failed to flag instance stale",
				zap.Uint("instance_id", instance.ID),
				zap.Error(serr))
		}
		return nil, apperr.ErrGatewayUnavailable
	}

	if err := s.ReconcileState(ctx, instance.ID, model.ConnectionState(state.State), state.PhoneNumber, s.now()); err != nil {
		return nil, err
	}

	return s.instances.FindByID(ctx, instance.ID)
}

func (s *InstanceService) findOwnedInstance(ctx context.Context, tenantID, instanceID uint) (*model.MessagingInstance, error) {
	instance, err := s.instances.FindByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance.TenantID != tenantID {
		return nil, apperr.ErrNotFound
	}
	return instance, nil
}

// isGatewayNotFound reports whether the gateway answered 404 for the
// instance, which tear-down paths treat as already done
func isGatewayNotFound(err error) bool {
	var statusErr *gateway.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
