package service

import (
	"context"
	"testing"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"
	"walink-service/pkg/gateway"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInstanceFixture(t *testing.T) (*InstanceService, *fakeLinkStore, *fakeInstanceStore, *fakeGateway) {
	t.Helper()
	links := newFakeLinkStore()
	instances := newFakeInstanceStore()
	gw := newFakeGateway()
	svc := NewInstanceService(links, instances, gw)
	return svc, links, instances, gw
}

func seedLink(t *testing.T, links *fakeLinkStore, tenantID uint, locationID string) *model.CRMLink {
	t.Helper()
	link := &model.CRMLink{
		TenantID:           tenantID,
		ExternalLocationID: locationID,
		AccessToken:        "access",
		RefreshToken:       "refresh",
		ClaimedAt:          time.Now(),
	}
	require.NoError(t, links.Create(context.Background(), link))
	return link
}

func TestCreateInstance(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, instance.ConnectionState)
	assert.Equal(t, link.ID, instance.CRMLinkID)
	assert.Equal(t, 1, instances.count())
	assert.Equal(t, []string{"t1-agency-1"}, gw.createCalls)
}

func TestCreateInstanceGatewayFailureLeavesNoRecord(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")
	gw.createErr = assert.AnError

	_, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	assert.Equal(t, 0, instances.count(), "failed remote create must not persist a local record")
}

func TestCreateInstanceDuplicateName(t *testing.T) {
	svc, links, _, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	_, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	_, err = svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	assert.ErrorIs(t, err, apperr.ErrDuplicateName)
}

func TestCreateInstanceSameNameDifferentTenants(t *testing.T) {
	svc, links, _, _ := newInstanceFixture(t)
	linkA := seedLink(t, links, 1, "loc-1")
	linkB := seedLink(t, links, 2, "loc-2")

	_, err := svc.CreateInstance(context.Background(), 1, linkA.ID, "agency-1")
	require.NoError(t, err)

	// Names are scoped per tenant
	_, err = svc.CreateInstance(context.Background(), 2, linkB.ID, "agency-1")
	assert.NoError(t, err)
}

func TestCreateInstanceRejectsForeignLink(t *testing.T) {
	svc, links, _, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	_, err := svc.CreateInstance(context.Background(), 2, link.ID, "agency-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRequestConnection(t *testing.T) {
	svc, links, instances, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	qr, updated, err := svc.RequestConnection(context.Background(), 1, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "qr-t1-agency-1", qr.Code)
	assert.Equal(t, model.StateConnecting, updated.ConnectionState)

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnecting, stored.ConnectionState)
}

func TestRequestConnectionInvalidFromConnected(t *testing.T) {
	svc, links, instances, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	stored.ConnectionState = model.StateConnected
	require.NoError(t, instances.Save(context.Background(), stored))

	_, _, err = svc.RequestConnection(context.Background(), 1, instance.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRequestConnectionGatewayFailureKeepsState(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.qrErr = assert.AnError
	_, _, err = svc.RequestConnection(context.Background(), 1, instance.ID)
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, stored.ConnectionState, "state is untouched until the gateway answered")
}

func TestReconcileStateAppliesLegalTransitions(t *testing.T) {
	svc, links, instances, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	base := time.Now()
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnecting, "", base))
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnected, "+18095551234", base.Add(time.Second)))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, stored.ConnectionState)
	require.NotNil(t, stored.PhoneNumber)
	assert.Equal(t, "+18095551234", *stored.PhoneNumber)
	require.NotNil(t, stored.LastReconciledAt)
}

func TestReconcileStateIgnoresBackwardTransition(t *testing.T) {
	svc, links, instances, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	base := time.Now()
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnecting, "", base))
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnected, "+18095551234", base.Add(time.Second)))

	// Out-of-order gateway report: "created" after connected
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateCreated, "", base.Add(2*time.Second)))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, stored.ConnectionState, "backward transition must be ignored")
}

func TestReconcileStateDropsOlderReports(t *testing.T) {
	svc, links, instances, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	base := time.Now()
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnecting, "", base))

	// A report older than the last reconciliation changes nothing
	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnected, "+1555", base.Add(-time.Second)))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnecting, stored.ConnectionState)
	assert.Nil(t, stored.PhoneNumber)
}

func TestReconcileStateClearsStaleFlag(t *testing.T) {
	svc, links, instances, _ := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)
	require.NoError(t, svc.MarkStale(context.Background(), instance.ID))

	require.NoError(t, svc.ReconcileState(context.Background(), instance.ID, model.StateConnecting, "", time.Now()))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.False(t, stored.Stale)
}

func TestDisconnect(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	updated, err := svc.Disconnect(context.Background(), 1, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDisconnected, updated.ConnectionState)
	assert.Equal(t, []string{"t1-agency-1"}, gw.logoutCalls)

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDisconnected, stored.ConnectionState)
}

func TestDisconnectAlreadyDisconnectedIsNoop(t *testing.T) {
	svc, links, _, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	_, err = svc.Disconnect(context.Background(), 1, instance.ID)
	require.NoError(t, err)

	gw.logoutErr = assert.AnError
	updated, err := svc.Disconnect(context.Background(), 1, instance.ID)
	require.NoError(t, err, "repeated disconnect is a no-op success")
	assert.Equal(t, model.StateDisconnected, updated.ConnectionState)
	assert.Len(t, gw.logoutCalls, 1, "no second gateway call for an already-disconnected instance")
}

func TestDisconnectGatewayFailureKeepsState(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.logoutErr = assert.AnError
	_, err = svc.Disconnect(context.Background(), 1, instance.ID)
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, stored.ConnectionState)
}

func TestDeleteRemovesRemoteThenLocal(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), 1, instance.ID))
	assert.Equal(t, []string{"t1-agency-1"}, gw.deleteCalls)
	assert.Equal(t, 0, instances.count())
}

func TestDeleteGatewayFailureKeepsLocalRecord(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.deleteErr = assert.AnError
	err = svc.Delete(context.Background(), 1, instance.ID)
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	assert.Equal(t, 1, instances.count(), "local record survives until the gateway delete succeeds")
}

func TestDeleteTreatsGatewayNotFoundAsSuccess(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.deleteErr = &gateway.StatusError{StatusCode: 404, Message: "instance not found"}
	require.NoError(t, svc.Delete(context.Background(), 1, instance.ID))
	assert.Equal(t, 0, instances.count())
}

func TestRefreshInstanceMarksStaleOnGatewayFailure(t *testing.T) {
	svc, links, instances, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.stateErr = assert.AnError
	_, err = svc.RefreshInstance(context.Background(), 1, instance.ID)
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.True(t, stored.Stale)
	assert.Equal(t, model.StateCreated, stored.ConnectionState, "never marked disconnected on a transient failure")
}

func TestRefreshInstanceReconciles(t *testing.T) {
	svc, links, _, gw := newInstanceFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)
	gw.setState("t1-agency-1", "connecting", "")

	refreshed, err := svc.RefreshInstance(context.Background(), 1, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnecting, refreshed.ConnectionState)
}
