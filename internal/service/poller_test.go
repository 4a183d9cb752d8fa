package service

import (
	"context"
	"testing"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPollerFixture(t *testing.T) (*Poller, *InstanceService, *fakeLinkStore, *fakeInstanceStore, *fakeGateway) {
	t.Helper()
	links := newFakeLinkStore()
	instances := newFakeInstanceStore()
	gw := newFakeGateway()
	svc := NewInstanceService(links, instances, gw)
	poller := NewPoller(instances, svc, gw, 30*time.Second)
	return poller, svc, links, instances, gw
}

func TestRunOncePollsOnlyWatchedInstances(t *testing.T) {
	poller, svc, links, instances, gw := newPollerFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	created, err := svc.CreateInstance(context.Background(), 1, link.ID, "watched")
	require.NoError(t, err)

	connected, err := svc.CreateInstance(context.Background(), 1, link.ID, "settled")
	require.NoError(t, err)
	stored, err := instances.FindByID(context.Background(), connected.ID)
	require.NoError(t, err)
	stored.ConnectionState = model.StateConnected
	require.NoError(t, instances.Save(context.Background(), stored))

	require.NoError(t, poller.RunOnce(context.Background()))

	assert.Equal(t, []string{"t1-watched"}, gw.stateCalls, "connected instances are not polled")
	_ = created
}

func TestRunOnceReconcilesObservedState(t *testing.T) {
	poller, svc, links, instances, gw := newPollerFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)
	gw.setState("t1-agency-1", "connecting", "")

	require.NoError(t, poller.RunOnce(context.Background()))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnecting, stored.ConnectionState)
	require.NotNil(t, stored.LastReconciledAt)
}

func TestRunOnceFlagsStaleOnGatewayFailure(t *testing.T) {
	poller, svc, links, instances, gw := newPollerFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.stateErr = assert.AnError
	require.NoError(t, poller.RunOnce(context.Background()))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.True(t, stored.Stale)
	assert.Equal(t, model.StateCreated, stored.ConnectionState, "a flaky gateway must not fabricate a disconnect")
}

func TestRunOnceRecoversStaleInstance(t *testing.T) {
	poller, svc, links, instances, gw := newPollerFixture(t)
	link := seedLink(t, links, 1, "loc-1")

	instance, err := svc.CreateInstance(context.Background(), 1, link.ID, "agency-1")
	require.NoError(t, err)

	gw.stateErr = assert.AnError
	require.NoError(t, poller.RunOnce(context.Background()))

	gw.stateErr = nil
	gw.setState("t1-agency-1", "connecting", "")
	require.NoError(t, poller.RunOnce(context.Background()))

	stored, err := instances.FindByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.False(t, stored.Stale)
	assert.Equal(t, model.StateConnecting, stored.ConnectionState)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	poller, _, _, _, _ := newPollerFixture(t)
	poller.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}

// Full linking-to-connected walkthrough: tenant A claims a location,
// tenant B conflicts, an instance is created and driven to connected by
// the poller, and a late out-of-order gateway report is ignored.
func TestLinkingAndReconciliationEndToEnd(t *testing.T) {
	tenants := newFakeTenants(
		&model.Tenant{ID: 1, Name: "Tenant A", Active: true},
		&model.Tenant{ID: 2, Name: "Tenant B", Active: true},
	)
	links := newFakeLinkStore()
	instances := newFakeInstanceStore()
	gw := newFakeGateway()

	linking := NewLinkingService(tenants, links, &fakeTokenRefresher{})
	svc := NewInstanceService(links, instances, gw)
	poller := NewPoller(instances, svc, gw, 30*time.Second)
	ctx := context.Background()

	link, err := linking.CompleteOAuthLink(ctx, 1, "comp-a", "loc-123", testTokens())
	require.NoError(t, err)

	_, err = linking.CompleteOAuthLink(ctx, 2, "comp-b", "loc-123", testTokens())
	require.ErrorIs(t, err, apperr.ErrConflict)

	instance, err := svc.CreateInstance(ctx, 1, link.ID, "agency-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, instance.ConnectionState)

	gw.setState("t1-agency-1", "connecting", "")
	require.NoError(t, poller.RunOnce(ctx))

	gw.setState("t1-agency-1", "connected", "+18095551234")
	require.NoError(t, poller.RunOnce(ctx))

	stored, err := instances.FindByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, stored.ConnectionState)
	require.NotNil(t, stored.PhoneNumber)
	assert.Equal(t, "+18095551234", *stored.PhoneNumber)

	// A delayed report claiming the instance is back at created is
	// ignored, the connected state wins.
	require.NoError(t, svc.ReconcileState(ctx, instance.ID, model.StateCreated, "", time.Now()))

	stored, err = instances.FindByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateConnected, stored.ConnectionState)
}
