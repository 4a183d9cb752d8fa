package service

import (
	"context"
	"sync"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"
	"walink-service/pkg/crm"
	"walink-service/pkg/gateway"
)

// fakeTenants is an in-memory TenantDirectory
type fakeTenants struct {
	tenants map[uint]*model.Tenant
}

func newFakeTenants(tenants ...*model.Tenant) *fakeTenants {
	f := &fakeTenants{tenants: make(map[uint]*model.Tenant)}
	for _, t := range tenants {
		f.tenants[t.ID] = t
	}
	return f
}

func (f *fakeTenants) FindByID(_ context.Context, id uint) (*model.Tenant, error) {
	tenant, ok := f.tenants[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return tenant, nil
}

// fakeLinkStore is an in-memory LinkStore that enforces the same
// location uniqueness the database index provides, including under
// concurrent Create calls.
type fakeLinkStore struct {
	mu     sync.Mutex
	nextID uint
	links  map[uint]*model.CRMLink
}

func newFakeLinkStore() *fakeLinkStore {
	return &fakeLinkStore{nextID: 1, links: make(map[uint]*model.CRMLink)}
}

func (f *fakeLinkStore) FindByLocation(_ context.Context, locationID string) (*model.CRMLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.ExternalLocationID == locationID && link.RevokedAt == nil {
			copied := *link
			return &copied, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (f *fakeLinkStore) FindByID(_ context.Context, id uint) (*model.CRMLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	copied := *link
	return &copied, nil
}

func (f *fakeLinkStore) FindRevoked(_ context.Context, tenantID uint, locationID string) (*model.CRMLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.CRMLink
	for _, link := range f.links {
		if link.TenantID != tenantID || link.ExternalLocationID != locationID || link.RevokedAt == nil {
			continue
		}
		if latest == nil || link.RevokedAt.After(*latest.RevokedAt) {
			latest = link
		}
	}
	if latest == nil {
		return nil, apperr.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (f *fakeLinkStore) Create(_ context.Context, link *model.CRMLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.links {
		if existing.ExternalLocationID == link.ExternalLocationID && existing.RevokedAt == nil {
			return apperr.ErrConflict
		}
	}
	link.ID = f.nextID
	f.nextID++
	copied := *link
	f.links[link.ID] = &copied
	return nil
}

func (f *fakeLinkStore) UpdateTokens(_ context.Context, id uint, accessToken, refreshToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if !ok {
		return apperr.ErrNotFound
	}
	link.AccessToken = accessToken
	link.RefreshToken = refreshToken
	link.TokenExpiresAt = expiresAt
	return nil
}

func (f *fakeLinkStore) Revoke(_ context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if !ok || link.RevokedAt != nil {
		return apperr.ErrNotFound
	}
	link.RevokedAt = &at
	return nil
}

func (f *fakeLinkStore) ListByTenant(_ context.Context, tenantID uint) ([]model.CRMLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var links []model.CRMLink
	for _, link := range f.links {
		if link.TenantID == tenantID && link.RevokedAt == nil {
			links = append(links, *link)
		}
	}
	return links, nil
}

func (f *fakeLinkStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

// fakeInstanceStore is an in-memory InstanceStore enforcing per-tenant
// name uniqueness
type fakeInstanceStore struct {
	mu        sync.Mutex
	nextID    uint
	instances map[uint]*model.MessagingInstance
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{nextID: 1, instances: make(map[uint]*model.MessagingInstance)}
}

func (f *fakeInstanceStore) Create(_ context.Context, instance *model.MessagingInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.instances {
		if existing.TenantID == instance.TenantID && existing.Name == instance.Name {
			return apperr.ErrDuplicateName
		}
	}
	instance.ID = f.nextID
	f.nextID++
	copied := *instance
	f.instances[instance.ID] = &copied
	return nil
}

func (f *fakeInstanceStore) FindByID(_ context.Context, id uint) (*model.MessagingInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	instance, ok := f.instances[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	copied := *instance
	return &copied, nil
}

func (f *fakeInstanceStore) ExistsByName(_ context.Context, tenantID uint, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.instances {
		if existing.TenantID == tenantID && existing.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInstanceStore) ListByTenant(_ context.Context, tenantID uint) ([]model.MessagingInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var instances []model.MessagingInstance
	for _, instance := range f.instances {
		if instance.TenantID == tenantID {
			instances = append(instances, *instance)
		}
	}
	return instances, nil
}

func (f *fakeInstanceStore) ListWatched(_ context.Context) ([]model.MessagingInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var instances []model.MessagingInstance
	for _, instance := range f.instances {
		if instance.ConnectionState == model.StateCreated || instance.ConnectionState == model.StateConnecting {
			instances = append(instances, *instance)
		}
	}
	return instances, nil
}

func (f *fakeInstanceStore) Save(_ context.Context, instance *model.MessagingInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[instance.ID]; !ok {
		return apperr.ErrNotFound
	}
	copied := *instance
	f.instances[instance.ID] = &copied
	return nil
}

func (f *fakeInstanceStore) Delete(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.instances, id)
	return nil
}

func (f *fakeInstanceStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// fakeGateway is a scriptable Gateway test double
type fakeGateway struct {
	mu sync.Mutex

	createErr error
	qrErr     error
	stateErr  error
	logoutErr error
	deleteErr error

	states map[string]*gateway.ConnectionStateResponse

	createCalls []string
	deleteCalls []string
	logoutCalls []string
	stateCalls  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{states: make(map[string]*gateway.ConnectionStateResponse)}
}

func (f *fakeGateway) CreateInstance(_ context.Context, name string) (*gateway.CreateInstanceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, name)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &gateway.CreateInstanceResponse{InstanceName: name, Status: "created"}, nil
}

func (f *fakeGateway) GetQRCode(_ context.Context, name string) (*gateway.QRCodeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.qrErr != nil {
		return nil, f.qrErr
	}
	return &gateway.QRCodeResponse{Code: "qr-" + name}, nil
}

func (f *fakeGateway) GetConnectionState(_ context.Context, name string) (*gateway.ConnectionStateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls = append(f.stateCalls, name)
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if state, ok := f.states[name]; ok {
		return state, nil
	}
	return &gateway.ConnectionStateResponse{InstanceName: name, State: "created"}, nil
}

func (f *fakeGateway) Logout(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, name)
	return f.logoutErr
}

func (f *fakeGateway) DeleteInstance(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, name)
	return f.deleteErr
}

func (f *fakeGateway) setState(name, state, phone string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[name] = &gateway.ConnectionStateResponse{InstanceName: name, State: state, PhoneNumber: phone}
}

// fakeTokenRefresher is a scriptable TokenRefresher
type fakeTokenRefresher struct {
	resp *crm.TokenResponse
	err  error
}

func (f *fakeTokenRefresher) RefreshToken(_ context.Context, _ string) (*crm.TokenResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
