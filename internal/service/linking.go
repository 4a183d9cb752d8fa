package service

import (
	"context"
	"errors"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"
	"walink-service/pkg/crm"
	"walink-service/pkg/logger"

	"go.uber.org/zap"
)

// TokenPair is an OAuth access/refresh token pair with its expiry
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TenantDirectory resolves tenant records for precondition checks
type TenantDirectory interface {
	FindByID(ctx context.Context, id uint) (*model.Tenant, error)
}

// LinkStore persists CRM links. Create must reject a second writer for
// the same location with apperr.ErrConflict (storage-level uniqueness).
type LinkStore interface {
	FindByLocation(ctx context.Context, locationID string) (*model.CRMLink, error)
	FindByID(ctx context.Context, id uint) (*model.CRMLink, error)
	FindRevoked(ctx context.Context, tenantID uint, locationID string) (*model.CRMLink, error)
	Create(ctx context.Context, link *model.CRMLink) error
	UpdateTokens(ctx context.Context, id uint, accessToken, refreshToken string, expiresAt time.Time) error
	Revoke(ctx context.Context, id uint, at time.Time) error
	ListByTenant(ctx context.Context, tenantID uint) ([]model.CRMLink, error)
}

// TokenRefresher refreshes CRM token pairs
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*crm.TokenResponse, error)
}

// LinkingService ties external CRM locations to tenants. It owns the
// claim/re-link rules; the uniqueness race between concurrent claims is
// resolved by the store's conditional insert.
type LinkingService struct {
	tenants TenantDirectory
	links   LinkStore
	crm     TokenRefresher
	now     func() time.Time
}

// NewLinkingService creates a new LinkingService
func NewLinkingService(tenants TenantDirectory, links LinkStore, crmClient TokenRefresher) *LinkingService {
	return &LinkingService{
		tenants: tenants,
		links:   links,
		crm:     crmClient,
		now:     time.Now,
	}
}

// CompleteOAuthLink records a successful OAuth install for a location.
// Calling it twice with the same tenant and location never creates a
// second link; the repeat call only refreshes the stored tokens. A
// location held by a different tenant yields apperr.ErrConflict.
func (s *LinkingService) CompleteOAuthLink(ctx context.Context, tenantID uint, companyID, locationID string, tokens TokenPair) (*model.CRMLink, error) {
	if err := s.requireActiveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	existing, err := s.links.FindByLocation(ctx, locationID)
	if err == nil {
		if existing.TenantID != tenantID {
			return nil, apperr.ErrConflict
		}
		// Idempotent re-link: refresh the token pair only
		if err := s.links.UpdateTokens(ctx, existing.ID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
			return nil, err
		}
		existing.AccessToken = tokens.AccessToken
		existing.RefreshToken = tokens.RefreshToken
		existing.TokenExpiresAt = tokens.ExpiresAt
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	link := &model.CRMLink{
		TenantID:           tenantID,
		ExternalCompanyID:  companyID,
		ExternalLocationID: locationID,
		AccessToken:        tokens.AccessToken,
		RefreshToken:       tokens.RefreshToken,
		TokenExpiresAt:     tokens.ExpiresAt,
		ClaimedAt:          s.now(),
	}

	if err := s.links.Create(ctx, link); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// Lost the insert race. If our own earlier request won it,
			// treat this call as the idempotent re-link it is.
			winner, ferr := s.links.FindByLocation(ctx, locationID)
			if ferr == nil && winner.TenantID == tenantID {
				if uerr := s.links.UpdateTokens(ctx, winner.ID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); uerr != nil {
					return nil, uerr
				}
				winner.AccessToken = tokens.AccessToken
				winner.RefreshToken = tokens.RefreshToken
				winner.TokenExpiresAt = tokens.ExpiresAt
				return winner, nil
			}
			return nil, apperr.ErrConflict
		}
		return nil, err
	}

	return link, nil
}

// ClaimLocation links a location discovered out-of-band, without a
// fresh OAuth code. It reuses tokens from an existing or previously
// revoked link for the same tenant and location; with no tokens to
// reuse the claim fails with apperr.ErrMissingCredentials.
func (s *LinkingService) ClaimLocation(ctx context.Context, tenantID uint, locationID string) (*model.CRMLink, error) {
	if err := s.requireActiveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	existing, err := s.links.FindByLocation(ctx, locationID)
	if err == nil {
		if existing.TenantID != tenantID {
			return nil, apperr.ErrConflict
		}
		if !existing.HasCredentials() {
			return nil, apperr.ErrMissingCredentials
		}
		return existing, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	previous, err := s.links.FindRevoked(ctx, tenantID, locationID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrMissingCredentials
		}
		return nil, err
	}
	if !previous.HasCredentials() {
		return nil, apperr.ErrMissingCredentials
	}

	link := &model.CRMLink{
		TenantID:           tenantID,
		ExternalCompanyID:  previous.ExternalCompanyID,
		ExternalLocationID: locationID,
		AccessToken:        previous.AccessToken,
		RefreshToken:       previous.RefreshToken,
		TokenExpiresAt:     previous.TokenExpiresAt,
		ClaimedAt:          s.now(),
	}

	if err := s.links.Create(ctx, link); err != nil {
		return nil, err
	}

	return link, nil
}

// RefreshTokens exchanges the stored refresh token for a new pair and
// persists it on the link
func (s *LinkingService) RefreshTokens(ctx context.Context, tenantID, linkID uint) (*model.CRMLink, error) {
	link, err := s.findOwnedLink(ctx, tenantID, linkID)
	if err != nil {
		return nil, err
	}
	if link.RefreshToken == "" {
		return nil, apperr.ErrMissingCredentials
	}

	resp, err := s.crm.RefreshToken(ctx, link.RefreshToken)
	if err != nil {
		logger.FromContext(ctx).Error("CRM token refresh failed",
			zap.Uint("link_id", link.ID),
			zap.Error(err))
		return nil, apperr.ErrGatewayUnavailable
	}

	expiresAt := resp.ExpiresAt()
	if err := s.links.UpdateTokens(ctx, link.ID, resp.AccessToken, resp.RefreshToken, expiresAt); err != nil {
		return nil, err
	}

	link.AccessToken = resp.AccessToken
	link.RefreshToken = resp.RefreshToken
	link.TokenExpiresAt = expiresAt
	return link, nil
}

// RevokeLink soft-revokes a link on uninstall, freeing its location
func (s *LinkingService) RevokeLink(ctx context.Context, tenantID, linkID uint) error {
	link, err := s.findOwnedLink(ctx, tenantID, linkID)
	if err != nil {
		return err
	}
	return s.links.Revoke(ctx, link.ID, s.now())
}

// ListLinks returns the tenant's non-revoked links
func (s *LinkingService) ListLinks(ctx context.Context, tenantID uint) ([]model.CRMLink, error) {
	return s.links.ListByTenant(ctx, tenantID)
}

func (s *LinkingService) findOwnedLink(ctx context.Context, tenantID, linkID uint) (*model.CRMLink, error) {
	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.TenantID != tenantID || link.Revoked() {
		return nil, apperr.ErrNotFound
	}
	return link, nil
}

func (s *LinkingService) requireActiveTenant(ctx context.Context, tenantID uint) error {
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !tenant.Active {
		return apperr.ErrNotFound
	}
	return nil
}
