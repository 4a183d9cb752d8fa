package store

import (
	"context"
	"errors"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"
	"walink-service/prometheus"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// LinkStore persists CRM links. Location uniqueness is enforced by a
// partial unique index on external_location_id (non-revoked rows only),
// so the create path is a conditional insert: a concurrent second
// writer for the same location is rejected by the database and
// surfaced as apperr.ErrConflict.
type LinkStore struct {
	db *gorm.DB
}

// NewLinkStore creates a new LinkStore backed by the given database
func NewLinkStore(db *gorm.DB) *LinkStore {
	return &LinkStore{db: db}
}

// FindByLocation returns the non-revoked link for a location id
func (s *LinkStore) FindByLocation(ctx context.Context, locationID string) (*model.CRMLink, error) {
	defer prometheus.TrackDBOperation("link_find_by_location")(time.Now())

	var link model.CRMLink
	err := s.db.WithContext(ctx).
		Where("external_location_id = ? AND revoked_at IS NULL", locationID).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// FindByID returns a link by primary key
func (s *LinkStore) FindByID(ctx context.Context, id uint) (*model.CRMLink, error) {
	var link model.CRMLink
	err := s.db.WithContext(ctx).First(&link, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// FindRevoked returns the most recently revoked link a tenant held for
// a location, if any
func (s *LinkStore) FindRevoked(ctx context.Context, tenantID uint, locationID string) (*model.CRMLink, error) {
	var link model.CRMLink
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND external_location_id = ? AND revoked_at IS NOT NULL", tenantID, locationID).
		Order("revoked_at DESC").
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// Create inserts a new link. A uniqueness violation on the location
// index means another tenant holds the location and is reported as
// apperr.ErrConflict.
func (s *LinkStore) Create(ctx context.Context, link *model.CRMLink) error {
	defer prometheus.TrackDBOperation("link_create")(time.Now())

	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrConflict
		}
		return err
	}
	return nil
}

// UpdateTokens replaces the token pair and expiry on a link
func (s *LinkStore) UpdateTokens(ctx context.Context, id uint, accessToken, refreshToken string, expiresAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.CRMLink{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":     accessToken,
			"refresh_token":    refreshToken,
			"token_expires_at": expiresAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Revoke soft-revokes a link, freeing its location for a new claim
func (s *LinkStore) Revoke(ctx context.Context, id uint, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.CRMLink{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// ListByTenant returns all non-revoked links owned by a tenant
func (s *LinkStore) ListByTenant(ctx context.Context, tenantID uint) ([]model.CRMLink, error) {
	var links []model.CRMLink
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND revoked_at IS NULL", tenantID).
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

// isUniqueViolation reports whether err is a uniqueness constraint
// violation from the database
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
