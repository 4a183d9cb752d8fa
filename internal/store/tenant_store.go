package store

import (
	"context"
	"errors"

	"walink-service/internal/apperr"
	"walink-service/internal/model"

	"gorm.io/gorm"
)

// TenantStore is the read-only tenant directory used by the linking flow
type TenantStore struct {
	db *gorm.DB
}

// NewTenantStore creates a new TenantStore backed by the given database
func NewTenantStore(db *gorm.DB) *TenantStore {
	return &TenantStore{db: db}
}

// FindByID returns a tenant by primary key
func (s *TenantStore) FindByID(ctx context.Context, id uint) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).First(&tenant, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}
