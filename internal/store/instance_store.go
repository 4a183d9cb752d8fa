package store

import (
	"context"
	"errors"
	"time"

	"walink-service/internal/apperr"
	"walink-service/internal/model"
	"walink-service/prometheus"

	"gorm.io/gorm"
)

// InstanceStore persists messaging instances. Name uniqueness within a
// tenant is enforced by a composite unique index on (tenant_id, name).
type InstanceStore struct {
	db *gorm.DB
}

// NewInstanceStore creates a new InstanceStore backed by the given database
func NewInstanceStore(db *gorm.DB) *InstanceStore {
	return &InstanceStore{db: db}
}

// Create inserts a new instance. A uniqueness violation on the
// (tenant_id, name) index is reported as apperr.ErrDuplicateName.
func (s *InstanceStore) Create(ctx context.Context, instance *model.MessagingInstance) error {
	defer prometheus.TrackDBOperation("instance_create")(time.Now())

	if err := s.db.WithContext(ctx).Create(instance).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateName
		}
		return err
	}
	return nil
}

// FindByID returns an instance by primary key
func (s *InstanceStore) FindByID(ctx context.Context, id uint) (*model.MessagingInstance, error) {
	var instance model.MessagingInstance
	err := s.db.WithContext(ctx).First(&instance, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &instance, nil
}

// ExistsByName reports whether a tenant already uses an instance name
func (s *InstanceStore) ExistsByName(ctx context.Context, tenantID uint, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.MessagingInstance{}).
		Where("tenant_id = ? AND name = ?", tenantID, name).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByTenant returns all instances owned by a tenant
func (s *InstanceStore) ListByTenant(ctx context.Context, tenantID uint) ([]model.MessagingInstance, error) {
	var instances []model.MessagingInstance
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// ListWatched returns instances in states the poller reconciles
func (s *InstanceStore) ListWatched(ctx context.Context) ([]model.MessagingInstance, error) {
	defer prometheus.TrackDBOperation("instance_list_watched")(time.Now())

	var instances []model.MessagingInstance
	err := s.db.WithContext(ctx).
		Where("connection_state IN ?", []model.ConnectionState{model.StateCreated, model.StateConnecting}).
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// Save persists changes to an existing instance
func (s *InstanceStore) Save(ctx context.Context, instance *model.MessagingInstance) error {
	return s.db.WithContext(ctx).Save(instance).Error
}

// Delete removes an instance
func (s *InstanceStore) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&model.MessagingInstance{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
