package model

import (
	"time"

	"gorm.io/gorm"
)

// Tenant represents a paying customer organization.
// Tenants are deactivated, never deleted.
type Tenant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	Email     string         `json:"email" gorm:"type:varchar(100);uniqueIndex"`
	Active    bool           `json:"active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	CRMLinks []CRMLink `json:"crm_links,omitempty" gorm:"foreignKey:TenantID"`
}
