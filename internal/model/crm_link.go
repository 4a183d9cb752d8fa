package model

import (
	"time"

	"gorm.io/gorm"
)

// CRMLink represents one external CRM location bound to a tenant,
// including the OAuth credentials issued for it. Links are never
// physically deleted; an uninstall soft-revokes them. The partial
// unique index enforces that a location id maps to at most one
// non-revoked link across all tenants.
type CRMLink struct {
	ID                 uint           `json:"id" gorm:"primaryKey"`
	TenantID           uint           `json:"tenant_id" gorm:"index;not null"`
	ExternalCompanyID  string         `json:"external_company_id" gorm:"type:varchar(100)"`
	ExternalLocationID string         `json:"external_location_id" gorm:"type:varchar(100);not null;index:idx_crm_links_location,unique,where:revoked_at IS NULL"`
	AccessToken        string         `json:"-" gorm:"type:text"`
	RefreshToken       string         `json:"-" gorm:"type:text"`
	TokenExpiresAt     time.Time      `json:"token_expires_at"`
	ClaimedAt          time.Time      `json:"claimed_at"`
	RevokedAt          *time.Time     `json:"revoked_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Instances []MessagingInstance `json:"instances,omitempty" gorm:"foreignKey:CRMLinkID"`
}

// Revoked reports whether the link has been soft-revoked
func (l *CRMLink) Revoked() bool {
	return l.RevokedAt != nil
}

// HasCredentials reports whether the link holds a usable token pair
func (l *CRMLink) HasCredentials() bool {
	return l.AccessToken != "" && l.RefreshToken != ""
}
