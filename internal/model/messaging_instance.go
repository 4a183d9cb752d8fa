package model

import (
	"time"

	"gorm.io/gorm"
)

// ConnectionState enumerates the lifecycle states of a messaging instance
type ConnectionState string

const (
	StateCreated      ConnectionState = "created"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
)

// legalTransitions defines the only state changes an instance may make.
// Everything else is rejected on the request path and ignored during
// reconciliation.
var legalTransitions = map[ConnectionState][]ConnectionState{
	StateCreated:      {StateConnecting},
	StateConnecting:   {StateConnected},
	StateConnected:    {StateDisconnected},
	StateDisconnected: {StateConnecting},
}

// Valid reports whether s is a known connection state
func (s ConnectionState) Valid() bool {
	switch s {
	case StateCreated, StateConnecting, StateConnected, StateDisconnected:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is legal
func (s ConnectionState) CanTransitionTo(target ConnectionState) bool {
	for _, next := range legalTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// MessagingInstance represents one messaging-gateway instance bound to
// a CRM link. State transitions are driven by connection requests and
// gateway polling; the instance is removed when the tenant deletes it.
type MessagingInstance struct {
	ID               uint            `json:"id" gorm:"primaryKey"`
	CRMLinkID        uint            `json:"crm_link_id" gorm:"index;not null"`
	TenantID         uint            `json:"tenant_id" gorm:"not null;index:idx_instances_tenant_name,unique,priority:1"`
	Name             string          `json:"name" gorm:"type:varchar(100);not null;index:idx_instances_tenant_name,unique,priority:2"`
	PhoneNumber      *string         `json:"phone_number,omitempty" gorm:"type:varchar(32)"`
	ConnectionState  ConnectionState `json:"connection_state" gorm:"type:varchar(20);not null;default:'created'"`
	Stale            bool            `json:"stale" gorm:"default:false"`
	LastReconciledAt *time.Time      `json:"last_reconciled_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `json:"-" gorm:"index"`

	// Relations
	CRMLink CRMLink `json:"crm_link,omitempty" gorm:"foreignKey:CRMLinkID"`
}

// Terminal reports whether the instance is in a state the poller
// does not need to watch
func (i *MessagingInstance) Terminal() bool {
	return i.ConnectionState == StateConnected || i.ConnectionState == StateDisconnected
}
