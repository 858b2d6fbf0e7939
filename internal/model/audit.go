package model

import (
	"strings"
	"time"
)

// AuditAction enumerates every compliance-relevant event kind. Unknown
// actions parse to ActionUnknown so a new kind forces a deliberate change
// here rather than falling through as free text.
type AuditAction string

const (
	ActionRequestCreated        AuditAction = "request_created"
	ActionRequestVerified       AuditAction = "request_verified"
	ActionRequestAssigned       AuditAction = "request_assigned"
	ActionNoteAdded             AuditAction = "note_added"
	ActionRequestProcessed      AuditAction = "request_processed"
	ActionRequestRejected       AuditAction = "request_rejected"
	ActionConsentGranted        AuditAction = "consent_granted"
	ActionConsentDenied         AuditAction = "consent_denied"
	ActionConsentWithdrawn      AuditAction = "consent_withdrawn"
	ActionDataExported          AuditAction = "data_exported"
	ActionDataDeleted           AuditAction = "data_deleted"
	ActionRetentionApplied      AuditAction = "retention_applied"
	ActionRetentionAcknowledged AuditAction = "retention_acknowledged"
	ActionUnknown               AuditAction = "unknown"
)

func ParseAuditAction(raw string) AuditAction {
	a := AuditAction(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case ActionRequestCreated, ActionRequestVerified, ActionRequestAssigned,
		ActionNoteAdded, ActionRequestProcessed, ActionRequestRejected,
		ActionConsentGranted, ActionConsentDenied, ActionConsentWithdrawn, ActionDataExported,
		ActionDataDeleted, ActionRetentionApplied, ActionRetentionAcknowledged:
		return a
	default:
		return ActionUnknown
	}
}

// Entity types referenced by audit entries.
const (
	EntityRequest     = "gdpr_request"
	EntityConsent     = "consent_record"
	EntityConsentType = "consent_type"
	EntityUserData    = "user_data"
)

// AuditLogEntry is one immutable row in the compliance event log. Entries
// are never updated or deleted outside the retention sweep; ArchivedAt is
// the only field the sweep touches before purging.
type AuditLogEntry struct {
	ID           string                 `json:"id" db:"id"`
	Action       AuditAction            `json:"action" db:"action"`
	EntityType   string                 `json:"entity_type" db:"entity_type"`
	EntityID     string                 `json:"entity_id" db:"entity_id"`
	ActingUserID string                 `json:"acting_user_id,omitempty" db:"acting_user_id"`
	AdminID      string                 `json:"admin_id,omitempty" db:"admin_id"`
	IP           string                 `json:"ip" db:"ip"`
	Details      string                 `json:"details,omitempty" db:"details"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	ArchivedAt   *time.Time             `json:"archived_at,omitempty" db:"archived_at"`
}

// AuditFilter narrows an audit query. Zero values mean "no constraint".
type AuditFilter struct {
	Action     AuditAction
	EntityType string
	EntityID   string
	UserID     string
	From       *time.Time
	To         *time.Time
}

// AuditPage is a page request for audit queries. Entries come back newest
// first together with the total match count.
type AuditPage struct {
	Number int
	Size   int
}

const maxPageNumber = 1 << 20

func (p AuditPage) Limit() int {
	if p.Size <= 0 || p.Size > 1000 {
		return 100
	}
	return p.Size
}

func (p AuditPage) Offset() int {
	n := p.Number
	if n <= 1 {
		return 0
	}
	// Cap the page number so the offset arithmetic cannot overflow.
	if n > maxPageNumber {
		n = maxPageNumber
	}
	return (n - 1) * p.Limit()
}
