package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestType is the kind of data-subject right being exercised.
type RequestType string

const (
	RequestExport        RequestType = "export"
	RequestDeletion      RequestType = "deletion"
	RequestRectification RequestType = "rectification"
	RequestAccess        RequestType = "access"
	RequestPortability   RequestType = "portability"
	RequestTypeUnknown   RequestType = "unknown"
)

// ParseRequestType never falls through silently: anything outside the known
// set maps to RequestTypeUnknown and is rejected at construction.
func ParseRequestType(raw string) RequestType {
	switch RequestType(strings.ToLower(strings.TrimSpace(raw))) {
	case RequestExport:
		return RequestExport
	case RequestDeletion:
		return RequestDeletion
	case RequestRectification:
		return RequestRectification
	case RequestAccess:
		return RequestAccess
	case RequestPortability:
		return RequestPortability
	default:
		return RequestTypeUnknown
	}
}

// NeedsExportArtifact reports whether completing a request of this type
// requires a previously generated export package.
func (t RequestType) NeedsExportArtifact() bool {
	switch t {
	case RequestExport, RequestAccess, RequestPortability:
		return true
	default:
		return false
	}
}

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusRejected   RequestStatus = "rejected"
	StatusUnknown    RequestStatus = "unknown"
)

func ParseRequestStatus(raw string) RequestStatus {
	switch RequestStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusInProgress:
		return StatusInProgress
	case StatusCompleted:
		return StatusCompleted
	case StatusRejected:
		return StatusRejected
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further status transitions are allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Request is a data-subject request. CreatedAt is immutable after
// construction; the SLA deadline derives from it and never moves.
// Version is the optimistic-concurrency token: every committed transition
// increments it, and commits against a stale version are refused.
type Request struct {
	ID             string        `json:"id" db:"id"`
	Type           RequestType   `json:"type" db:"type"`
	RequesterEmail string        `json:"requester_email" db:"requester_email"`
	UserID         string        `json:"user_id,omitempty" db:"user_id"`
	Status         RequestStatus `json:"status" db:"status"`
	Details        string        `json:"details,omitempty" db:"details"`
	AssignedTo     string        `json:"assigned_to,omitempty" db:"assigned_to"`
	RejectedReason string        `json:"rejected_reason,omitempty" db:"rejected_reason"`
	DownloadURL    string        `json:"download_url,omitempty" db:"download_url"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	VerifiedAt     *time.Time    `json:"verified_at,omitempty" db:"verified_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	RetainedAckAt  *time.Time    `json:"retained_ack_at,omitempty" db:"retained_ack_at"`
	Version        int64         `json:"version" db:"version"`
}

// NewRequest validates its inputs so that an invalid type or email can never
// reach the store.
func NewRequest(reqType, email, userID, details string, now time.Time) (*Request, error) {
	t := ParseRequestType(reqType)
	if t == RequestTypeUnknown {
		return nil, fmt.Errorf("unknown request type %q", reqType)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid requester email %q", email)
	}
	return &Request{
		ID:             uuid.New().String(),
		Type:           t,
		RequesterEmail: email,
		UserID:         userID,
		Status:         StatusPending,
		Details:        details,
		CreatedAt:      now.UTC(),
		Version:        1,
	}, nil
}

// CallerContext identifies the authenticated admin performing an action.
// It is built once per HTTP request and passed explicitly; there is no
// ambient "current admin".
type CallerContext struct {
	AdminID string
	IP      string
	At      time.Time
}
