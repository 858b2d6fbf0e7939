package model

// CreateRequestInput is the intake form body for a new data-subject request.
type CreateRequestInput struct {
	Type           string `json:"type" binding:"required"`
	RequesterEmail string `json:"requester_email" binding:"required"`
	UserID         string `json:"user_id,omitempty"`
	Details        string `json:"details,omitempty"`
}

// AssignInput assigns a request to an admin.
type AssignInput struct {
	AdminID string `json:"admin_id" binding:"required"`
}

// NoteInput attaches a free-text note to a request.
type NoteInput struct {
	Text string `json:"text" binding:"required"`
}

// RejectInput rejects a request; the reason is mandatory.
type RejectInput struct {
	Reason string `json:"reason"`
}

// ConsentTypeInput creates or updates a consent type definition.
type ConsentTypeInput struct {
	Slug        string `json:"slug" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
	LegalBasis  string `json:"legal_basis" binding:"required"`
	Required    bool   `json:"required"`
	Active      *bool  `json:"active,omitempty"`
}

// ConsentDecisionInput records a grant or withdrawal for a user.
type ConsentDecisionInput struct {
	UserID          string `json:"user_id" binding:"required"`
	ConsentTypeSlug string `json:"consent_type" binding:"required"`
	Source          string `json:"source,omitempty"`
	Granted         *bool  `json:"granted,omitempty"`
}

// ExportTriggerInput starts an export run over selected categories. An
// empty list means all available categories.
type ExportTriggerInput struct {
	Categories []string `json:"categories,omitempty"`
}

// DeletionTriggerInput starts a deletion run. An empty list means every
// category; a legally retained category may not be selected explicitly.
type DeletionTriggerInput struct {
	Categories []string `json:"categories,omitempty"`
}
