package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LegalBasis is one of the six GDPR Article 6(1) processing justifications.
type LegalBasis string

const (
	BasisConsent             LegalBasis = "consent"
	BasisContract            LegalBasis = "contract"
	BasisLegalObligation     LegalBasis = "legal_obligation"
	BasisVitalInterests      LegalBasis = "vital_interests"
	BasisPublicTask          LegalBasis = "public_task"
	BasisLegitimateInterests LegalBasis = "legitimate_interests"
	BasisUnknown             LegalBasis = "unknown"
)

func ParseLegalBasis(raw string) LegalBasis {
	b := LegalBasis(strings.ToLower(strings.TrimSpace(raw)))
	switch b {
	case BasisConsent, BasisContract, BasisLegalObligation,
		BasisVitalInterests, BasisPublicTask, BasisLegitimateInterests:
		return b
	default:
		return BasisUnknown
	}
}

// ConsentSource is the channel through which a consent decision arrived.
type ConsentSource string

const (
	SourceWeb     ConsentSource = "web"
	SourceMobile  ConsentSource = "mobile"
	SourceAPI     ConsentSource = "api"
	SourceImport  ConsentSource = "import"
	SourceUnknown ConsentSource = "unknown"
)

func ParseConsentSource(raw string) ConsentSource {
	s := ConsentSource(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case SourceWeb, SourceMobile, SourceAPI, SourceImport:
		return s
	default:
		return SourceUnknown
	}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// ConsentType describes one kind of consent a user can hold, e.g.
// "marketing_emails". Slug is unique.
type ConsentType struct {
	ID          string     `json:"id" db:"id"`
	Slug        string     `json:"slug" db:"slug"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	LegalBasis  LegalBasis `json:"legal_basis" db:"legal_basis"`
	Required    bool       `json:"required" db:"required"`
	Active      bool       `json:"active" db:"active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

func NewConsentType(slug, name, description, basis string, required bool, now time.Time) (*ConsentType, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid consent type slug %q", slug)
	}
	if name == "" {
		return nil, fmt.Errorf("consent type name is required")
	}
	b := ParseLegalBasis(basis)
	if b == BasisUnknown {
		return nil, fmt.Errorf("unknown legal basis %q", basis)
	}
	return &ConsentType{
		ID:          uuid.New().String(),
		Slug:        slug,
		Name:        name,
		Description: description,
		LegalBasis:  b,
		Required:    required,
		Active:      true,
		CreatedAt:   now.UTC(),
	}, nil
}

// ConsentRecord is one append-only entry in a user's consent history. A
// record is either a grant (WithdrawnAt nil) or a withdrawal (WithdrawnAt
// set); a withdrawal supersedes a prior grant with a new record and never
// mutates the old one. The current status for a (user, type) pair is the
// record with the latest CreatedAt.
type ConsentRecord struct {
	ID            string        `json:"id" db:"id"`
	UserID        string        `json:"user_id" db:"user_id"`
	ConsentTypeID string        `json:"consent_type_id" db:"consent_type_id"`
	Granted       bool          `json:"granted" db:"granted"`
	WithdrawnAt   *time.Time    `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
	Source        ConsentSource `json:"source" db:"source"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
