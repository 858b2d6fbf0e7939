package model

import "time"

// DataCategory is one slice of a user's data as reported by an external
// data domain. Derived per invocation, never stored.
type DataCategory struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Icon        string `json:"icon,omitempty"`
	RecordCount int64  `json:"record_count"`
	ByteSize    int64  `json:"byte_size"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// RetentionRule is one configured legal retention requirement for a
// category, e.g. financial records kept 7 years under tax law.
type RetentionRule struct {
	Category    string `json:"category" mapstructure:"category"`
	PeriodYears int    `json:"period_years" mapstructure:"period_years"`
	LegalReason string `json:"legal_reason" mapstructure:"legal_reason"`
}

// RetentionException marks a category that must survive deletion. It is
// derived by the policy evaluator and persisted only inside the audit
// record that cites it.
type RetentionException struct {
	CategoryKey   string `json:"category_key"`
	RetainedCount int64  `json:"retained_count"`
	LegalReason   string `json:"legal_reason"`
}

// CategoryOutcome is the per-category result of a deletion run.
type CategoryOutcome struct {
	CategoryKey   string `json:"category_key"`
	DeletedCount  int64  `json:"deleted_count"`
	RetainedCount int64  `json:"retained_count"`
	LegalReason   string `json:"legal_reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// DeletionResult aggregates a full deletion run over all categories.
type DeletionResult struct {
	RequestID  string            `json:"request_id"`
	UserID     string            `json:"user_id"`
	Outcomes   []CategoryOutcome `json:"outcomes"`
	Retained   int               `json:"retained_categories"`
	Failed     int               `json:"failed_categories"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ExportResult describes a generated export package.
type ExportResult struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	Categories  []string  `json:"categories"`
	TotalBytes  int64     `json:"total_bytes"`
	ArchivePath string    `json:"archive_path"`
	DownloadURL string    `json:"download_url"`
	FinishedAt  time.Time `json:"finished_at"`
}
