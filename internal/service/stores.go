package service

import (
	"context"
	"time"

	"github.com/complygate/complygate/internal/model"
)

// RequestStore persists data-subject requests. CommitTransition must write
// the request mutation and the audit entry atomically, guarded by the
// version the caller read; a stale version returns
// repository.ErrVersionConflict.
type RequestStore interface {
	Create(ctx context.Context, req *model.Request, entry *model.AuditLogEntry) error
	Get(ctx context.Context, id string) (*model.Request, error)
	List(ctx context.Context, status model.RequestStatus, limit, offset int) ([]*model.Request, error)
	CommitTransition(ctx context.Context, req *model.Request, expectedVersion int64, entry *model.AuditLogEntry) error
}

// AuditStore is insert-only; the archive/purge pair exists solely for the
// retention sweep.
type AuditStore interface {
	Insert(ctx context.Context, entry *model.AuditLogEntry) error
	Query(ctx context.Context, filter model.AuditFilter, page model.AuditPage) ([]*model.AuditLogEntry, int64, error)
	ListUnarchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.AuditLogEntry, error)
	MarkArchived(ctx context.Context, ids []string, at time.Time) error
	PurgeArchived(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConsentStore persists consent types and the append-only record ledger.
type ConsentStore interface {
	CreateType(ctx context.Context, ct *model.ConsentType) error
	UpdateType(ctx context.Context, ct *model.ConsentType) error
	GetTypeBySlug(ctx context.Context, slug string) (*model.ConsentType, error)
	ListTypes(ctx context.Context) ([]*model.ConsentType, error)
	Append(ctx context.Context, rec *model.ConsentRecord, entry *model.AuditLogEntry) error
	Current(ctx context.Context, userID, typeID string) (*model.ConsentRecord, error)
	HistoryPage(ctx context.Context, userID, typeID string, limit, offset int) ([]*model.ConsentRecord, error)
	RateCounts(ctx context.Context, typeID string) (granted, denied int64, err error)
}

// MarkerStore records per-(request, category) deletion completion markers.
type MarkerStore interface {
	Get(ctx context.Context, requestID, categoryKey string) (*model.CategoryOutcome, bool, error)
	Put(ctx context.Context, requestID string, outcome model.CategoryOutcome, entry *model.AuditLogEntry) error
}

// JobStore keeps pollable background-run status.
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	LatestForRequest(ctx context.Context, requestID string, kind model.JobKind) (*model.Job, error)
}

// DataDomain is one external store of personal data (profile store,
// messaging store, transaction ledger, upload store, ...). Export must
// return the domain's data for the user as a JSON document; Delete must be
// idempotent for a user within a domain.
type DataDomain interface {
	Key() string
	Label() string
	Icon() string
	Count(ctx context.Context, userID string) (int64, error)
	Size(ctx context.Context, userID string) (int64, error)
	Export(ctx context.Context, userID string) ([]byte, error)
	Delete(ctx context.Context, userID string) (int64, error)
}
