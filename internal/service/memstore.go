package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/repository"
)

// Memory-backed store implementations. They serve two purposes: a fallback
// when no database is configured, and fixtures for tests. Semantics match
// the Postgres stores, including version guards and audit atomicity.

// MemoryAuditStore keeps entries append-only and hands out defensive
// copies, so a caller mutating a returned entry cannot alter the log.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []*model.AuditLogEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func copyEntry(e *model.AuditLogEntry) *model.AuditLogEntry {
	dup := *e
	if e.Metadata != nil {
		dup.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			dup.Metadata[k] = v
		}
	}
	if e.ArchivedAt != nil {
		at := *e.ArchivedAt
		dup.ArchivedAt = &at
	}
	return &dup
}

func (s *MemoryAuditStore) Insert(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, copyEntry(entry))
	return nil
}

func (s *MemoryAuditStore) insertLocked(entry *model.AuditLogEntry) {
	if entry != nil {
		s.entries = append(s.entries, copyEntry(entry))
	}
}

func matches(e *model.AuditLogEntry, f model.AuditFilter) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.UserID != "" && e.ActingUserID != f.UserID {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

func (s *MemoryAuditStore) Query(ctx context.Context, filter model.AuditFilter, page model.AuditPage) ([]*model.AuditLogEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make([]*model.AuditLogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if matches(e, filter) {
			hits = append(hits, e)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})

	total := int64(len(hits))
	start := page.Offset()
	if start > len(hits) {
		start = len(hits)
	}
	end := start + page.Limit()
	if end > len(hits) {
		end = len(hits)
	}

	out := make([]*model.AuditLogEntry, 0, end-start)
	for _, e := range hits[start:end] {
		out = append(out, copyEntry(e))
	}
	return out, total, nil
}

func (s *MemoryAuditStore) ListUnarchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*model.AuditLogEntry{}
	for _, e := range s.entries {
		if e.ArchivedAt == nil && e.CreatedAt.Before(cutoff) {
			out = append(out, copyEntry(e))
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) MarkArchived(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for _, e := range s.entries {
		if _, ok := idSet[e.ID]; ok && e.ArchivedAt == nil {
			stamp := at
			e.ArchivedAt = &stamp
		}
	}
	return nil
}

func (s *MemoryAuditStore) PurgeArchived(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var purged int64
	for _, e := range s.entries {
		if e.ArchivedAt != nil && e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return purged, nil
}

// MemoryRequestStore shares the audit store so a commit appends the audit
// entry under the same lock that guards the request mutation.
type MemoryRequestStore struct {
	mu       sync.Mutex
	requests map[string]*model.Request
	audit    *MemoryAuditStore
}

func NewMemoryRequestStore(audit *MemoryAuditStore) *MemoryRequestStore {
	return &MemoryRequestStore{
		requests: make(map[string]*model.Request),
		audit:    audit,
	}
}

func copyRequest(r *model.Request) *model.Request {
	dup := *r
	return &dup
}

func (s *MemoryRequestStore) Create(ctx context.Context, req *model.Request, entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = copyRequest(req)
	s.audit.mu.Lock()
	s.audit.insertLocked(entry)
	s.audit.mu.Unlock()
	return nil
}

func (s *MemoryRequestStore) Get(ctx context.Context, id string) (*model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRequest(req), nil
}

func (s *MemoryRequestStore) List(ctx context.Context, status model.RequestStatus, limit, offset int) ([]*model.Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*model.Request, 0, len(s.requests))
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		all = append(all, copyRequest(r))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *MemoryRequestStore) CommitTransition(ctx context.Context, req *model.Request, expectedVersion int64, entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	next := copyRequest(req)
	next.Version = expectedVersion + 1
	s.requests[req.ID] = next
	req.Version = next.Version

	s.audit.mu.Lock()
	s.audit.insertLocked(entry)
	s.audit.mu.Unlock()
	return nil
}

// MemoryConsentStore mirrors the Postgres consent store.
type MemoryConsentStore struct {
	mu      sync.Mutex
	types   map[string]*model.ConsentType // by ID
	records []*model.ConsentRecord
	audit   *MemoryAuditStore
}

func NewMemoryConsentStore(audit *MemoryAuditStore) *MemoryConsentStore {
	return &MemoryConsentStore{
		types: make(map[string]*model.ConsentType),
		audit: audit,
	}
}

func copyConsentType(ct *model.ConsentType) *model.ConsentType {
	dup := *ct
	return &dup
}

func copyConsentRecord(r *model.ConsentRecord) *model.ConsentRecord {
	dup := *r
	if r.WithdrawnAt != nil {
		at := *r.WithdrawnAt
		dup.WithdrawnAt = &at
	}
	return &dup
}

func (s *MemoryConsentStore) CreateType(ctx context.Context, ct *model.ConsentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.types {
		if existing.Slug == ct.Slug {
			return repository.ErrDuplicateSlug
		}
	}
	s.types[ct.ID] = copyConsentType(ct)
	return nil
}

func (s *MemoryConsentStore) UpdateType(ctx context.Context, ct *model.ConsentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[ct.ID]; !ok {
		return repository.ErrNotFound
	}
	s.types[ct.ID] = copyConsentType(ct)
	return nil
}

func (s *MemoryConsentStore) GetTypeBySlug(ctx context.Context, slug string) (*model.ConsentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ct := range s.types {
		if ct.Slug == slug {
			return copyConsentType(ct), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *MemoryConsentStore) ListTypes(ctx context.Context) ([]*model.ConsentType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ConsentType, 0, len(s.types))
	for _, ct := range s.types {
		out = append(out, copyConsentType(ct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *MemoryConsentStore) Append(ctx context.Context, rec *model.ConsentRecord, entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, copyConsentRecord(rec))
	s.audit.mu.Lock()
	s.audit.insertLocked(entry)
	s.audit.mu.Unlock()
	return nil
}

func (s *MemoryConsentStore) Current(ctx context.Context, userID, typeID string) (*model.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.ConsentRecord
	for _, r := range s.records {
		if r.UserID != userID || r.ConsentTypeID != typeID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return copyConsentRecord(latest), nil
}

func (s *MemoryConsentStore) HistoryPage(ctx context.Context, userID, typeID string, limit, offset int) ([]*model.ConsentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := []*model.ConsentRecord{}
	for _, r := range s.records {
		if r.UserID == userID && r.ConsentTypeID == typeID {
			hits = append(hits, r)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].CreatedAt.Before(hits[j].CreatedAt)
	})
	if offset > len(hits) {
		offset = len(hits)
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	out := make([]*model.ConsentRecord, 0, end-offset)
	for _, r := range hits[offset:end] {
		out = append(out, copyConsentRecord(r))
	}
	return out, nil
}

func (s *MemoryConsentStore) RateCounts(ctx context.Context, typeID string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var granted, denied int64
	for _, r := range s.records {
		if r.ConsentTypeID != typeID {
			continue
		}
		switch {
		case r.Granted && r.WithdrawnAt == nil:
			granted++
		case !r.Granted:
			denied++
		}
	}
	return granted, denied, nil
}

// MemoryMarkerStore mirrors the Postgres marker store.
type MemoryMarkerStore struct {
	mu      sync.Mutex
	markers map[string]model.CategoryOutcome
	audit   *MemoryAuditStore
}

func NewMemoryMarkerStore(audit *MemoryAuditStore) *MemoryMarkerStore {
	return &MemoryMarkerStore{
		markers: make(map[string]model.CategoryOutcome),
		audit:   audit,
	}
}

func markerKey(requestID, categoryKey string) string {
	return requestID + ":" + categoryKey
}

func (s *MemoryMarkerStore) Get(ctx context.Context, requestID, categoryKey string) (*model.CategoryOutcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.markers[markerKey(requestID, categoryKey)]
	if !ok {
		return nil, false, nil
	}
	return &out, true, nil
}

func (s *MemoryMarkerStore) Put(ctx context.Context, requestID string, outcome model.CategoryOutcome, entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := markerKey(requestID, outcome.CategoryKey)
	if _, ok := s.markers[key]; ok {
		return nil
	}
	s.markers[key] = outcome
	s.audit.mu.Lock()
	s.audit.insertLocked(entry)
	s.audit.mu.Unlock()
	return nil
}

// MemoryJobStore mirrors the Redis job store.
type MemoryJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*model.Job
	latest map[string]string
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:   make(map[string]*model.Job),
		latest: make(map[string]string),
	}
}

func copyJob(j *model.Job) *model.Job {
	dup := *j
	if j.Outcomes != nil {
		dup.Outcomes = append([]model.CategoryOutcome(nil), j.Outcomes...)
	}
	if j.Export != nil {
		exp := *j.Export
		dup.Export = &exp
	}
	if j.FinishedAt != nil {
		at := *j.FinishedAt
		dup.FinishedAt = &at
	}
	return &dup
}

func (s *MemoryJobStore) Save(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	s.latest[job.RequestID+":"+string(job.Kind)] = job.ID
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *MemoryJobStore) LatestForRequest(ctx context.Context, requestID string, kind model.JobKind) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.latest[requestID+":"+string(kind)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	job, ok := s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyJob(job), nil
}
