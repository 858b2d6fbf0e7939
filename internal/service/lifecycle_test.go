package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture wires the memory stores into a full service stack, mirroring
// the fallback wiring in cmd/server.
type fixture struct {
	audit    *MemoryAuditStore
	requests *MemoryRequestStore
	markers  *MemoryMarkerStore
	jobs     *MemoryJobStore
	recorder *AuditRecorder
	resolver *InventoryResolver
	orch     *Orchestrator
	manager  *LifecycleManager
}

func newFixture(t *testing.T, policy PolicyTable, domains ...DataDomain) *fixture {
	t.Helper()
	audit := NewMemoryAuditStore()
	recorder, err := NewAuditRecorder(audit, t.TempDir(), 7*365*24*time.Hour)
	require.NoError(t, err)

	markers := NewMemoryMarkerStore(audit)
	jobs := NewMemoryJobStore()
	resolver := NewInventoryResolver(domains...)

	orch, err := NewOrchestrator(resolver, policy, markers, recorder, jobs, t.TempDir(), 3, time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	requests := NewMemoryRequestStore(audit)
	return &fixture{
		audit:    audit,
		requests: requests,
		markers:  markers,
		jobs:     jobs,
		recorder: recorder,
		resolver: resolver,
		orch:     orch,
		manager:  NewLifecycleManager(requests, orch, slaWindow, warningWindow),
	}
}

func testCaller() model.CallerContext {
	return model.CallerContext{AdminID: "admin-1", IP: "127.0.0.1", At: time.Now()}
}

func (f *fixture) createRequest(t *testing.T, reqType string) *model.Request {
	t.Helper()
	req, err := f.manager.Create(context.Background(), model.CreateRequestInput{
		Type:           reqType,
		RequesterEmail: "subject@example.com",
		UserID:         "user-42",
	}, testCaller())
	require.NoError(t, err)
	return req
}

// forceStatus puts the stored request into an arbitrary state, bypassing
// the state machine.
func (f *fixture) forceStatus(t *testing.T, id string, status model.RequestStatus) {
	t.Helper()
	f.requests.mu.Lock()
	defer f.requests.mu.Unlock()
	stored, ok := f.requests.requests[id]
	require.True(t, ok)
	stored.Status = status
}

func (f *fixture) auditEntriesFor(t *testing.T, id string) []*model.AuditLogEntry {
	t.Helper()
	entries, _, err := f.audit.Query(context.Background(),
		model.AuditFilter{EntityID: id}, model.AuditPage{Size: 1000})
	require.NoError(t, err)
	return entries
}

func errType(err error) apperrors.ErrorType {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

func TestCreateRequestWritesAuditEntry(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "export")

	assert.Equal(t, model.StatusPending, req.Status)
	assert.Equal(t, int64(1), req.Version)

	entries := f.auditEntriesFor(t, req.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionRequestCreated, entries[0].Action)
	assert.Equal(t, model.EntityRequest, entries[0].EntityType)
}

func TestCreateRequestRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, model.CreateRequestInput{
		Type: "escalation", RequesterEmail: "subject@example.com",
	}, testCaller())
	assert.Equal(t, apperrors.ErrValidation, errType(err))

	_, err = f.manager.Create(ctx, model.CreateRequestInput{
		Type: "export", RequesterEmail: "not-an-email",
	}, testCaller())
	assert.Equal(t, apperrors.ErrValidation, errType(err))
}

// Every (status, action) pair outside the transition table must be refused
// with INVALID_STATE_TRANSITION and leave no audit entry behind.
func TestDisallowedTransitionsRefused(t *testing.T) {
	statuses := []model.RequestStatus{
		model.StatusPending, model.StatusInProgress,
		model.StatusCompleted, model.StatusRejected,
	}
	invoke := map[lifecycleAction]func(f *fixture, id string) error{
		actAssign: func(f *fixture, id string) error {
			_, err := f.manager.Assign(context.Background(), id, "admin-2", testCaller())
			return err
		},
		actAddNote: func(f *fixture, id string) error {
			_, err := f.manager.AddNote(context.Background(), id, "a note", testCaller())
			return err
		},
		actVerify: func(f *fixture, id string) error {
			_, err := f.manager.Verify(context.Background(), id, testCaller())
			return err
		},
		actStart: func(f *fixture, id string) error {
			_, err := f.manager.StartProcessing(context.Background(), id, testCaller())
			return err
		},
		actComplete: func(f *fixture, id string) error {
			_, err := f.manager.Complete(context.Background(), id, testCaller())
			return err
		},
		actReject: func(f *fixture, id string) error {
			_, err := f.manager.Reject(context.Background(), id, "duplicate request", testCaller())
			return err
		},
		actAckRetention: func(f *fixture, id string) error {
			_, err := f.manager.AcknowledgeRetention(context.Background(), id, testCaller())
			return err
		},
	}

	for action, call := range invoke {
		for _, status := range statuses {
			if stateAllowed(action, status) {
				continue
			}
			f := newFixture(t, nil)
			req := f.createRequest(t, "deletion")
			f.forceStatus(t, req.ID, status)
			before := len(f.auditEntriesFor(t, req.ID))

			err := call(f, req.ID)
			if errType(err) != apperrors.ErrInvalidStateTransition {
				t.Errorf("%s in %s: error = %v, want INVALID_STATE_TRANSITION", action, status, err)
			}
			if after := len(f.auditEntriesFor(t, req.ID)); after != before {
				t.Errorf("%s in %s: audit entries %d -> %d, refused transition must not log", action, status, before, after)
			}
		}
	}
}

func TestTransitionWritesExactlyOneAuditEntry(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "rectification")

	_, err := f.manager.Assign(context.Background(), req.ID, "admin-2", testCaller())
	require.NoError(t, err)
	_, err = f.manager.Verify(context.Background(), req.ID, testCaller())
	require.NoError(t, err)
	_, err = f.manager.StartProcessing(context.Background(), req.ID, testCaller())
	require.NoError(t, err)

	entries := f.auditEntriesFor(t, req.ID)
	require.Len(t, entries, 4) // created + assigned + verified + processed
	counts := map[model.AuditAction]int{}
	for _, e := range entries {
		counts[e.Action]++
	}
	assert.Equal(t, 1, counts[model.ActionRequestAssigned])
	assert.Equal(t, 1, counts[model.ActionRequestVerified])
	assert.Equal(t, 1, counts[model.ActionRequestProcessed])
}

// racingStore simulates another admin committing between the read and the
// commit of a transition.
type racingStore struct {
	*MemoryRequestStore
	raceOnce sync.Once
}

func (s *racingStore) Get(ctx context.Context, id string) (*model.Request, error) {
	req, err := s.MemoryRequestStore.Get(ctx, id)
	if err == nil {
		s.raceOnce.Do(func() {
			s.mu.Lock()
			s.requests[id].Version++
			s.mu.Unlock()
		})
	}
	return req, err
}

func TestConcurrentTransitionConflicts(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "export")
	ctx := context.Background()

	// Store-level: a commit against a stale version is refused outright.
	stale := req.Version
	_, err := f.manager.Assign(ctx, req.ID, "admin-2", testCaller())
	require.NoError(t, err)
	err = f.requests.CommitTransition(ctx, req, stale,
		NewEntry(model.ActionNoteAdded, model.EntityRequest, req.ID, testCaller(), "stale", nil))
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	// Manager-level: the losing admin sees CONCURRENCY_CONFLICT.
	racing := &racingStore{MemoryRequestStore: f.requests}
	manager := NewLifecycleManager(racing, f.orch, slaWindow, warningWindow)
	_, err = manager.AddNote(ctx, req.ID, "second opinion", testCaller())
	assert.Equal(t, apperrors.ErrConcurrencyConflict, errType(err))
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "access")

	_, err := f.manager.Reject(context.Background(), req.ID, "  ", testCaller())
	assert.Equal(t, apperrors.ErrValidation, errType(err))

	rejected, err := f.manager.Reject(context.Background(), req.ID, "identity could not be verified", testCaller())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.Equal(t, "identity could not be verified", rejected.RejectedReason)
}

func TestCompleteExportRequiresFinishedExportJob(t *testing.T) {
	f := newFixture(t, nil, &fakeDomain{key: "profile", count: 1, exportData: []byte(`{}`)})
	req := f.createRequest(t, "export")
	ctx := context.Background()

	_, err := f.manager.StartProcessing(ctx, req.ID, testCaller())
	require.NoError(t, err)

	_, err = f.manager.Complete(ctx, req.ID, testCaller())
	assert.Equal(t, apperrors.ErrPreconditionNotMet, errType(err))

	job, err := f.orch.StartExport(ctx, req, nil, testCaller())
	require.NoError(t, err)
	waitForJob(t, f.orch, job.ID)

	completed, err := f.manager.Complete(ctx, req.ID, testCaller())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, completed.Status)
	assert.NotEmpty(t, completed.DownloadURL)
	assert.NotNil(t, completed.CompletedAt)
}

func TestCompleteDeletionRequiresAcknowledgedRetention(t *testing.T) {
	policy := NewPolicyTable([]model.RetentionRule{
		{Category: "transactions", PeriodYears: 7, LegalReason: "7yr tax law"},
	})
	f := newFixture(t, policy,
		&fakeDomain{key: "profile", count: 1},
		&fakeDomain{key: "transactions", count: 12},
	)
	req := f.createRequest(t, "deletion")
	ctx := context.Background()

	_, err := f.manager.StartProcessing(ctx, req.ID, testCaller())
	require.NoError(t, err)

	job, err := f.orch.StartDeletion(ctx, req, nil, testCaller())
	require.NoError(t, err)
	waitForJob(t, f.orch, job.ID)

	// Retained categories exist, so completion needs the acknowledgement.
	_, err = f.manager.Complete(ctx, req.ID, testCaller())
	assert.Equal(t, apperrors.ErrPreconditionNotMet, errType(err))

	_, err = f.manager.AcknowledgeRetention(ctx, req.ID, testCaller())
	require.NoError(t, err)

	completed, err := f.manager.Complete(ctx, req.ID, testCaller())
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, completed.Status)
}

func TestAcknowledgeRetentionOnlyForDeletion(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "export")

	_, err := f.manager.StartProcessing(context.Background(), req.ID, testCaller())
	require.NoError(t, err)

	_, err = f.manager.AcknowledgeRetention(context.Background(), req.ID, testCaller())
	assert.Equal(t, apperrors.ErrValidation, errType(err))
}

func TestTransitionOnMissingRequest(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.Verify(context.Background(), "no-such-id", testCaller())
	assert.Equal(t, apperrors.ErrNotFound, errType(err))
}

func TestListClampsNegativePaging(t *testing.T) {
	f := newFixture(t, nil)
	f.createRequest(t, "export")
	f.createRequest(t, "deletion")
	ctx := context.Background()

	reqs, err := f.requests.List(ctx, "", 100, -5)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	reqs, err = f.requests.List(ctx, "", -1, -1)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
}
