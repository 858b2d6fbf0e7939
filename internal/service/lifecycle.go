package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/pkg/metrics"
	"github.com/complygate/complygate/internal/repository"
)

// lifecycleAction names the operations of the request state machine.
type lifecycleAction string

const (
	actAssign       lifecycleAction = "assign"
	actAddNote      lifecycleAction = "add_note"
	actVerify       lifecycleAction = "verify"
	actStart        lifecycleAction = "start_processing"
	actComplete     lifecycleAction = "complete"
	actReject       lifecycleAction = "reject"
	actAckRetention lifecycleAction = "acknowledge_retention"
)

// allowedStates is the full transition table. Any (state, action) pair not
// listed here is refused with INVALID_STATE_TRANSITION.
var allowedStates = map[lifecycleAction][]model.RequestStatus{
	actAssign:       {model.StatusPending, model.StatusInProgress},
	actAddNote:      {model.StatusPending, model.StatusInProgress, model.StatusCompleted, model.StatusRejected},
	actVerify:       {model.StatusPending},
	actStart:        {model.StatusPending},
	actComplete:     {model.StatusInProgress},
	actReject:       {model.StatusPending, model.StatusInProgress},
	actAckRetention: {model.StatusInProgress},
}

// LifecycleManager owns the request state machine. Every transition is
// committed together with exactly one audit entry, guarded by the version
// token read at the start of the operation, so concurrent admin actions
// surface CONCURRENCY_CONFLICT instead of overwriting each other.
type LifecycleManager struct {
	requests      RequestStore
	orchestrator  *Orchestrator
	slaWindow     time.Duration
	warningWindow time.Duration
}

func NewLifecycleManager(requests RequestStore, orchestrator *Orchestrator, slaWindow, warningWindow time.Duration) *LifecycleManager {
	if slaWindow <= 0 {
		slaWindow = 30 * 24 * time.Hour
	}
	if warningWindow <= 0 {
		warningWindow = 5 * 24 * time.Hour
	}
	return &LifecycleManager{
		requests:      requests,
		orchestrator:  orchestrator,
		slaWindow:     slaWindow,
		warningWindow: warningWindow,
	}
}

// SLAWindow exposes the configured response window.
func (m *LifecycleManager) SLAWindow() time.Duration { return m.slaWindow }

// Create registers a new data-subject request from the intake form. The
// deadline is fixed here and never moves.
func (m *LifecycleManager) Create(ctx context.Context, in model.CreateRequestInput, caller model.CallerContext) (*model.Request, error) {
	req, err := model.NewRequest(in.Type, in.RequesterEmail, in.UserID, in.Details, caller.At)
	if err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}
	entry := NewEntry(model.ActionRequestCreated, model.EntityRequest, req.ID, caller,
		fmt.Sprintf("%s request submitted by %s", req.Type, req.RequesterEmail),
		map[string]interface{}{"type": string(req.Type)})
	entry.ActingUserID = req.UserID

	if err := m.requests.Create(ctx, req, entry); err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
	return req, nil
}

func (m *LifecycleManager) Get(ctx context.Context, id string) (*model.Request, error) {
	req, err := m.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound(fmt.Sprintf("request %s not found", id))
		}
		return nil, apperrors.Wrap(err)
	}
	return req, nil
}

func (m *LifecycleManager) List(ctx context.Context, status model.RequestStatus, limit, offset int) ([]*model.Request, error) {
	return m.requests.List(ctx, status, limit, offset)
}

// Status reports the SLA state of a request at the given instant.
func (m *LifecycleManager) Status(now time.Time, req *model.Request) SLAStatus {
	return DeadlineStatus(now, req, m.slaWindow, m.warningWindow)
}

// Assign sets the handling admin. Valid in any non-terminal state.
func (m *LifecycleManager) Assign(ctx context.Context, id, adminID string, caller model.CallerContext) (*model.Request, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, apperrors.NewValidation("admin id is required")
	}
	return m.transition(ctx, id, actAssign, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		req.AssignedTo = adminID
		return NewEntry(model.ActionRequestAssigned, model.EntityRequest, req.ID, caller,
			fmt.Sprintf("request assigned to %s", adminID),
			map[string]interface{}{"assigned_to": adminID}), nil
	})
}

// AddNote attaches a note. Valid in any state; the status is unchanged.
func (m *LifecycleManager) AddNote(ctx context.Context, id, text string, caller model.CallerContext) (*model.Request, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidation("note text is required")
	}
	return m.transition(ctx, id, actAddNote, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		return NewEntry(model.ActionNoteAdded, model.EntityRequest, req.ID, caller, text, nil), nil
	})
}

// Verify marks the requester's identity as confirmed.
func (m *LifecycleManager) Verify(ctx context.Context, id string, caller model.CallerContext) (*model.Request, error) {
	return m.transition(ctx, id, actVerify, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		at := caller.At.UTC()
		req.VerifiedAt = &at
		return NewEntry(model.ActionRequestVerified, model.EntityRequest, req.ID, caller,
			"requester identity verified", nil), nil
	})
}

// StartProcessing moves pending → in_progress.
func (m *LifecycleManager) StartProcessing(ctx context.Context, id string, caller model.CallerContext) (*model.Request, error) {
	return m.transition(ctx, id, actStart, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		req.Status = model.StatusInProgress
		return NewEntry(model.ActionRequestProcessed, model.EntityRequest, req.ID, caller,
			"processing started",
			map[string]interface{}{"stage": "start"}), nil
	})
}

// AcknowledgeRetention records the admin's sign-off on categories that
// survived a deletion run for legal reasons. Completing a deletion request
// with retained or failed categories requires this first.
func (m *LifecycleManager) AcknowledgeRetention(ctx context.Context, id string, caller model.CallerContext) (*model.Request, error) {
	return m.transition(ctx, id, actAckRetention, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		if req.Type != model.RequestDeletion {
			return nil, apperrors.NewValidation("only deletion requests carry retention acknowledgements")
		}
		at := caller.At.UTC()
		req.RetainedAckAt = &at
		return NewEntry(model.ActionRetentionAcknowledged, model.EntityRequest, req.ID, caller,
			"retained categories acknowledged", nil), nil
	})
}

// Complete moves in_progress → completed. Export-like requests require a
// finished export run; deletion requests require a finished deletion run,
// with retained or failed categories acknowledged.
func (m *LifecycleManager) Complete(ctx context.Context, id string, caller model.CallerContext) (*model.Request, error) {
	return m.transition(ctx, id, actComplete, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		switch {
		case req.Type.NeedsExportArtifact():
			job, err := m.orchestrator.LatestJob(ctx, req.ID, model.JobExport)
			if err != nil || job.State != model.JobCompleted || job.Export == nil {
				return nil, apperrors.New(apperrors.ErrPreconditionNotMet,
					"no completed export for this request", nil)
			}
			req.DownloadURL = job.Export.DownloadURL
		case req.Type == model.RequestDeletion:
			job, err := m.orchestrator.LatestJob(ctx, req.ID, model.JobDeletion)
			if err != nil || !job.State.Done() || job.State == model.JobFailed || job.State == model.JobCancelled {
				return nil, apperrors.New(apperrors.ErrPreconditionNotMet,
					"no finished deletion run for this request", nil)
			}
			if needsAcknowledgement(job) && req.RetainedAckAt == nil {
				return nil, apperrors.New(apperrors.ErrPreconditionNotMet,
					"retained categories must be acknowledged before completion", nil)
			}
		}
		at := caller.At.UTC()
		req.Status = model.StatusCompleted
		req.CompletedAt = &at
		return NewEntry(model.ActionRequestProcessed, model.EntityRequest, req.ID, caller,
			"request completed",
			map[string]interface{}{"stage": "complete"}), nil
	})
}

// Reject moves pending/in_progress → rejected. The reason is mandatory.
func (m *LifecycleManager) Reject(ctx context.Context, id, reason string, caller model.CallerContext) (*model.Request, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidation("rejection reason is required")
	}
	return m.transition(ctx, id, actReject, caller, func(req *model.Request) (*model.AuditLogEntry, error) {
		req.Status = model.StatusRejected
		req.RejectedReason = reason
		return NewEntry(model.ActionRequestRejected, model.EntityRequest, req.ID, caller,
			reason, map[string]interface{}{"reason": reason}), nil
	})
}

// needsAcknowledgement reports whether the deletion run left anything an
// admin must sign off on.
func needsAcknowledgement(job *model.Job) bool {
	if job.State == model.JobCompletedWithErrors {
		return true
	}
	for _, out := range job.Outcomes {
		if out.RetainedCount > 0 || out.Error != "" {
			return true
		}
	}
	return false
}

// transition loads the request, checks the transition table, applies the
// mutation, and commits it atomically with its audit entry against the
// version read here.
func (m *LifecycleManager) transition(ctx context.Context, id string, action lifecycleAction, caller model.CallerContext, mutate func(*model.Request) (*model.AuditLogEntry, error)) (*model.Request, error) {
	req, err := m.Get(ctx, id)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(action), "not_found").Inc()
		return nil, err
	}

	if !stateAllowed(action, req.Status) {
		metrics.TransitionsTotal.WithLabelValues(string(action), "invalid_state").Inc()
		return nil, apperrors.NewInvalidTransition(
			fmt.Sprintf("action %s is not allowed in status %s", action, req.Status))
	}

	expectedVersion := req.Version
	entry, err := mutate(req)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(action), "precondition").Inc()
		return nil, err
	}

	if err := m.requests.CommitTransition(ctx, req, expectedVersion, entry); err != nil {
		switch {
		case errors.Is(err, repository.ErrVersionConflict):
			metrics.TransitionsTotal.WithLabelValues(string(action), "conflict").Inc()
			return nil, apperrors.New(apperrors.ErrConcurrencyConflict,
				"request was modified by another admin", err)
		case errors.Is(err, repository.ErrNotFound):
			metrics.TransitionsTotal.WithLabelValues(string(action), "not_found").Inc()
			return nil, apperrors.NewNotFound(fmt.Sprintf("request %s not found", id))
		default:
			return nil, apperrors.Wrap(err)
		}
	}
	metrics.TransitionsTotal.WithLabelValues(string(action), "ok").Inc()
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
	return req, nil
}

func stateAllowed(action lifecycleAction, status model.RequestStatus) bool {
	for _, s := range allowedStates[action] {
		if s == status {
			return true
		}
	}
	return false
}
