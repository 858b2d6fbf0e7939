package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/pkg/logger"
	"github.com/complygate/complygate/internal/pkg/metrics"
	"github.com/complygate/complygate/internal/repository"
	"github.com/google/uuid"
)

// Orchestrator runs export and deletion over the registered data domains.
// Both run as background jobs with pollable status: an export may be
// cancelled before it finishes, a deletion may not (it is irreversible)
// but is resumable at category granularity through completion markers.
type Orchestrator struct {
	resolver      *InventoryResolver
	policy        PolicyTable
	markers       MarkerStore
	audit         *AuditRecorder
	jobs          JobStore
	exportDir     string
	retryAttempts int
	retryBackoff  time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewOrchestrator(resolver *InventoryResolver, policy PolicyTable, markers MarkerStore, audit *AuditRecorder, jobs JobStore, exportDir string, retryAttempts int, retryBackoff time.Duration) (*Orchestrator, error) {
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return nil, err
	}
	if retryAttempts <= 0 {
		retryAttempts = 3
	}
	if retryBackoff <= 0 {
		retryBackoff = 250 * time.Millisecond
	}
	return &Orchestrator{
		resolver:      resolver,
		policy:        policy,
		markers:       markers,
		audit:         audit,
		jobs:          jobs,
		exportDir:     exportDir,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
		cancels:       make(map[string]context.CancelFunc),
	}, nil
}

// Close waits for in-flight runs to finish.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

func (o *Orchestrator) Job(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("job not found")
		}
		return nil, apperrors.Wrap(err)
	}
	return job, nil
}

func (o *Orchestrator) LatestJob(ctx context.Context, requestID string, kind model.JobKind) (*model.Job, error) {
	job, err := o.jobs.LatestForRequest(ctx, requestID, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("no job for request")
		}
		return nil, apperrors.Wrap(err)
	}
	return job, nil
}

// StartExport queues an export run over the selected categories (empty
// selection means all) and returns immediately with the pollable job.
func (o *Orchestrator) StartExport(ctx context.Context, req *model.Request, selected []string, caller model.CallerContext) (*model.Job, error) {
	if req.UserID == "" {
		return nil, apperrors.NewValidation("request has no linked user")
	}
	keys, err := o.resolver.resolveSelection(selected)
	if err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	job := &model.Job{
		ID:        uuid.New().String(),
		Kind:      model.JobExport,
		RequestID: req.ID,
		UserID:    req.UserID,
		State:     model.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, apperrors.Wrap(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, job.ID)
			o.mu.Unlock()
			cancel()
		}()
		o.runExport(runCtx, job, keys, caller)
	}()
	return job, nil
}

// CancelExport aborts a running export. Deletion jobs cannot be cancelled.
func (o *Orchestrator) CancelExport(ctx context.Context, jobID string) error {
	job, err := o.Job(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Kind != model.JobExport {
		return apperrors.NewValidation("only export jobs can be cancelled")
	}
	if job.State.Done() {
		return apperrors.New(apperrors.ErrPreconditionNotMet, "job already finished", nil)
	}
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.ErrPreconditionNotMet, "job not running on this instance", nil)
	}
	cancel()
	return nil
}

func (o *Orchestrator) runExport(ctx context.Context, job *model.Job, keys []string, caller model.CallerContext) {
	start := time.Now()
	job.State = model.JobRunning
	_ = o.jobs.Save(ctx, job)

	result, err := o.buildExport(ctx, job, keys, caller)
	now := time.Now().UTC()
	job.FinishedAt = &now
	switch {
	case errors.Is(err, context.Canceled):
		job.State = model.JobCancelled
		job.Error = "export cancelled"
	case err != nil:
		job.State = model.JobFailed
		job.Error = err.Error()
		logger.Error("export run failed", "job", job.ID, "request", job.RequestID, "error", err.Error())
	default:
		job.State = model.JobCompleted
		job.Export = result
	}
	_ = o.jobs.Save(context.Background(), job)
	metrics.JobDuration.WithLabelValues(string(model.JobExport)).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) buildExport(ctx context.Context, job *model.Job, keys []string, caller model.CallerContext) (*model.ExportResult, error) {
	filename := fmt.Sprintf("export-%s-%s.zip", job.RequestID, job.ID)
	path := filepath.Join(o.exportDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	zw := zip.NewWriter(f)

	cleanup := func() {
		zw.Close()
		f.Close()
		os.Remove(path)
	}

	var totalBytes int64
	for _, key := range keys {
		domain, ok := o.resolver.Domain(key)
		if !ok {
			cleanup()
			return nil, fmt.Errorf("unknown data category %q", key)
		}
		var data []byte
		err := o.withRetry(ctx, func() error {
			var e error
			data, e = domain.Export(ctx, job.UserID)
			return e
		})
		if err != nil {
			cleanup()
			metrics.CategoryOutcomes.WithLabelValues(string(model.JobExport), "failed").Inc()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("export category %s: %w", key, err)
		}
		w, err := zw.Create(key + ".json")
		if err != nil {
			cleanup()
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			cleanup()
			return nil, err
		}
		totalBytes += int64(len(data))
		metrics.CategoryOutcomes.WithLabelValues(string(model.JobExport), "exported").Inc()
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	result := &model.ExportResult{
		RequestID:   job.RequestID,
		UserID:      job.UserID,
		Categories:  keys,
		TotalBytes:  totalBytes,
		ArchivePath: path,
		DownloadURL: "/v1/exports/" + filename,
		FinishedAt:  time.Now().UTC(),
	}

	entry := NewEntry(model.ActionDataExported, model.EntityUserData, job.RequestID, caller,
		fmt.Sprintf("exported %d categories for user %s", len(keys), job.UserID),
		map[string]interface{}{"categories": keys, "total_bytes": totalBytes})
	entry.ActingUserID = job.UserID
	if _, err := o.audit.Record(ctx, entry); err != nil {
		// No export without its audit record: remove the artifact.
		os.Remove(path)
		return nil, err
	}
	return result, nil
}

// StartDeletion queues a deletion run over the selected categories (empty
// selection means all). Re-running a request's deletion is safe: categories
// with completion markers are skipped. Explicitly selecting a legally
// retained category is refused outright; a full run skips it and records
// the retention exception instead.
func (o *Orchestrator) StartDeletion(ctx context.Context, req *model.Request, selected []string, caller model.CallerContext) (*model.Job, error) {
	if req.UserID == "" {
		return nil, apperrors.NewValidation("request has no linked user")
	}
	keys, err := o.resolver.resolveSelection(selected)
	if err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}
	if len(selected) > 0 {
		for _, key := range keys {
			if rule, ok := o.policy[key]; ok {
				return nil, apperrors.NewRetentionViolation(
					fmt.Sprintf("category %s is legally retained: %s", key, rule.LegalReason))
			}
		}
	}

	job := &model.Job{
		ID:        uuid.New().String(),
		Kind:      model.JobDeletion,
		RequestID: req.ID,
		UserID:    req.UserID,
		State:     model.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, apperrors.Wrap(err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// Deletion is irreversible and therefore never cancelled mid-run.
		o.runDeletion(context.Background(), job, keys, caller)
	}()
	return job, nil
}

func (o *Orchestrator) runDeletion(ctx context.Context, job *model.Job, keys []string, caller model.CallerContext) {
	start := time.Now()
	job.State = model.JobRunning
	_ = o.jobs.Save(ctx, job)

	result := o.deleteCategories(ctx, job, keys, caller)

	now := time.Now().UTC()
	job.FinishedAt = &now
	job.Outcomes = result.Outcomes
	if result.Failed > 0 {
		job.State = model.JobCompletedWithErrors
		job.Error = fmt.Sprintf("%d categories failed; retry to resume", result.Failed)
	} else {
		job.State = model.JobCompleted
	}
	_ = o.jobs.Save(context.Background(), job)
	metrics.JobDuration.WithLabelValues(string(model.JobDeletion)).Observe(time.Since(start).Seconds())
}

// deleteCategories walks the inventory in key order. Every category
// outcome is committed with its own audit entry, so a partial run leaves a
// complete, resumable record of what has and has not happened.
func (o *Orchestrator) deleteCategories(ctx context.Context, job *model.Job, keys []string, caller model.CallerContext) *model.DeletionResult {
	wanted := make(map[string]bool, len(keys))
	for _, key := range keys {
		wanted[key] = true
	}
	categories := o.resolver.Inventory(ctx, job.UserID)
	exceptions := EvaluateRetention(categories, o.policy)
	retainedBy := make(map[string]model.RetentionException, len(exceptions))
	for _, ex := range exceptions {
		retainedBy[ex.CategoryKey] = ex
	}

	result := &model.DeletionResult{RequestID: job.RequestID, UserID: job.UserID}
	for _, cat := range categories {
		if !wanted[cat.Key] {
			continue
		}
		// Completed marker: already handled on an earlier run, no new
		// audit entry, counts replayed from the marker.
		if prior, done, err := o.markers.Get(ctx, job.RequestID, cat.Key); err == nil && done {
			result.Outcomes = append(result.Outcomes, *prior)
			if prior.RetainedCount > 0 {
				result.Retained++
			}
			continue
		}

		if cat.Unavailable {
			result.Outcomes = append(result.Outcomes, model.CategoryOutcome{
				CategoryKey: cat.Key,
				Error:       "data domain unavailable",
			})
			result.Failed++
			metrics.CategoryOutcomes.WithLabelValues(string(model.JobDeletion), "unavailable").Inc()
			continue
		}

		if ex, retained := retainedBy[cat.Key]; retained {
			outcome := model.CategoryOutcome{
				CategoryKey:   cat.Key,
				RetainedCount: ex.RetainedCount,
				LegalReason:   ex.LegalReason,
			}
			entry := NewEntry(model.ActionRetentionApplied, model.EntityUserData, job.RequestID, caller,
				fmt.Sprintf("category %s retained: %s", cat.Key, ex.LegalReason),
				map[string]interface{}{"category": cat.Key, "retained_count": ex.RetainedCount, "legal_reason": ex.LegalReason})
			entry.ActingUserID = job.UserID
			if err := o.markers.Put(ctx, job.RequestID, outcome, entry); err != nil {
				outcome = model.CategoryOutcome{CategoryKey: cat.Key, Error: err.Error()}
				result.Failed++
			} else {
				result.Retained++
				metrics.CategoryOutcomes.WithLabelValues(string(model.JobDeletion), "retained").Inc()
				metrics.AuditEntriesTotal.WithLabelValues(string(model.ActionRetentionApplied)).Inc()
			}
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		domain, _ := o.resolver.Domain(cat.Key)
		var deleted int64
		err := o.withRetry(ctx, func() error {
			var e error
			deleted, e = domain.Delete(ctx, job.UserID)
			return e
		})
		if err != nil {
			result.Outcomes = append(result.Outcomes, model.CategoryOutcome{
				CategoryKey: cat.Key,
				Error:       err.Error(),
			})
			result.Failed++
			metrics.CategoryOutcomes.WithLabelValues(string(model.JobDeletion), "failed").Inc()
			continue
		}

		outcome := model.CategoryOutcome{CategoryKey: cat.Key, DeletedCount: deleted}
		entry := NewEntry(model.ActionDataDeleted, model.EntityUserData, job.RequestID, caller,
			fmt.Sprintf("category %s deleted (%d records)", cat.Key, deleted),
			map[string]interface{}{"category": cat.Key, "deleted_count": deleted})
		entry.ActingUserID = job.UserID
		if err := o.markers.Put(ctx, job.RequestID, outcome, entry); err != nil {
			// The domain delete succeeded but the marker did not commit;
			// the next run will redo the (idempotent) domain delete.
			result.Outcomes = append(result.Outcomes, model.CategoryOutcome{CategoryKey: cat.Key, Error: err.Error()})
			result.Failed++
			continue
		}
		metrics.CategoryOutcomes.WithLabelValues(string(model.JobDeletion), "deleted").Inc()
		metrics.AuditEntriesTotal.WithLabelValues(string(model.ActionDataDeleted)).Inc()
		result.Outcomes = append(result.Outcomes, outcome)
	}
	result.FinishedAt = time.Now().UTC()
	return result
}

// withRetry retries infrastructure failures with exponential backoff at
// category granularity.
func (o *Orchestrator) withRetry(ctx context.Context, fn func() error) error {
	backoff := o.retryBackoff
	var err error
	for attempt := 0; attempt < o.retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == o.retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
