package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/logger"
	"github.com/complygate/complygate/internal/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// AuditRecorder is the append-only compliance event log. Record is
// synchronous: the triggering business action is not committed until its
// entry is durable. Nothing outside the retention sweep updates or deletes
// entries.
type AuditRecorder struct {
	store      AuditStore
	archiveDir string
	retention  time.Duration
	sweeps     singleflight.Group
}

func NewAuditRecorder(store AuditStore, archiveDir string, retention time.Duration) (*AuditRecorder, error) {
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return nil, err
	}
	if retention <= 0 {
		retention = 7 * 365 * 24 * time.Hour
	}
	return &AuditRecorder{
		store:      store,
		archiveDir: archiveDir,
		retention:  retention,
	}, nil
}

// NewEntry builds a populated entry for the given action and entity,
// stamped from the caller context.
func NewEntry(action model.AuditAction, entityType, entityID string, caller model.CallerContext, details string, metadata map[string]interface{}) *model.AuditLogEntry {
	at := caller.At
	if at.IsZero() {
		at = time.Now()
	}
	return &model.AuditLogEntry{
		ID:         uuid.New().String(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		AdminID:    caller.AdminID,
		IP:         caller.IP,
		Details:    details,
		Metadata:   metadata,
		CreatedAt:  at.UTC(),
	}
}

func (r *AuditRecorder) Record(ctx context.Context, entry *model.AuditLogEntry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := r.store.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("audit record: %w", err)
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
	return entry.ID, nil
}

func (r *AuditRecorder) Query(ctx context.Context, filter model.AuditFilter, page model.AuditPage) ([]*model.AuditLogEntry, int64, error) {
	return r.store.Query(ctx, filter, page)
}

// RetentionSweep archives entries older than the retention period to a
// local JSONL archive, then purges only entries confirmed archived. The
// singleflight group keeps a second sweep for the same window from running
// while one is in flight.
func (r *AuditRecorder) RetentionSweep(ctx context.Context, now time.Time) (archived, purged int64, err error) {
	cutoff := now.UTC().Add(-r.retention)
	window := cutoff.Format("2006-01-02")

	type sweepResult struct {
		archived int64
		purged   int64
	}
	v, err, _ := r.sweeps.Do(window, func() (interface{}, error) {
		res := sweepResult{}

		path := filepath.Join(r.archiveDir, "audit-archive-"+window+".jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return res, err
		}
		defer f.Close()
		encoder := json.NewEncoder(f)

		for {
			batch, err := r.store.ListUnarchivedBefore(ctx, cutoff, 1000)
			if err != nil {
				return res, err
			}
			if len(batch) == 0 {
				break
			}
			ids := make([]string, 0, len(batch))
			for _, entry := range batch {
				if err := encoder.Encode(entry); err != nil {
					return res, err
				}
				ids = append(ids, entry.ID)
			}
			// The durable copy must exist before archived_at is stamped.
			if err := f.Sync(); err != nil {
				return res, err
			}
			if err := r.store.MarkArchived(ctx, ids, now.UTC()); err != nil {
				return res, err
			}
			res.archived += int64(len(ids))
		}

		n, err := r.store.PurgeArchived(ctx, cutoff)
		if err != nil {
			return res, err
		}
		res.purged = n
		if res.archived > 0 || res.purged > 0 {
			logger.Info("audit retention sweep finished",
				"cutoff", cutoff, "archived", res.archived, "purged", res.purged)
		}
		return res, nil
	})
	if err != nil {
		return 0, 0, err
	}
	res := v.(sweepResult)
	return res.archived, res.purged, nil
}
