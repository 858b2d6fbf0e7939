package service

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordedEntriesAreImmutable(t *testing.T) {
	store := NewMemoryAuditStore()
	recorder, err := NewAuditRecorder(store, t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	entry := NewEntry(model.ActionNoteAdded, model.EntityRequest, "req-1", testCaller(),
		"original details", map[string]interface{}{"k": "v"})
	id, err := recorder.Record(ctx, entry)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Mutating the caller's copy after the fact must not reach the log.
	entry.Details = "tampered"
	entry.Metadata["k"] = "tampered"

	got, _, err := recorder.Query(ctx, model.AuditFilter{EntityID: "req-1"}, model.AuditPage{Size: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "original details", got[0].Details)
	assert.Equal(t, "v", got[0].Metadata["k"])

	// Mutating a queried entry must not reach the log either.
	got[0].Details = "also tampered"
	again, _, err := recorder.Query(ctx, model.AuditFilter{EntityID: "req-1"}, model.AuditPage{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "original details", again[0].Details)
}

func TestQueryCapsAbsurdPageNumbers(t *testing.T) {
	store := NewMemoryAuditStore()
	recorder, err := NewAuditRecorder(store, t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = recorder.Record(ctx, NewEntry(model.ActionNoteAdded, model.EntityRequest,
		"req-1", testCaller(), "note", nil))
	require.NoError(t, err)

	entries, total, err := recorder.Query(ctx, model.AuditFilter{},
		model.AuditPage{Number: math.MaxInt, Size: 50})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int64(1), total)
}

func TestQueryFiltersAndPagination(t *testing.T) {
	store := NewMemoryAuditStore()
	recorder, err := NewAuditRecorder(store, t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := NewEntry(model.ActionNoteAdded, model.EntityRequest, "req-1",
			model.CallerContext{AdminID: "admin-1", At: base.Add(time.Duration(i) * time.Hour)},
			"note", nil)
		_, err := recorder.Record(ctx, e)
		require.NoError(t, err)
	}
	e := NewEntry(model.ActionDataDeleted, model.EntityUserData, "req-2",
		model.CallerContext{AdminID: "admin-2", At: base.Add(10 * time.Hour)}, "deleted", nil)
	e.ActingUserID = "user-9"
	_, err = recorder.Record(ctx, e)
	require.NoError(t, err)

	byAction, total, err := recorder.Query(ctx,
		model.AuditFilter{Action: model.ActionDataDeleted}, model.AuditPage{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, byAction, 1)
	assert.Equal(t, "user-9", byAction[0].ActingUserID)

	byUser, total, err := recorder.Query(ctx,
		model.AuditFilter{UserID: "user-9"}, model.AuditPage{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, byUser, 1)

	from := base.Add(2 * time.Hour)
	to := base.Add(3 * time.Hour)
	window, total, err := recorder.Query(ctx,
		model.AuditFilter{From: &from, To: &to}, model.AuditPage{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, window, 2)

	// Newest first, two per page.
	page1, total, err := recorder.Query(ctx, model.AuditFilter{}, model.AuditPage{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))

	page3, _, err := recorder.Query(ctx, model.AuditFilter{}, model.AuditPage{Number: 3, Size: 2})
	require.NoError(t, err)
	assert.Len(t, page3, 2)
	assert.True(t, page1[1].CreatedAt.After(page3[0].CreatedAt))
}

func TestRetentionSweepArchivesThenPurges(t *testing.T) {
	store := NewMemoryAuditStore()
	archiveDir := t.TempDir()
	retention := 7 * 365 * 24 * time.Hour
	recorder, err := NewAuditRecorder(store, archiveDir, retention)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	old := NewEntry(model.ActionRequestCreated, model.EntityRequest, "ancient", model.CallerContext{
		AdminID: "admin-1", At: now.Add(-retention - 24*time.Hour),
	}, "old entry", nil)
	fresh := NewEntry(model.ActionRequestCreated, model.EntityRequest, "recent", model.CallerContext{
		AdminID: "admin-1", At: now.Add(-time.Hour),
	}, "fresh entry", nil)
	_, err = recorder.Record(ctx, old)
	require.NoError(t, err)
	_, err = recorder.Record(ctx, fresh)
	require.NoError(t, err)

	archived, purged, err := recorder.RetentionSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)
	assert.Equal(t, int64(1), purged)

	// The fresh entry survives in the store.
	remaining, total, err := recorder.Query(ctx, model.AuditFilter{}, model.AuditPage{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].EntityID)

	// The old entry survives in the archive file.
	cutoff := now.Add(-retention).Format("2006-01-02")
	f, err := os.Open(filepath.Join(archiveDir, "audit-archive-"+cutoff+".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	found := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e model.AuditLogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		if e.EntityID == "ancient" {
			found = true
		}
	}
	require.NoError(t, scanner.Err())
	assert.True(t, found, "archived entry missing from JSONL file")
}

func TestRetentionSweepIdempotent(t *testing.T) {
	store := NewMemoryAuditStore()
	retention := 7 * 365 * 24 * time.Hour
	recorder, err := NewAuditRecorder(store, t.TempDir(), retention)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now().UTC()
	old := NewEntry(model.ActionNoteAdded, model.EntityRequest, "req-1", model.CallerContext{
		AdminID: "admin-1", At: now.Add(-retention - time.Hour),
	}, "old", nil)
	_, err = recorder.Record(ctx, old)
	require.NoError(t, err)

	archived, purged, err := recorder.RetentionSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archived)
	assert.Equal(t, int64(1), purged)

	archived, purged, err = recorder.RetentionSweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, archived)
	assert.Zero(t, purged)
}

func TestConcurrentSweepsDoNotDouble(t *testing.T) {
	store := NewMemoryAuditStore()
	retention := 7 * 365 * 24 * time.Hour
	recorder, err := NewAuditRecorder(store, t.TempDir(), retention)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		e := NewEntry(model.ActionNoteAdded, model.EntityRequest, "req-1", model.CallerContext{
			AdminID: "admin-1", At: now.Add(-retention - time.Duration(i+1)*time.Hour),
		}, "old", nil)
		_, err := recorder.Record(ctx, e)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	var totalArchived int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archived, _, err := recorder.RetentionSweep(ctx, now)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			totalArchived += archived
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Shared results from the single in-flight sweep may be reported by
	// several callers, but the store ends up empty exactly once.
	_, total, err := recorder.Query(ctx, model.AuditFilter{}, model.AuditPage{Size: 100})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.GreaterOrEqual(t, totalArchived, int64(10))
}
