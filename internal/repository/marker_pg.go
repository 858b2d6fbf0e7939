package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresMarkerStore records per-(request, category) completion markers
// for deletion runs. A marker makes the category delete idempotent: a
// retry that finds a marker does no further work and writes no duplicate
// audit entry.
type PostgresMarkerStore struct {
	db *sqlx.DB
}

func NewPostgresMarkerStore(db *sqlx.DB) *PostgresMarkerStore {
	store := &PostgresMarkerStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresMarkerStore) Get(ctx context.Context, requestID, categoryKey string) (*model.CategoryOutcome, bool, error) {
	var out model.CategoryOutcome
	err := s.db.QueryRowxContext(ctx, `
		SELECT category_key, deleted_count, retained_count, legal_reason
		FROM deletion_markers
		WHERE request_id = $1 AND category_key = $2
	`, requestID, categoryKey).Scan(&out.CategoryKey, &out.DeletedCount, &out.RetainedCount, &out.LegalReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &out, true, nil
}

// Put writes the completion marker and the category's audit entry in one
// transaction. ON CONFLICT DO NOTHING keeps a concurrent retry from
// double-recording the same category.
func (s *PostgresMarkerStore) Put(ctx context.Context, requestID string, outcome model.CategoryOutcome, entry *model.AuditLogEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO deletion_markers (request_id, category_key, deleted_count, retained_count, legal_reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (request_id, category_key) DO NOTHING
	`, requestID, outcome.CategoryKey, outcome.DeletedCount, outcome.RetainedCount, outcome.LegalReason, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to another run; its audit entry already exists.
		return nil
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresMarkerStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS deletion_markers (
			request_id TEXT NOT NULL,
			category_key TEXT NOT NULL,
			deleted_count BIGINT NOT NULL DEFAULT 0,
			retained_count BIGINT NOT NULL DEFAULT 0,
			legal_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (request_id, category_key)
		)
	`)
	return err
}
