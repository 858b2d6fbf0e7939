package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/complygate/complygate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresRequestStore persists data-subject requests. Every transition
// commits together with its audit entry in one transaction, guarded by the
// version column: a stale version surfaces ErrVersionConflict and nothing
// is written.
type PostgresRequestStore struct {
	db *sqlx.DB
}

func NewPostgresRequestStore(db *sqlx.DB) *PostgresRequestStore {
	store := &PostgresRequestStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

const requestColumns = `id, type, requester_email, user_id, status, details, assigned_to,
	rejected_reason, download_url, created_at, verified_at, completed_at, retained_ack_at, version`

func (s *PostgresRequestStore) Create(ctx context.Context, req *model.Request, entry *model.AuditLogEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requests (
			id, type, requester_email, user_id, status, details, assigned_to,
			rejected_reason, download_url, created_at, verified_at, completed_at, retained_ack_at, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, req.ID, req.Type, req.RequesterEmail, req.UserID, req.Status, req.Details, req.AssignedTo,
		req.RejectedReason, req.DownloadURL, req.CreatedAt, req.VerifiedAt, req.CompletedAt, req.RetainedAckAt, req.Version)
	if err != nil {
		return err
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresRequestStore) Get(ctx context.Context, id string) (*model.Request, error) {
	var req model.Request
	err := s.db.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM requests WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *PostgresRequestStore) List(ctx context.Context, status model.RequestStatus, limit, offset int) ([]*model.Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*model.Request, 0, limit)
	for rows.Next() {
		var req model.Request
		if err := rows.StructScan(&req); err != nil {
			return nil, err
		}
		results = append(results, &req)
	}
	return results, rows.Err()
}

// CommitTransition persists the mutated request and its audit entry as one
// atomic unit. If the audit insert fails the transition is rolled back; if
// the version no longer matches nothing is updated.
func (s *PostgresRequestStore) CommitTransition(ctx context.Context, req *model.Request, expectedVersion int64, entry *model.AuditLogEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE requests
		SET status = $2, details = $3, assigned_to = $4, rejected_reason = $5,
		    download_url = $6, verified_at = $7, completed_at = $8, retained_ack_at = $9,
		    version = version + 1
		WHERE id = $1 AND version = $10
	`, req.ID, req.Status, req.Details, req.AssignedTo, req.RejectedReason,
		req.DownloadURL, req.VerifiedAt, req.CompletedAt, req.RetainedAckAt, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	req.Version = expectedVersion + 1
	return nil
}

func (s *PostgresRequestStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			requester_email TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			assigned_to TEXT NOT NULL DEFAULT '',
			rejected_reason TEXT NOT NULL DEFAULT '',
			download_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			verified_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			retained_ack_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status, created_at DESC)`)
	return nil
}
