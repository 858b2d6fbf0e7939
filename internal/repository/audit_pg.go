package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresAuditStore persists the append-only compliance event log. There
// is no update path: rows change only when the retention sweep stamps
// archived_at before the purge.
type PostgresAuditStore struct {
	db *sqlx.DB
}

func NewPostgresAuditStore(db *sqlx.DB) *PostgresAuditStore {
	store := &PostgresAuditStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresAuditStore) Insert(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry == nil {
		return nil
	}
	return insertAuditEntry(ctx, s.db, entry)
}

// insertAuditEntry takes sqlx.ExecerContext so the atomic business commits
// can reuse the same insert inside their transactions.
func insertAuditEntry(ctx context.Context, db sqlx.ExecerContext, entry *model.AuditLogEntry) error {
	metadataJSON, _ := json.Marshal(entry.Metadata)
	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, action, entity_type, entity_id, acting_user_id, admin_id,
			ip, details, metadata, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,
			$7,$8,$9,$10
		)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.ActingUserID, entry.AdminID,
		entry.IP, entry.Details, metadataJSON, entry.CreatedAt)
	return err
}

func (s *PostgresAuditStore) Query(ctx context.Context, filter model.AuditFilter, page model.AuditPage) ([]*model.AuditLogEntry, int64, error) {
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if filter.Action != "" {
		clauses = append(clauses, fmt.Sprintf("action = $%d", idx))
		args = append(args, filter.Action)
		idx++
	}
	if filter.EntityType != "" {
		clauses = append(clauses, fmt.Sprintf("entity_type = $%d", idx))
		args = append(args, filter.EntityType)
		idx++
	}
	if filter.EntityID != "" {
		clauses = append(clauses, fmt.Sprintf("entity_id = $%d", idx))
		args = append(args, filter.EntityID)
		idx++
	}
	if filter.UserID != "" {
		clauses = append(clauses, fmt.Sprintf("acting_user_id = $%d", idx))
		args = append(args, filter.UserID)
		idx++
	}
	if filter.From != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *filter.To)
		idx++
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_log"+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, action, entity_type, entity_id, acting_user_id, admin_id, ip, details, metadata, created_at, archived_at FROM audit_log` +
		where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, page.Limit(), page.Offset())

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*model.AuditLogEntry, 0, page.Limit())
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

func (s *PostgresAuditStore) ListUnarchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*model.AuditLogEntry, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, action, entity_type, entity_id, acting_user_id, admin_id, ip, details, metadata, created_at, archived_at
		FROM audit_log
		WHERE created_at < $1 AND archived_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*model.AuditLogEntry, 0, limit)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *PostgresAuditStore) MarkArchived(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE audit_log SET archived_at = ? WHERE id IN (?)`, at, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// PurgeArchived deletes only rows already confirmed archived, so no entry
// ever disappears without a durable copy existing first.
func (s *PostgresAuditStore) PurgeArchived(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM audit_log WHERE created_at < $1 AND archived_at IS NOT NULL
	`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanAuditEntry(rows *sqlx.Rows) (*model.AuditLogEntry, error) {
	var entry model.AuditLogEntry
	var metadataJSON []byte
	if err := rows.Scan(
		&entry.ID,
		&entry.Action,
		&entry.EntityType,
		&entry.EntityID,
		&entry.ActingUserID,
		&entry.AdminID,
		&entry.IP,
		&entry.Details,
		&metadataJSON,
		&entry.CreatedAt,
		&entry.ArchivedAt,
	); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &entry.Metadata)
	}
	return &entry, nil
}

func (s *PostgresAuditStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			acting_user_id TEXT NOT NULL DEFAULT '',
			admin_id TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			archived_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id, created_at DESC)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at DESC)`)
	return nil
}
