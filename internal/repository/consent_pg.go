package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/complygate/complygate/internal/model"
	"github.com/jmoiron/sqlx"
)

// PostgresConsentStore persists consent type definitions and the
// append-only consent record ledger. Records are never updated: a
// withdrawal appends a superseding row.
type PostgresConsentStore struct {
	db *sqlx.DB
}

func NewPostgresConsentStore(db *sqlx.DB) *PostgresConsentStore {
	store := &PostgresConsentStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresConsentStore) CreateType(ctx context.Context, ct *model.ConsentType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_types (id, slug, name, description, legal_basis, required, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ct.ID, ct.Slug, ct.Name, ct.Description, ct.LegalBasis, ct.Required, ct.Active, ct.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateSlug
	}
	return err
}

func (s *PostgresConsentStore) UpdateType(ctx context.Context, ct *model.ConsentType) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_types
		SET name = $2, description = $3, legal_basis = $4, required = $5, active = $6
		WHERE id = $1
	`, ct.ID, ct.Name, ct.Description, ct.LegalBasis, ct.Required, ct.Active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresConsentStore) GetTypeBySlug(ctx context.Context, slug string) (*model.ConsentType, error) {
	var ct model.ConsentType
	err := s.db.GetContext(ctx, &ct, `
		SELECT id, slug, name, description, legal_basis, required, active, created_at
		FROM consent_types WHERE slug = $1 LIMIT 1
	`, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ct, nil
}

func (s *PostgresConsentStore) ListTypes(ctx context.Context) ([]*model.ConsentType, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, slug, name, description, legal_basis, required, active, created_at
		FROM consent_types ORDER BY slug ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*model.ConsentType{}
	for rows.Next() {
		var ct model.ConsentType
		if err := rows.StructScan(&ct); err != nil {
			return nil, err
		}
		results = append(results, &ct)
	}
	return results, rows.Err()
}

// Append writes the consent record together with its audit entry in one
// transaction. If the audit insert fails the record is not observed.
func (s *PostgresConsentStore) Append(ctx context.Context, rec *model.ConsentRecord, entry *model.AuditLogEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consent_records (id, user_id, consent_type_id, granted, withdrawn_at, source, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.UserID, rec.ConsentTypeID, rec.Granted, rec.WithdrawnAt, rec.Source, rec.CreatedAt)
	if err != nil {
		return err
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresConsentStore) Current(ctx context.Context, userID, typeID string) (*model.ConsentRecord, error) {
	var rec model.ConsentRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT id, user_id, consent_type_id, granted, withdrawn_at, source, created_at
		FROM consent_records
		WHERE user_id = $1 AND consent_type_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, userID, typeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// HistoryPage returns one page of a user's consent history, oldest first.
func (s *PostgresConsentStore) HistoryPage(ctx context.Context, userID, typeID string, limit, offset int) ([]*model.ConsentRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, user_id, consent_type_id, granted, withdrawn_at, source, created_at
		FROM consent_records
		WHERE user_id = $1 AND consent_type_id = $2
		ORDER BY created_at ASC LIMIT $3 OFFSET $4
	`, userID, typeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*model.ConsentRecord, 0, limit)
	for rows.Next() {
		var rec model.ConsentRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, err
		}
		results = append(results, &rec)
	}
	return results, rows.Err()
}

// RateCounts returns how many grant and how many denial records exist for
// a consent type across all users. Withdrawal records are grant records
// with withdrawn_at set; they are neither a grant nor a denial decision.
func (s *PostgresConsentStore) RateCounts(ctx context.Context, typeID string) (int64, int64, error) {
	var granted, denied int64
	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE granted AND withdrawn_at IS NULL),
			COUNT(*) FILTER (WHERE NOT granted)
		FROM consent_records WHERE consent_type_id = $1
	`, typeID).Scan(&granted, &denied)
	return granted, denied, err
}

func (s *PostgresConsentStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS consent_types (
			id TEXT PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			legal_basis TEXT NOT NULL,
			required BOOLEAN NOT NULL DEFAULT false,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS consent_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			consent_type_id TEXT NOT NULL,
			granted BOOLEAN NOT NULL,
			withdrawn_at TIMESTAMPTZ,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_consent_records_pair ON consent_records(user_id, consent_type_id, created_at DESC)`)
	return nil
}
