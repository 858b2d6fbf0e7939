package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/complygate/complygate/internal/model"
	"github.com/complygate/complygate/internal/pkg/apperrors"
	"github.com/complygate/complygate/internal/pkg/metrics"
	"github.com/complygate/complygate/internal/repository"
	"github.com/google/uuid"
)

// ConsentLedger is the append-only per-user/per-type consent history.
// Every grant and withdrawal commits together with its audit entry; the
// current status of a (user, type) pair is the newest record.
type ConsentLedger struct {
	store ConsentStore
}

func NewConsentLedger(store ConsentStore) *ConsentLedger {
	return &ConsentLedger{store: store}
}

func (l *ConsentLedger) CreateType(ctx context.Context, in model.ConsentTypeInput, now time.Time) (*model.ConsentType, error) {
	ct, err := model.NewConsentType(in.Slug, in.Name, in.Description, in.LegalBasis, in.Required, now)
	if err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}
	if err := l.store.CreateType(ctx, ct); err != nil {
		if errors.Is(err, repository.ErrDuplicateSlug) {
			return nil, apperrors.NewValidation(fmt.Sprintf("consent type %q already exists", in.Slug))
		}
		return nil, apperrors.Wrap(err)
	}
	return ct, nil
}

func (l *ConsentLedger) UpdateType(ctx context.Context, slug string, in model.ConsentTypeInput) (*model.ConsentType, error) {
	ct, err := l.store.GetTypeBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound(fmt.Sprintf("consent type %q not found", slug))
		}
		return nil, apperrors.Wrap(err)
	}

	basis := model.ParseLegalBasis(in.LegalBasis)
	if basis == model.BasisUnknown {
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown legal basis %q", in.LegalBasis))
	}
	ct.Name = in.Name
	ct.Description = in.Description
	ct.LegalBasis = basis
	ct.Required = in.Required
	if in.Active != nil {
		ct.Active = *in.Active
	}
	if err := l.store.UpdateType(ctx, ct); err != nil {
		return nil, apperrors.Wrap(err)
	}
	return ct, nil
}

func (l *ConsentLedger) ListTypes(ctx context.Context) ([]*model.ConsentType, error) {
	return l.store.ListTypes(ctx)
}

func (l *ConsentLedger) typeBySlug(ctx context.Context, slug string) (*model.ConsentType, error) {
	ct, err := l.store.GetTypeBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound(fmt.Sprintf("consent type %q not found", slug))
		}
		return nil, apperrors.Wrap(err)
	}
	return ct, nil
}

// Grant appends a grant record (or an explicit denial when granted is
// false) and audits it as one atomic unit.
func (l *ConsentLedger) Grant(ctx context.Context, userID, slug string, granted bool, source model.ConsentSource, caller model.CallerContext) (*model.ConsentRecord, error) {
	ct, err := l.typeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if source == model.SourceUnknown {
		return nil, apperrors.NewValidation("unknown consent source")
	}

	at := caller.At
	if at.IsZero() {
		at = time.Now()
	}
	rec := &model.ConsentRecord{
		ID:            uuid.New().String(),
		UserID:        userID,
		ConsentTypeID: ct.ID,
		Granted:       granted,
		Source:        source,
		CreatedAt:     at.UTC(),
	}
	action := model.ActionConsentGranted
	if !granted {
		action = model.ActionConsentDenied
	}
	entry := NewEntry(action, model.EntityConsent, rec.ID, caller,
		fmt.Sprintf("consent %s for type %s", decision(granted), ct.Slug),
		map[string]interface{}{"consent_type": ct.Slug, "granted": granted, "source": string(source)})
	entry.ActingUserID = userID

	if err := l.store.Append(ctx, rec, entry); err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
	return rec, nil
}

// Withdraw supersedes the current grant with a new withdrawal record. The
// prior record is never mutated.
func (l *ConsentLedger) Withdraw(ctx context.Context, userID, slug string, source model.ConsentSource, caller model.CallerContext) (*model.ConsentRecord, error) {
	ct, err := l.typeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if source == model.SourceUnknown {
		return nil, apperrors.NewValidation("unknown consent source")
	}

	now := caller.At
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	rec := &model.ConsentRecord{
		ID:            uuid.New().String(),
		UserID:        userID,
		ConsentTypeID: ct.ID,
		Granted:       true,
		WithdrawnAt:   &now,
		Source:        source,
		CreatedAt:     now,
	}
	entry := NewEntry(model.ActionConsentWithdrawn, model.EntityConsent, rec.ID, caller,
		fmt.Sprintf("consent withdrawn for type %s", ct.Slug),
		map[string]interface{}{"consent_type": ct.Slug})
	entry.ActingUserID = userID

	if err := l.store.Append(ctx, rec, entry); err != nil {
		return nil, apperrors.Wrap(err)
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Action)).Inc()
	return rec, nil
}

// Current returns the most recent record for the (user, type) pair.
func (l *ConsentLedger) Current(ctx context.Context, userID, slug string) (*model.ConsentRecord, error) {
	ct, err := l.typeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	rec, err := l.store.Current(ctx, userID, ct.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("no consent record for user")
		}
		return nil, apperrors.Wrap(err)
	}
	return rec, nil
}

// History yields the user's records oldest-first. The sequence is lazy
// (pages are fetched as consumed) and restartable: each range restarts
// from the beginning.
func (l *ConsentLedger) History(ctx context.Context, userID, slug string) (iter.Seq2[*model.ConsentRecord, error], error) {
	ct, err := l.typeBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	const pageSize = 100
	return func(yield func(*model.ConsentRecord, error) bool) {
		offset := 0
		for {
			page, err := l.store.HistoryPage(ctx, userID, ct.ID, pageSize, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			offset += len(page)
		}
	}, nil
}

// Rate returns granted/(granted+denied) as a percentage in [0,100], and 0
// when no decisions exist.
func (l *ConsentLedger) Rate(ctx context.Context, slug string) (float64, error) {
	ct, err := l.typeBySlug(ctx, slug)
	if err != nil {
		return 0, err
	}
	granted, denied, err := l.store.RateCounts(ctx, ct.ID)
	if err != nil {
		return 0, apperrors.Wrap(err)
	}
	total := granted + denied
	if total == 0 {
		return 0, nil
	}
	return float64(granted) / float64(total) * 100, nil
}

func decision(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}
