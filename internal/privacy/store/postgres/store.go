// Package postgres is the Entity Store on PostgreSQL. Each entity is a JSONB
// document in one table, keyed by kind and id, with the owning subject and an
// optional uniqueness key pulled out into columns.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"privacy/internal/privacy/models"
	id "privacy/pkg/domain"
	"privacy/pkg/platform/sentinel"
	txcontext "privacy/pkg/platform/tx"
)

type kind string

const (
	kindSubject    kind = "subject"
	kindConsent    kind = "consent"
	kindProcessing kind = "processing"
	kindRequest    kind = "request"
	kindBreach     kind = "breach"
	kindPolicy     kind = "policy"
	kindPIA        kind = "pia"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS privacy_documents (
	seq        BIGSERIAL,
	kind       TEXT NOT NULL,
	id         UUID NOT NULL,
	subject_id UUID NULL,
	unique_key TEXT NULL,
	body       JSONB NOT NULL,
	PRIMARY KEY (kind, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS privacy_documents_unique_key ON privacy_documents (kind, unique_key) WHERE unique_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS privacy_documents_subject ON privacy_documents (kind, subject_id, seq);
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate privacy documents: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullableSubject(subjectID id.SubjectID) *uuid.UUID {
	if subjectID.IsNil() {
		return nil
	}
	u := uuid.UUID(subjectID)
	return &u
}

func nullableKey(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func (s *Store) insert(ctx context.Context, k kind, docID uuid.UUID, subjectID id.SubjectID, uniqueKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	query := `INSERT INTO privacy_documents (kind, id, subject_id, unique_key, body) VALUES ($1, $2, $3, $4, $5)`
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, query, string(k), docID, nullableSubject(subjectID), nullableKey(uniqueKey), string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert %s %s: %w", k, docID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert %s: %w", k, err)
	}
	return nil
}

// upsert keeps the original seq so insertion order survives updates.
func (s *Store) upsert(ctx context.Context, k kind, docID uuid.UUID, subjectID id.SubjectID, uniqueKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	query := `
		INSERT INTO privacy_documents (kind, id, subject_id, unique_key, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, id) DO UPDATE SET unique_key = EXCLUDED.unique_key, body = EXCLUDED.body
	`
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, query, string(k), docID, nullableSubject(subjectID), nullableKey(uniqueKey), string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("upsert %s %s: %w", k, docID, sentinel.ErrConflict)
		}
		return fmt.Errorf("upsert %s: %w", k, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, k kind, docID uuid.UUID, uniqueKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	query := `UPDATE privacy_documents SET unique_key = $3, body = $4 WHERE kind = $1 AND id = $2`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query, string(k), docID, nullableKey(uniqueKey), string(body))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update %s %s: %w", k, docID, sentinel.ErrConflict)
		}
		return fmt.Errorf("update %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", k, err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func find[T any](ctx context.Context, s *Store, k kind, docID uuid.UUID) (*T, error) {
	var body []byte
	query := `SELECT body FROM privacy_documents WHERE kind = $1 AND id = $2`
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, string(k), docID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find %s: %w", k, err)
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return &v, nil
}

// list returns every document of a kind in insertion order, optionally
// filtered to one subject.
func list[T any](ctx context.Context, s *Store, k kind, subjectID *id.SubjectID) ([]*T, error) {
	query := `SELECT body FROM privacy_documents WHERE kind = $1 ORDER BY seq`
	args := []any{string(k)}
	if subjectID != nil {
		query = `SELECT body FROM privacy_documents WHERE kind = $1 AND subject_id = $2 ORDER BY seq`
		args = append(args, uuid.UUID(*subjectID))
	}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", k, err)
	}
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", k, err)
		}
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", k, err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", k, err)
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, k kind, docID uuid.UUID) (bool, error) {
	var found bool
	query := `SELECT EXISTS (SELECT 1 FROM privacy_documents WHERE kind = $1 AND id = $2)`
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, string(k), docID).Scan(&found); err != nil {
		return false, fmt.Errorf("check %s: %w", k, err)
	}
	return found, nil
}

// Subjects

func (s *Store) CreateSubject(ctx context.Context, subject *models.DataSubject) error {
	return s.insert(ctx, kindSubject, uuid.UUID(subject.ID), subject.ID, "", subject)
}

func (s *Store) FindSubject(ctx context.Context, subjectID id.SubjectID) (*models.DataSubject, error) {
	return find[models.DataSubject](ctx, s, kindSubject, uuid.UUID(subjectID))
}

func (s *Store) UpdateSubject(ctx context.Context, subject *models.DataSubject) error {
	return s.update(ctx, kindSubject, uuid.UUID(subject.ID), "", subject)
}

// DeleteSubject removes the subject, its consents and its processing records
// in one transaction. Rights requests are kept.
func (s *Store) DeleteSubject(ctx context.Context, subjectID id.SubjectID) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.Exec(ctx, s.db)
		res, err := exec.ExecContext(ctx,
			`DELETE FROM privacy_documents WHERE kind = $1 AND id = $2`,
			string(kindSubject), uuid.UUID(subjectID))
		if err != nil {
			return fmt.Errorf("delete subject: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete subject: %w", err)
		}
		if n == 0 {
			return sentinel.ErrNotFound
		}
		_, err = exec.ExecContext(ctx,
			`DELETE FROM privacy_documents WHERE kind = ANY($1) AND subject_id = $2`,
			pq.Array([]string{string(kindConsent), string(kindProcessing)}), uuid.UUID(subjectID))
		if err != nil {
			return fmt.Errorf("delete subject records: %w", err)
		}
		return nil
	})
}

func (s *Store) ListSubjects(ctx context.Context) ([]*models.DataSubject, error) {
	return list[models.DataSubject](ctx, s, kindSubject, nil)
}

// Consents

func (s *Store) AppendConsent(ctx context.Context, consent *models.ConsentRecord) error {
	return s.appendOwned(ctx, kindConsent, uuid.UUID(consent.ID), consent.SubjectID, consent)
}

// appendOwned inserts a subject-owned document, failing with ErrNotFound when
// the subject is gone. The existence check and insert share a transaction.
func (s *Store) appendOwned(ctx context.Context, k kind, docID uuid.UUID, subjectID id.SubjectID, v any) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		ok, err := s.exists(ctx, kindSubject, uuid.UUID(subjectID))
		if err != nil {
			return err
		}
		if !ok {
			return sentinel.ErrNotFound
		}
		return s.insert(ctx, k, docID, subjectID, "", v)
	})
}

func (s *Store) FindConsent(ctx context.Context, consentID id.ConsentID) (*models.ConsentRecord, error) {
	return find[models.ConsentRecord](ctx, s, kindConsent, uuid.UUID(consentID))
}

func (s *Store) UpdateConsent(ctx context.Context, consent *models.ConsentRecord) error {
	return s.update(ctx, kindConsent, uuid.UUID(consent.ID), "", consent)
}

func (s *Store) ListConsents(ctx context.Context, subjectID id.SubjectID) ([]*models.ConsentRecord, error) {
	return list[models.ConsentRecord](ctx, s, kindConsent, &subjectID)
}

func (s *Store) ListAllConsents(ctx context.Context) ([]*models.ConsentRecord, error) {
	return list[models.ConsentRecord](ctx, s, kindConsent, nil)
}

// Processing records

func (s *Store) AppendProcessing(ctx context.Context, record *models.DataProcessingRecord) error {
	return s.appendOwned(ctx, kindProcessing, uuid.UUID(record.ID), record.SubjectID, record)
}

func (s *Store) ListProcessing(ctx context.Context, subjectID id.SubjectID) ([]*models.DataProcessingRecord, error) {
	return list[models.DataProcessingRecord](ctx, s, kindProcessing, &subjectID)
}

func (s *Store) ListAllProcessing(ctx context.Context) ([]*models.DataProcessingRecord, error) {
	return list[models.DataProcessingRecord](ctx, s, kindProcessing, nil)
}

// Rights requests

func (s *Store) SaveRequest(ctx context.Context, request *models.DataAccessRequest) error {
	return s.upsert(ctx, kindRequest, uuid.UUID(request.ID), request.SubjectID, "", request)
}

func (s *Store) FindRequest(ctx context.Context, requestID id.AccessRequestID) (*models.DataAccessRequest, error) {
	return find[models.DataAccessRequest](ctx, s, kindRequest, uuid.UUID(requestID))
}

func (s *Store) ListRequestsBySubject(ctx context.Context, subjectID id.SubjectID) ([]*models.DataAccessRequest, error) {
	return list[models.DataAccessRequest](ctx, s, kindRequest, &subjectID)
}

func (s *Store) ListRequests(ctx context.Context) ([]*models.DataAccessRequest, error) {
	return list[models.DataAccessRequest](ctx, s, kindRequest, nil)
}

// Breaches

func (s *Store) SaveBreach(ctx context.Context, breach *models.DataBreach) error {
	return s.upsert(ctx, kindBreach, uuid.UUID(breach.ID), id.SubjectID(uuid.Nil), "", breach)
}

func (s *Store) FindBreach(ctx context.Context, breachID id.BreachID) (*models.DataBreach, error) {
	return find[models.DataBreach](ctx, s, kindBreach, uuid.UUID(breachID))
}

func (s *Store) ListBreaches(ctx context.Context) ([]*models.DataBreach, error) {
	return list[models.DataBreach](ctx, s, kindBreach, nil)
}

// Retention policies

func policyKey(p *models.RetentionPolicy) string {
	return p.DataCategory + "\x00" + p.Purpose
}

func (s *Store) CreatePolicy(ctx context.Context, policy *models.RetentionPolicy) error {
	return s.insert(ctx, kindPolicy, uuid.UUID(policy.ID), id.SubjectID(uuid.Nil), policyKey(policy), policy)
}

func (s *Store) UpdatePolicy(ctx context.Context, policy *models.RetentionPolicy) error {
	return s.update(ctx, kindPolicy, uuid.UUID(policy.ID), policyKey(policy), policy)
}

func (s *Store) FindPolicy(ctx context.Context, policyID id.PolicyID) (*models.RetentionPolicy, error) {
	return find[models.RetentionPolicy](ctx, s, kindPolicy, uuid.UUID(policyID))
}

func (s *Store) ListPolicies(ctx context.Context) ([]*models.RetentionPolicy, error) {
	return list[models.RetentionPolicy](ctx, s, kindPolicy, nil)
}

// Privacy impact assessments

func (s *Store) SavePIA(ctx context.Context, pia *models.PrivacyImpactAssessment) error {
	return s.upsert(ctx, kindPIA, uuid.UUID(pia.ID), id.SubjectID(uuid.Nil), "", pia)
}

func (s *Store) FindPIA(ctx context.Context, piaID id.AssessmentID) (*models.PrivacyImpactAssessment, error) {
	return find[models.PrivacyImpactAssessment](ctx, s, kindPIA, uuid.UUID(piaID))
}

func (s *Store) ListPIAs(ctx context.Context) ([]*models.PrivacyImpactAssessment, error) {
	return list[models.PrivacyImpactAssessment](ctx, s, kindPIA, nil)
}
