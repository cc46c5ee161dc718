package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "privacy/pkg/domain"
	audit "privacy/pkg/platform/audit"
	txcontext "privacy/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table inside the caller's transaction
// when one is present, and forwarded to the broker by the outbox relay.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_outbox (
	seq          BIGSERIAL PRIMARY KEY,
	event_id     UUID NOT NULL UNIQUE,
	action       TEXT NOT NULL,
	category     TEXT NOT NULL,
	subject_id   UUID NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ NULL
);
CREATE INDEX IF NOT EXISTS audit_outbox_unpublished ON audit_outbox (seq) WHERE published_at IS NULL;
CREATE INDEX IF NOT EXISTS audit_outbox_subject ON audit_outbox (subject_id);
`

// Migrate creates the outbox table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit outbox: %w", err)
	}
	return nil
}

// Append writes an audit event to the outbox table. Re-appending an event
// with the same id is ignored.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	payload, err := audit.Marshal(event)
	if err != nil {
		return err
	}

	var subjectID *uuid.UUID
	if !event.SubjectID.IsNil() {
		sid := uuid.UUID(event.SubjectID)
		subjectID = &sid
	}

	query := `
		INSERT INTO audit_outbox (event_id, action, category, subject_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		event.ID,
		event.Action,
		string(event.Category),
		subjectID,
		payload,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListBySubject returns the events recorded for a subject, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]audit.Event, error) {
	query := `SELECT payload FROM audit_outbox WHERE subject_id = $1 ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(subjectID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event, err := audit.Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Entry is an unpublished outbox row.
type Entry struct {
	Seq   int64
	Event audit.Event
}

// FetchUnpublished returns up to limit unpublished entries in insertion order.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT seq, payload FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		event, err := audit.Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Seq: seq, Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps the given entries as forwarded.
func (s *Store) MarkPublished(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	query := `UPDATE audit_outbox SET published_at = $1 WHERE seq = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, time.Now(), pq.Array(seqs)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
