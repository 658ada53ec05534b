package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"attendflow/internal/attendance"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

const schema = `CREATE TABLE IF NOT EXISTS attendance_journal (
	id          UUID PRIMARY KEY,
	record_id   TEXT NOT NULL,
	op          TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS attendance_journal_record_idx ON attendance_journal (record_id, created_at DESC)`

// Entry is one persisted mutation outcome.
type Entry struct {
	ID        string    `db:"id" json:"id"`
	RecordID  string    `db:"record_id" json:"recordId"`
	Op        string    `db:"op" json:"op"`
	From      string    `db:"from_status" json:"from"`
	To        string    `db:"to_status" json:"to"`
	Outcome   string    `db:"outcome" json:"outcome"`
	Message   string    `db:"message" json:"message,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Filter narrows List.
type Filter struct {
	RecordID string
	Outcome  string
	Limit    int
}

// Repository stores the journal in Postgres.
type Repository struct {
	db *sqlx.DB
}

var _ attendance.Journal = (*Repository)(nil)

// NewRepository constructs the repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the journal table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Append inserts one mutation outcome.
func (r *Repository) Append(ctx context.Context, m attendance.Mutation) error {
	at := m.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	entry := Entry{
		ID:        uuid.NewString(),
		RecordID:  m.RecordID,
		Op:        m.Op,
		From:      string(m.From),
		To:        string(m.To),
		Outcome:   string(m.Outcome),
		Message:   m.Message,
		CreatedAt: at,
	}
	const query = `INSERT INTO attendance_journal
	(id, record_id, op, from_status, to_status, outcome, message, created_at)
	VALUES (:id, :record_id, :op, :from_status, :to_status, :outcome, :message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, latest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var b strings.Builder
	args := make([]interface{}, 0, 3)
	b.WriteString(`SELECT id, record_id, op, from_status, to_status, outcome, message, created_at
	FROM attendance_journal`)

	conditions := make([]string, 0, 2)
	if filter.RecordID != "" {
		args = append(args, filter.RecordID)
		conditions = append(conditions, fmt.Sprintf("record_id = $%d", len(args)))
	}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		conditions = append(conditions, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))

	var entries []Entry
	if err := r.db.SelectContext(ctx, &entries, b.String(), args...); err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	return entries, nil
}
