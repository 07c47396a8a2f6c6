package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	submission "mabis-registry/internal/submission/domain"
)

const defaultSubmissionsTable = "formula_submissions"

// SubmissionRepository is a Postgres submission journal. The full
// submission is stored as a JSONB payload keyed by messageId.
type SubmissionRepository struct {
	db    *sql.DB
	table string
}

// Option configures the repository.
type Option func(*SubmissionRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *SubmissionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository(db *sql.DB, opts ...Option) *SubmissionRepository {
	repo := &SubmissionRepository{db: db, table: defaultSubmissionsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Save stores or replaces the submission keyed by messageId.
func (r *SubmissionRepository) Save(ctx context.Context, sub *submission.Submission) error {
	if r == nil || r.db == nil {
		return errors.New("submission repo: nil db")
	}
	if sub == nil {
		return submission.ErrNilSubmission
	}
	if sub.MessageID == "" {
		return submission.ErrEmptyMessageID
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	message_id,
	sender_id,
	state,
	payload,
	received_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (message_id)
DO UPDATE SET
	state = EXCLUDED.state,
	payload = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`, r.table)
	_, err = r.db.ExecContext(ctx, query,
		sub.MessageID, sub.Sender.PartyID, string(sub.State), payload, sub.ReceivedAt, time.Now().UTC())
	return err
}

// Get loads one submission by messageId.
func (r *SubmissionRepository) Get(ctx context.Context, messageID string) (*submission.Submission, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("submission repo: nil db")
	}
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE message_id = $1`, r.table)
	var payload []byte
	if err := r.db.QueryRowContext(ctx, query, messageID).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, submission.ErrNotFound
		}
		return nil, err
	}
	var sub submission.Submission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// List returns submissions in arrival order.
func (r *SubmissionRepository) List(ctx context.Context, limit int) ([]*submission.Submission, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("submission repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT payload
FROM %s
ORDER BY received_at
LIMIT $1`, r.table)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*submission.Submission
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var sub submission.Submission
		if err := json.Unmarshal(payload, &sub); err != nil {
			return nil, err
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// Count returns the number of stored submissions.
func (r *SubmissionRepository) Count(ctx context.Context) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("submission repo: nil db")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, r.table)
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
