package memory

import (
	"context"
	"sync"

	submission "mabis-registry/internal/submission/domain"
)

// SubmissionRepository is an in-memory submission journal.
type SubmissionRepository struct {
	mu    sync.RWMutex
	items map[string]*submission.Submission
	order []string
}

// NewSubmissionRepository constructs a repository.
func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{items: make(map[string]*submission.Submission)}
}

// Save stores or replaces the submission keyed by messageId.
func (r *SubmissionRepository) Save(ctx context.Context, sub *submission.Submission) error {
	_ = ctx
	if sub == nil {
		return submission.ErrNilSubmission
	}
	if sub.MessageID == "" {
		return submission.ErrEmptyMessageID
	}
	copy, err := sub.Clone()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[copy.MessageID]; !exists {
		r.order = append(r.order, copy.MessageID)
	}
	r.items[copy.MessageID] = copy
	return nil
}

// Get loads one submission by messageId.
func (r *SubmissionRepository) Get(ctx context.Context, messageID string) (*submission.Submission, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.items[messageID]
	if !ok {
		return nil, submission.ErrNotFound
	}
	return stored.Clone()
}

// List returns submissions in arrival order.
func (r *SubmissionRepository) List(ctx context.Context, limit int) ([]*submission.Submission, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]*submission.Submission, 0, len(r.order))
	for _, id := range r.order {
		stored, ok := r.items[id]
		if !ok {
			continue
		}
		copy, err := stored.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, copy)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of stored submissions.
func (r *SubmissionRepository) Count(ctx context.Context) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}
