package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/store"
)

// SubjectStore implements store.SubjectStore using in-memory storage.
type SubjectStore struct {
	mu sync.RWMutex

	subjects map[string]*models.Subject // code -> Subject
}

// NewSubjectStore creates a new in-memory subject catalog.
func NewSubjectStore() *SubjectStore {
	return &SubjectStore{
		subjects: make(map[string]*models.Subject),
	}
}

// Get retrieves a subject by code.
func (s *SubjectStore) Get(ctx context.Context, code string) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, exists := s.subjects[code]
	if !exists {
		return nil, store.ErrSubjectNotFound
	}

	clone := *subject
	return &clone, nil
}

// List returns all subjects sorted by code.
func (s *SubjectStore) List(ctx context.Context) ([]*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Subject, 0, len(s.subjects))
	for _, subject := range s.subjects {
		clone := *subject
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Put inserts or replaces a subject.
func (s *SubjectStore) Put(ctx context.Context, subject *models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *subject
	s.subjects[subject.Code] = &clone
	return nil
}
