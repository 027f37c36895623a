package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrDuplicate       = errors.New("job already exists")
	ErrAlreadyComplete = errors.New("job already completed")
)

// Store keeps every job record for the lifetime of the process. Records are
// never removed and move from pending to a terminal state exactly once.
type Store interface {
	// Put inserts a new pending record.
	Put(ctx context.Context, record *Record) error
	// Complete moves a pending record to the terminal state of the outcome.
	Complete(ctx context.Context, id uuid.UUID, outcome *Outcome, httpStatus int) error
	// Get returns a copy of the record.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)
}

// MemoryStore is the default Store, holding records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[uuid.UUID]*Record{}}
}

func (m *MemoryStore) Put(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.ID]; ok {
		return errors.Wrap(ErrDuplicate, record.ID.String())
	}

	m.records[record.ID] = record.Clone()
	return nil
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, outcome *Outcome, httpStatus int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[id]

	if !ok {
		return errors.Wrap(ErrNotFound, id.String())
	}

	if record.State.Terminal() {
		return errors.Wrap(ErrAlreadyComplete, id.String())
	}

	record.State = outcome.State()
	record.Outcome = outcome.Clone()
	record.HTTPStatus = httpStatus
	record.CompletedAt = time.Now().UTC()

	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]

	if !ok {
		return nil, errors.Wrap(ErrNotFound, id.String())
	}

	return record.Clone(), nil
}
