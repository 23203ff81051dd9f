package artifacts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

type entry struct {
	artifact models.Artifact
	sealed   bool
}

// MemoryStore is the default in-process artifact store. Writes under
// different names proceed independently; the map itself is guarded by
// one mutex, which is enough at the payload sizes jobs hand each other.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]map[string]*entry
	timers map[string]*time.Timer
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]map[string]*entry),
		timers: make(map[string]*time.Timer),
	}
}

func (s *MemoryStore) Put(_ context.Context, runID, name, producingJobID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		run = make(map[string]*entry)
		s.runs[runID] = run
	}

	if _, exists := run[name]; exists {
		return fmt.Errorf("%w: %s in run %s", ErrAlreadyExists, name, runID)
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	run[name] = &entry{
		artifact: models.Artifact{
			RunID:      runID,
			Name:       name,
			ProducedBy: producingJobID,
			Payload:    buf,
			CreatedAt:  time.Now().UTC(),
		},
	}

	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, runID)
	}

	e, ok := run[name]
	if !ok || !e.sealed {
		return nil, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, runID)
	}

	buf := make([]byte, len(e.artifact.Payload))
	copy(buf, e.artifact.Payload)

	return buf, nil
}

func (s *MemoryStore) Seal(_ context.Context, runID, producingJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.runs[runID] {
		if e.artifact.ProducedBy == producingJobID {
			e.sealed = true
		}
	}

	return nil
}

func (s *MemoryStore) Release(_ context.Context, runID string, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retention <= 0 {
		delete(s.runs, runID)

		return nil
	}

	if _, pending := s.timers[runID]; pending {
		return nil
	}

	s.timers[runID] = time.AfterFunc(retention, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.runs, runID)
		delete(s.timers, runID)
	})

	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for runID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, runID)
	}

	s.runs = make(map[string]map[string]*entry)

	return nil
}
