package ingest

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zombor/expense-splitter/internal/scanning"
)

// Manager owns the in-flight upload cycles
type Manager struct {
	extractor scanning.Extractor
	store     ObjectStore
	persister Persister
	metrics   *Metrics

	newID func() string
	now   func() time.Time

	mu     sync.Mutex
	cycles map[string]*Cycle
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(extractor scanning.Extractor, store ObjectStore, persister Persister, metrics *Metrics) *Manager {
	return &Manager{
		extractor: extractor,
		store:     store,
		persister: persister,
		metrics:   metrics,
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
		cycles:    make(map[string]*Cycle),
	}
}

// Begin starts a new idle cycle
func (m *Manager) Begin() *Cycle {
	c := &Cycle{
		id:      m.newID(),
		manager: m,
		stage:   StageIdle,
		touched: m.now(),
	}

	m.mu.Lock()
	m.cycles[c.id] = c
	m.mu.Unlock()
	return c
}

// Get returns an unfinished cycle
func (m *Manager) Get(id string) (*Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cycles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	return c, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.cycles, id)
	m.mu.Unlock()
}

// Sweep cancels cycles that have not been touched for maxIdle, returning how many were dropped.
// Cycles still extracting are left alone.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	// cycles lock the manager while holding their own lock, so never nest the other way
	m.mu.Lock()
	all := make([]*Cycle, 0, len(m.cycles))
	for _, c := range m.cycles {
		all = append(all, c)
	}
	m.mu.Unlock()

	dropped := 0
	for _, c := range all {
		if c.cancelIfIdle(cutoff) {
			dropped++
		}
	}
	if dropped > 0 {
		slog.Info("Swept abandoned uploads", "count", dropped)
	}
	return dropped
}

// storeOriginal writes the upload under a unique name and returns its public URL
func (m *Manager) storeOriginal(file *upload) (string, error) {
	if m.store == nil {
		return "", fmt.Errorf("%w: no object store configured", ErrStorageFailed)
	}
	saved, err := m.store.Save(objectName(m.newID(), file.name), file.data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageFailed, err)
	}
	return m.store.URL(saved), nil
}
