package checkpoint

import (
	"bytes"
	"sort"
	"sync"

	"github.com/fortiblox/intcode/internal/types"
)

// MemoryStore is an in-memory checkpoint store. Records are kept encoded so
// a loaded record never aliases a saved one.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.SessionID][]byte
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[types.SessionID][]byte)}
}

// Save stores a checkpoint.
func (m *MemoryStore) Save(rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[rec.Session] = data
	return nil
}

// Load retrieves the checkpoint for a session.
func (m *MemoryStore) Load(session types.SessionID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	data, ok := m.records[session]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return decodeRecord(data)
}

// Delete removes the checkpoint for a session.
func (m *MemoryStore) Delete(session types.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.records[session]; !ok {
		return ErrCheckpointNotFound
	}
	delete(m.records, session)
	return nil
}

// List returns summaries of all checkpoints in session ID order.
func (m *MemoryStore) List() ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([]Summary, 0, len(m.records))
	for _, data := range m.records {
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Session[:], out[j].Session[:]) < 0
	})
	return out, nil
}

// Close closes the store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
