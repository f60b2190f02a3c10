package imagestore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

// MemoryStore is an in-memory Store for tests and ephemeral nodes.
type MemoryStore struct {
	mu       sync.RWMutex
	images   map[types.ImageID]*Image
	names    map[string]types.ImageID
	maxWords int
	closed   bool
}

// NewMemoryStore creates an empty in-memory store. maxWords bounds image
// size; 0 means unlimited.
func NewMemoryStore(maxWords int) *MemoryStore {
	return &MemoryStore{
		images:   make(map[types.ImageID]*Image),
		names:    make(map[string]types.ImageID),
		maxWords: maxWords,
	}
}

// Put stores a program image.
func (s *MemoryStore) Put(name string, prog intcode.Program) (types.ImageID, error) {
	if len(prog) == 0 {
		return types.ImageID{}, intcode.ErrEmptyProgram
	}
	if s.maxWords > 0 && len(prog) > s.maxWords {
		return types.ImageID{}, fmt.Errorf("%w: %d words, limit %d", ErrImageTooLarge, len(prog), s.maxWords)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ImageID{}, ErrClosed
	}

	id := types.HashImage(prog)
	if _, ok := s.images[id]; !ok {
		s.images[id] = &Image{
			Info: Info{
				ID:        id,
				Name:      name,
				Size:      len(prog),
				CreatedAt: time.Now(),
			},
			Program: prog.Clone(),
		}
	}
	if name != "" {
		s.names[name] = id
	}
	return id, nil
}

// Get retrieves an image by ID. The returned image is a copy.
func (s *MemoryStore) Get(id types.ImageID) (*Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	img, ok := s.images[id]
	if !ok {
		return nil, ErrImageNotFound
	}
	return &Image{Info: img.Info, Program: img.Program.Clone()}, nil
}

// Has checks if an image exists.
func (s *MemoryStore) Has(id types.ImageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.images[id]
	return ok && !s.closed
}

// Lookup returns the ID of the image most recently stored under name.
func (s *MemoryStore) Lookup(name string) (types.ImageID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.ImageID{}, ErrClosed
	}

	id, ok := s.names[name]
	if !ok {
		return id, fmt.Errorf("%w: name %q", ErrImageNotFound, name)
	}
	return id, nil
}

// Delete removes an image and every name pointing at it.
func (s *MemoryStore) Delete(id types.ImageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.images[id]; !ok {
		return ErrImageNotFound
	}
	delete(s.images, id)
	for name, target := range s.names {
		if target == id {
			delete(s.names, name)
		}
	}
	return nil
}

// List returns info for every stored image in ID order.
func (s *MemoryStore) List() ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	infos := make([]Info, 0, len(s.images))
	for _, img := range s.images {
		infos = append(infos, img.Info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return bytes.Compare(infos[i].ID[:], infos[j].ID[:]) < 0
	})
	return infos, nil
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{ImageCount: uint64(len(s.images))}
	for _, img := range s.images {
		stats.TotalWords += uint64(img.Size)
	}
	return stats, nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
