// Package session manages live Intcode machines on behalf of remote callers.
//
// Each session owns exactly one machine created from a stored image. Calls on
// the same session are serialized; calls on different sessions run in
// parallel. Suspended sessions can be checkpointed and later restored, also
// after a restart.
package session

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("too many sessions")

	// ErrClosed is returned when operating on a shut down manager.
	ErrClosed = errors.New("session manager closed")

	// ErrNoCheckpointStore is returned by checkpoint operations when the
	// manager has no checkpoint store.
	ErrNoCheckpointStore = errors.New("checkpoints not enabled")

	// ErrConfigInvalid is returned for an invalid configuration.
	ErrConfigInvalid = errors.New("invalid session config")
)

// Config holds session manager configuration.
type Config struct {
	// MaxSessions bounds the number of live sessions. 0 means unlimited.
	MaxSessions int `toml:"max_sessions"`

	// MaxSteps bounds the instructions a machine executes over its lifetime.
	MaxSteps uint64 `toml:"max_steps"`

	// MaxMemory bounds a machine's memory in words.
	MaxMemory int `toml:"max_memory"`

	// RunSlice is the instruction budget of a Run call that does not name
	// one. 0 means run until the machine halts, suspends or faults.
	RunSlice uint64 `toml:"run_slice"`

	// IdleTimeout is how long a session may go unused before Reap closes it.
	IdleTimeout time.Duration `toml:"idle_timeout"`

	// CheckpointOnShutdown saves every live session when the manager shuts
	// down.
	CheckpointOnShutdown bool `toml:"checkpoint_on_shutdown"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxSessions:          1024,
		MaxSteps:             0,
		MaxMemory:            16 << 20, // 128MB of words
		RunSlice:             10_000_000,
		IdleTimeout:          30 * time.Minute,
		CheckpointOnShutdown: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxSessions < 0 {
		return fmt.Errorf("%w: max_sessions must not be negative", ErrConfigInvalid)
	}
	if c.MaxMemory < 0 {
		return fmt.Errorf("%w: max_memory must not be negative", ErrConfigInvalid)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout must not be negative", ErrConfigInvalid)
	}
	return nil
}

func (c Config) machineOptions() intcode.Options {
	return intcode.Options{MaxSteps: c.MaxSteps, MaxMemory: c.MaxMemory}
}

// Info describes a session.
type Info struct {
	ID             types.SessionID `json:"id"`
	Image          types.ImageID   `json:"image"`
	Status         intcode.Status  `json:"status"`
	Fault          string          `json:"fault,omitempty"`
	Pointer        int64           `json:"pointer"`
	RelativeBase   int64           `json:"relativeBase"`
	Steps          uint64          `json:"steps"`
	MemorySize     int             `json:"memorySize"`
	PendingInputs  int             `json:"pendingInputs"`
	PendingOutputs int             `json:"pendingOutputs"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastUsed       time.Time       `json:"lastUsed"`
}

// RunResult is the outcome of a Run call.
type RunResult struct {
	Status  intcode.Status `json:"status"`
	Fault   string         `json:"fault,omitempty"`
	Steps   uint64         `json:"steps"`
	Outputs int            `json:"pendingOutputs"`
}

// Stats contains manager statistics.
type Stats struct {
	Live     int    `json:"live"`
	Created  uint64 `json:"created"`
	Closed   uint64 `json:"closed"`
	Reaped   uint64 `json:"reaped"`
	Restored uint64 `json:"restored"`
}

type session struct {
	mu      sync.Mutex
	id      types.SessionID
	image   types.ImageID
	machine *intcode.Machine
	created time.Time
	used    time.Time
	closed  bool
}

func (s *session) info() Info {
	m := s.machine
	info := Info{
		ID:             s.id,
		Image:          s.image,
		Status:         m.Status(),
		Pointer:        m.Pointer(),
		RelativeBase:   m.RelativeBase(),
		Steps:          m.Steps(),
		MemorySize:     m.MemorySize(),
		PendingInputs:  m.PendingInputs(),
		PendingOutputs: m.PendingOutputs(),
		CreatedAt:      s.created,
		LastUsed:       s.used,
	}
	if err := m.Err(); err != nil {
		info.Fault = err.Error()
	}
	return info
}

// Manager owns live sessions.
type Manager struct {
	config      Config
	images      imagestore.Store
	checkpoints checkpoint.Store

	mu       sync.RWMutex
	sessions map[types.SessionID]*session
	stats    Stats
	closed   bool

	now func() time.Time
}

// NewManager creates a session manager. checkpoints may be nil, in which
// case checkpoint operations return ErrNoCheckpointStore.
func NewManager(config Config, images imagestore.Store, checkpoints checkpoint.Store) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if images == nil {
		return nil, fmt.Errorf("%w: image store is required", ErrConfigInvalid)
	}
	return &Manager{
		config:      config,
		images:      images,
		checkpoints: checkpoints,
		sessions:    make(map[types.SessionID]*session),
		now:         time.Now,
	}, nil
}

// LoadProgram parses src and stores it under name.
func (m *Manager) LoadProgram(name, src string) (types.ImageID, error) {
	prog, err := intcode.Parse(src)
	if err != nil {
		return types.ImageID{}, err
	}
	return m.images.Put(name, prog)
}

// Images returns the manager's image store.
func (m *Manager) Images() imagestore.Store {
	return m.images
}

// Create starts a session running image, seeded with inputs.
func (m *Manager) Create(image types.ImageID, inputs ...int64) (Info, error) {
	img, err := m.images.Get(image)
	if err != nil {
		return Info{}, err
	}

	machine := intcode.NewWithOptions(img.Program, m.config.machineOptions(), inputs...)
	s, err := m.add(types.NewSessionID(), image, machine)
	if err != nil {
		return Info{}, err
	}
	log.Printf("[SESSION] created %s from image %s (%d words)", s.id, image, img.Size)
	return s.info(), nil
}

// add registers a new session. It fails when the limit is reached.
func (m *Manager) add(id types.SessionID, image types.ImageID, machine *intcode.Machine) (*session, error) {
	now := m.now()
	s := &session{
		id:      id,
		image:   image,
		machine: machine,
		created: now,
		used:    now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	old, exists := m.sessions[id]
	if !exists && m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.config.MaxSessions)
	}
	m.sessions[id] = s
	m.stats.Created++
	m.mu.Unlock()

	if exists {
		old.mu.Lock()
		old.closed = true
		old.mu.Unlock()
	}
	return s, nil
}

// with runs fn with exclusive access to a session's machine.
func (m *Manager) with(id types.SessionID, fn func(s *session) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.used = m.now()
	return fn(s)
}

// Push appends inputs to a session's input queue.
func (m *Manager) Push(id types.SessionID, values ...int64) error {
	return m.with(id, func(s *session) error {
		s.machine.PushInput(values...)
		return nil
	})
}

// Run executes a session's machine. maxSteps bounds this call; 0 uses the
// configured run slice. A machine fault is reported in the result, not as
// an error.
func (m *Manager) Run(id types.SessionID, maxSteps uint64) (RunResult, error) {
	if maxSteps == 0 {
		maxSteps = m.config.RunSlice
	}

	var res RunResult
	err := m.with(id, func(s *session) error {
		before := s.machine.Steps()
		var (
			status intcode.Status
			err    error
		)
		if maxSteps == 0 {
			status, err = s.machine.Run()
		} else {
			status, err = s.machine.RunFor(maxSteps)
		}
		res = RunResult{
			Status:  status,
			Steps:   s.machine.Steps() - before,
			Outputs: s.machine.PendingOutputs(),
		}
		if err != nil {
			res.Fault = err.Error()
		}
		return nil
	})
	return res, err
}

// Pop removes the oldest output of a session.
func (m *Manager) Pop(id types.SessionID) (v int64, ok bool, err error) {
	err = m.with(id, func(s *session) error {
		v, ok = s.machine.PopOutput()
		return nil
	})
	return v, ok, err
}

// Drain removes all pending outputs of a session.
func (m *Manager) Drain(id types.SessionID) ([]int64, error) {
	var out []int64
	err := m.with(id, func(s *session) error {
		out = s.machine.DrainOutputs()
		return nil
	})
	return out, err
}

// Poke writes a word of a session's memory.
func (m *Manager) Poke(id types.SessionID, addr, value int64) error {
	return m.with(id, func(s *session) error {
		return s.machine.Poke(addr, value)
	})
}

// Peek reads a word of a session's memory.
func (m *Manager) Peek(id types.SessionID, addr int64) (int64, error) {
	var v int64
	err := m.with(id, func(s *session) error {
		v = s.machine.Peek(addr)
		return nil
	})
	return v, err
}

// Memory returns a copy of a session's memory.
func (m *Manager) Memory(id types.SessionID) ([]int64, error) {
	var mem []int64
	err := m.with(id, func(s *session) error {
		mem = s.machine.Memory()
		return nil
	})
	return mem, err
}

// Info describes a session.
func (m *Manager) Info(id types.SessionID) (Info, error) {
	var info Info
	err := m.with(id, func(s *session) error {
		info = s.info()
		return nil
	})
	return info, err
}

// Fork starts a new session with a copy of an existing session's machine.
func (m *Manager) Fork(id types.SessionID) (Info, error) {
	var (
		image types.ImageID
		clone *intcode.Machine
	)
	err := m.with(id, func(s *session) error {
		image = s.image
		clone = s.machine.Clone()
		return nil
	})
	if err != nil {
		return Info{}, err
	}

	s, err := m.add(types.NewSessionID(), image, clone)
	if err != nil {
		return Info{}, err
	}
	log.Printf("[SESSION] forked %s from %s", s.id, id)
	return s.info(), nil
}

// Checkpoint saves a session's machine to the checkpoint store.
func (m *Manager) Checkpoint(id types.SessionID) error {
	if m.checkpoints == nil {
		return ErrNoCheckpointStore
	}
	return m.with(id, func(s *session) error {
		return m.save(s)
	})
}

func (m *Manager) save(s *session) error {
	return m.checkpoints.Save(&checkpoint.Record{
		Session: s.id,
		Image:   s.image,
		State:   s.machine.Snapshot(),
		SavedAt: m.now(),
	})
}

// Restore recreates a session from its checkpoint, replacing the live
// session with the same ID if there is one.
func (m *Manager) Restore(id types.SessionID) (Info, error) {
	if m.checkpoints == nil {
		return Info{}, ErrNoCheckpointStore
	}

	rec, err := m.checkpoints.Load(id)
	if err != nil {
		return Info{}, err
	}
	machine, err := intcode.Restore(rec.State, m.config.machineOptions())
	if err != nil {
		return Info{}, fmt.Errorf("restore %s: %w", id, err)
	}

	s, err := m.add(id, rec.Image, machine)
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	m.stats.Restored++
	m.mu.Unlock()

	log.Printf("[SESSION] restored %s from checkpoint saved %s", id, rec.SavedAt.Format(time.RFC3339))
	return s.info(), nil
}

// Checkpoints lists saved checkpoints.
func (m *Manager) Checkpoints() ([]checkpoint.Summary, error) {
	if m.checkpoints == nil {
		return nil, ErrNoCheckpointStore
	}
	return m.checkpoints.List()
}

// Close ends a session. Its checkpoint, if any, is kept.
func (m *Manager) Close(id types.SessionID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	m.stats.Closed++
	m.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// List describes all live sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if !s.closed {
			infos = append(infos, s.info())
		}
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Reap closes sessions unused for longer than idle and returns how many it
// closed. Suspended sessions are checkpointed first when a checkpoint store
// is configured.
func (m *Manager) Reap(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	var stale []*session
	for id, s := range m.sessions {
		// TryLock skips sessions that are busy right now.
		if !s.mu.TryLock() {
			continue
		}
		if s.used.Before(cutoff) {
			s.closed = true
			stale = append(stale, s)
			delete(m.sessions, id)
		}
		s.mu.Unlock()
	}
	m.stats.Reaped += uint64(len(stale))
	m.mu.Unlock()

	for _, s := range stale {
		if m.checkpoints != nil && s.machine.Status() == intcode.StatusSuspended {
			if err := m.save(s); err != nil {
				log.Printf("[SESSION] checkpoint %s before reap: %v", s.id, err)
			}
		}
		log.Printf("[SESSION] reaped %s (idle since %s)", s.id, s.used.Format(time.RFC3339))
	}
	return len(stale)
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.Live = len(m.sessions)
	return stats
}

// Shutdown closes every session, checkpointing non-terminal ones first when
// configured to.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[types.SessionID]*session)
	m.mu.Unlock()

	var saveErr error
	saved := 0
	for _, s := range sessions {
		s.mu.Lock()
		if m.config.CheckpointOnShutdown && m.checkpoints != nil && !s.machine.Status().Terminal() {
			if err := m.save(s); err != nil {
				saveErr = errors.Join(saveErr, fmt.Errorf("checkpoint %s: %w", s.id, err))
			} else {
				saved++
			}
		}
		s.closed = true
		s.mu.Unlock()
	}
	if saved > 0 {
		log.Printf("[SESSION] checkpointed %d sessions on shutdown", saved)
	}
	return saveErr
}
