// Package node provides the orchestrator for an Intcode machine node.
//
// The Node ties together all components:
// - Image store (bbolt) for loaded programs
// - Checkpoint store (badger) for suspended machines
// - Session manager owning the live machines
// - JSON-RPC and gRPC servers exposing the sessions
// - An optional read-only web dashboard
//
// The node manages the lifecycle of these components, reaps idle sessions in
// the background and checkpoints live sessions on shutdown.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/dashboard"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/remote"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/session"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

// Node represents a running Intcode machine node.
type Node struct {
	config Config

	// Core components
	images      imagestore.Store
	checkpoints checkpoint.Store
	badger      *checkpoint.BadgerStore
	manager     *session.Manager
	rpcServer   *rpc.Server
	grpcServer  *remote.Server
	dashboard   *dashboard.Dashboard

	// State management
	running     atomic.Bool
	startTime   time.Time
	lastError   error
	lastErrorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	reaped   atomic.Uint64
	gcPasses atomic.Uint64
}

// New creates a new node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		c := DefaultConfig()
		config = &c
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{config: *config}, nil
}

// Start opens the stores and starts the servers and background loops.
// It returns once everything is running; cancel ctx or call Stop to shut
// down.
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	if err := n.initialize(); err != nil {
		n.cancel()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	if n.rpcServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("RPC server error: %w", err))
			}
		}()
	}

	if n.grpcServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.grpcServer.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("gRPC server error: %w", err))
			}
		}()
	}

	if n.dashboard != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.dashboard.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("dashboard error: %w", err))
			}
		}()
	}

	if n.config.ReapInterval > 0 && n.config.Session.IdleTimeout > 0 {
		n.wg.Add(1)
		go n.reapLoop()
	}

	if n.badger != nil && n.config.GCInterval > 0 {
		n.wg.Add(1)
		go n.gcLoop()
	}

	log.Printf("[NODE] Started (data=%s, rpc=%v, grpc=%v, dashboard=%v)",
		n.dataDescription(), n.config.RPCEnabled, n.config.GRPCEnabled, n.config.DashboardEnabled)
	return nil
}

// initialize sets up the storage backends and components.
func (n *Node) initialize() error {
	if !n.config.InMemory {
		if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	// Image store
	if n.config.InMemory {
		n.images = imagestore.NewMemoryStore(n.config.MaxImageWords)
	} else {
		imagesConfig := imagestore.DefaultConfig(filepath.Join(n.config.DataDir, "images.db"))
		imagesConfig.MaxImageWords = n.config.MaxImageWords
		imagesConfig.NoSync = n.config.NoSync
		images, err := imagestore.Open(imagesConfig)
		if err != nil {
			return fmt.Errorf("open image store: %w", err)
		}
		n.images = images
	}

	// Checkpoint store
	if !n.config.DisableCheckpoints {
		checkpointConfig := checkpoint.DefaultConfig(filepath.Join(n.config.DataDir, "checkpoints"))
		checkpointConfig.InMemory = n.config.InMemory
		store, err := checkpoint.Open(checkpointConfig)
		if err != nil {
			n.closeStorage()
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		n.badger = store
		n.checkpoints = store
	}

	manager, err := session.NewManager(n.config.Session, n.images, n.checkpoints)
	if err != nil {
		n.closeStorage()
		return fmt.Errorf("create session manager: %w", err)
	}
	n.manager = manager

	if n.config.RPCEnabled {
		n.rpcServer = rpc.New(n.config.RPC, manager)
	}
	if n.config.GRPCEnabled {
		n.grpcServer = remote.NewServer(n.config.GRPC, manager)
	}
	if n.config.DashboardEnabled {
		dash, err := dashboard.New(n.config.Dashboard, manager, n)
		if err != nil {
			n.closeStorage()
			return fmt.Errorf("create dashboard: %w", err)
		}
		n.dashboard = dash
	}

	return nil
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() {
	if n.checkpoints != nil {
		if err := n.checkpoints.Close(); err != nil {
			log.Printf("[NODE] Close checkpoint store: %v", err)
		}
	}
	if n.images != nil {
		if err := n.images.Close(); err != nil {
			log.Printf("[NODE] Close image store: %v", err)
		}
	}
}

// reapLoop closes sessions that have been idle longer than IdleTimeout.
func (n *Node) reapLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if count := n.manager.Reap(n.config.Session.IdleTimeout); count > 0 {
				n.reaped.Add(uint64(count))
				log.Printf("[NODE] Reaped %d idle session(s)", count)
			}
		}
	}
}

// gcLoop periodically reclaims checkpoint value log space.
func (n *Node) gcLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			// RunGC returns an error once there is nothing left to rewrite.
			for n.badger.RunGC() == nil {
				n.gcPasses.Add(1)
			}
		}
	}
}

// Stop gracefully stops the node. Live sessions are checkpointed when the
// session configuration asks for it.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	// Cancel context to stop servers and background loops
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.grpcServer != nil {
		n.grpcServer.Stop()
	}
	if n.dashboard != nil {
		n.dashboard.Stop()
	}

	var errs []error
	if err := n.manager.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown sessions: %w", err))
	}

	n.closeStorage()

	n.running.Store(false)
	log.Printf("[NODE] Stopped after %s", time.Since(n.startTime).Round(time.Millisecond))
	return errors.Join(errs...)
}

// Manager returns the node's session manager, or nil before Start.
func (n *Node) Manager() *session.Manager {
	return n.manager
}

// RPCAddr returns the JSON-RPC listen address, or "" if not listening.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// GRPCAddr returns the gRPC listen address, or "" if not listening.
func (n *Node) GRPCAddr() string {
	if n.grpcServer == nil {
		return ""
	}
	return n.grpcServer.Addr()
}

// DashboardAddr returns the dashboard listen address, or "" if not listening.
func (n *Node) DashboardAddr() string {
	if n.dashboard == nil {
		return ""
	}
	return n.dashboard.Address()
}

// IsRunning returns true if the node is running.
func (n *Node) IsRunning() bool {
	return n.running.Load()
}

// Uptime returns how long the node has been running, or zero when stopped.
func (n *Node) Uptime() time.Duration {
	if !n.running.Load() {
		return 0
	}
	return time.Since(n.startTime)
}

// LastError returns the most recent background error.
func (n *Node) LastError() error {
	return n.getLastError()
}

// Stats contains the current node status.
type Stats struct {
	// IsRunning indicates if the node is running.
	IsRunning bool `json:"isRunning"`

	// Uptime is how long the node has been running.
	Uptime time.Duration `json:"uptime"`

	// Sessions contains session manager counters.
	Sessions session.Stats `json:"sessions"`

	// Images contains image store statistics.
	Images *imagestore.Stats `json:"images,omitempty"`

	// Checkpoints is the number of saved checkpoints.
	Checkpoints int `json:"checkpoints"`

	// Reaped is the number of sessions closed by the idle reaper.
	Reaped uint64 `json:"reaped"`

	// GCPasses is the number of successful checkpoint GC passes.
	GCPasses uint64 `json:"gcPasses"`

	// RPCAddr, GRPCAddr and DashboardAddr are the listen addresses of
	// enabled servers.
	RPCAddr       string `json:"rpcAddr,omitempty"`
	GRPCAddr      string `json:"grpcAddr,omitempty"`
	DashboardAddr string `json:"dashboardAddr,omitempty"`

	// LastError is the most recent background error.
	LastError error `json:"-"`
}

// Stats returns the current node status.
func (n *Node) Stats() *Stats {
	stats := &Stats{
		IsRunning:     n.running.Load(),
		Reaped:        n.reaped.Load(),
		GCPasses:      n.gcPasses.Load(),
		RPCAddr:       n.RPCAddr(),
		GRPCAddr:      n.GRPCAddr(),
		DashboardAddr: n.DashboardAddr(),
		LastError:     n.getLastError(),
	}
	if !stats.IsRunning {
		return stats
	}

	stats.Uptime = time.Since(n.startTime)
	stats.Sessions = n.manager.Stats()
	stats.Images, _ = n.images.Stats()
	if n.checkpoints != nil {
		if sums, err := n.checkpoints.List(); err == nil {
			stats.Checkpoints = len(sums)
		}
	}
	return stats
}

func (n *Node) dataDescription() string {
	if n.config.InMemory {
		return "memory"
	}
	return n.config.DataDir
}

func (n *Node) reportError(err error) {
	log.Printf("[NODE] %v", err)
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
	if n.config.OnError != nil {
		n.config.OnError(err)
	}
}

func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}
