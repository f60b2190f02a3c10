// Package rpc implements the JSON-RPC 2.0 server for the Intcode node.
//
// The server exposes the session manager over HTTP so that clients can load
// programs, start machines, feed them input and collect their output.
//
// Supported methods:
//   - Node: getHealth, getVersion, getStats
//   - Program: loadProgram, getProgram, listPrograms, disassemble
//   - Machine: createMachine, getMachine, listMachines, forkMachine, closeMachine
//   - Execution: pushInput, run, popOutput, drainOutputs
//   - Memory: poke, peek, getMemory
//   - Checkpoint: checkpoint, restore, listCheckpoints
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fortiblox/intcode/pkg/session"
)

// ErrConfigInvalid is returned by Config.Validate.
var ErrConfigInvalid = errors.New("invalid rpc config")

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `toml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `toml:"write_timeout"`

	// MaxRequestSize is the maximum allowed request body size in bytes.
	MaxRequestSize int64 `toml:"max_request_size"`

	// MaxBatchSize caps the number of requests in one batch.
	MaxBatchSize int `toml:"max_batch_size"`

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool `toml:"enable_cors"`

	// AllowedOrigins specifies allowed CORS origins (empty means all).
	AllowedOrigins []string `toml:"allowed_origins"`

	// LogRequests enables request logging.
	LogRequests bool `toml:"log_requests"`

	// Version is reported by getVersion.
	Version string `toml:"-"`
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8645",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		MaxRequestSize: 32 * 1024 * 1024, // programs travel in request bodies
		MaxBatchSize:   100,
		EnableCORS:     true,
		LogRequests:    false,
		Version:        "dev",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: empty listen address", ErrConfigInvalid)
	}
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: max request size must be positive", ErrConfigInvalid)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive", ErrConfigInvalid)
	}
	return nil
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config

	manager *session.Manager

	healthy  bool
	healthMu sync.RWMutex

	// HTTP server
	server *http.Server
	addr   net.Addr

	handlers map[string]handlerFunc

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(params json.RawMessage) (interface{}, *RPCError)

// New creates a new RPC server backed by manager.
func New(config Config, manager *session.Manager) *Server {
	s := &Server{
		config:   config,
		manager:  manager,
		healthy:  true,
		handlers: make(map[string]handlerFunc),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all RPC method handlers.
func (s *Server) registerHandlers() {
	// Node methods
	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
	s.handlers["getStats"] = s.getStats

	// Program methods
	s.handlers["loadProgram"] = s.loadProgram
	s.handlers["getProgram"] = s.getProgram
	s.handlers["listPrograms"] = s.listPrograms
	s.handlers["disassemble"] = s.disassemble

	// Machine methods
	s.handlers["createMachine"] = s.createMachine
	s.handlers["getMachine"] = s.getMachine
	s.handlers["listMachines"] = s.listMachines
	s.handlers["forkMachine"] = s.forkMachine
	s.handlers["closeMachine"] = s.closeMachine

	// Execution methods
	s.handlers["pushInput"] = s.pushInput
	s.handlers["run"] = s.run
	s.handlers["popOutput"] = s.popOutput
	s.handlers["drainOutputs"] = s.drainOutputs

	// Memory methods
	s.handlers["poke"] = s.poke
	s.handlers["peek"] = s.peek
	s.handlers["getMemory"] = s.getMemory

	// Checkpoint methods
	s.handlers["checkpoint"] = s.checkpoint
	s.handlers["restore"] = s.restore
	s.handlers["listCheckpoints"] = s.listCheckpoints
}

// Handler returns the HTTP handler serving JSON-RPC requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// Start starts the RPC server and blocks until ctx is cancelled or the
// server is stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	s.running = true
	s.addr = ln.Addr()
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[RPC] Server listening on %s", ln.Addr())

	err = srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// SetHealthy sets the server health status.
func (s *Server) SetHealthy(healthy bool) {
	s.healthMu.Lock()
	s.healthy = healthy
	s.healthMu.Unlock()
}

// IsHealthy returns the current health status.
func (s *Server) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, allowedOrigin := range s.config.AllowedOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			s.writeError(w, nil, ErrInvalidRequest)
			return
		}
	}

	// Read one byte past the limit to detect oversized bodies.
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
	if err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	if int64(len(body)) > s.config.MaxRequestSize {
		s.writeError(w, nil, ErrRequestTooLarge)
		return
	}

	body = trimLeadingSpace(body)
	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if req.JSONRPC != JSONRPCVersion {
		s.writeError(w, req.ID, ErrInvalidRequest)
		return
	}

	result, rpcErr := s.call(req)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr)
		return
	}

	s.writeResult(w, req.ID, result)
}

// handleBatchRequest handles batch JSON-RPC requests.
func (s *Server) handleBatchRequest(w http.ResponseWriter, body []byte) {
	var requests []Request
	if err := json.Unmarshal(body, &requests); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if len(requests) == 0 || len(requests) > s.config.MaxBatchSize {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}

	responses := make([]Response, len(requests))
	for i, req := range requests {
		if req.JSONRPC != JSONRPCVersion {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   ErrInvalidRequest,
			}
			continue
		}

		result, rpcErr := s.call(req)
		if rpcErr != nil {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Error:   rpcErr,
			}
		} else {
			responses[i] = Response{
				JSONRPC: JSONRPCVersion,
				ID:      req.ID,
				Result:  result,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// call logs and dispatches a single request.
func (s *Server) call(req Request) (interface{}, *RPCError) {
	if !s.config.LogRequests {
		return s.dispatch(req.Method, req.Params)
	}

	start := time.Now()
	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		log.Printf("[RPC] %s id=%v error=%d (%s) in %s", req.Method, req.ID, rpcErr.Code, rpcErr.Message, time.Since(start))
	} else {
		log.Printf("[RPC] %s id=%v ok in %s", req.Method, req.ID, time.Since(start))
	}
	return result, rpcErr
}

// dispatch routes RPC methods to their handlers.
func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}

	return handler(params)
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	resp := Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}
