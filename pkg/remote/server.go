package remote

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/intcode/pkg/session"
)

// Default configuration values.
const (
	// DefaultMaxMessageSize bounds a single request or response (64MB).
	DefaultMaxMessageSize = 64 * 1024 * 1024

	// DefaultKeepaliveTime is the interval for keepalive pings.
	DefaultKeepaliveTime = 30 * time.Second

	// DefaultKeepaliveTimeout is the timeout for keepalive responses.
	DefaultKeepaliveTimeout = 10 * time.Second

	// tokenHeader carries the shared token of authenticated calls.
	tokenHeader = "x-token"
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid remote configuration")
	ErrNoEndpoint    = errors.New("remote endpoint is required")
)

// ServerConfig holds gRPC server configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr"`

	// Token, when set, is required in the x-token header of every call.
	Token string `toml:"token"`

	// MaxMessageSize bounds received and sent messages in bytes.
	MaxMessageSize int `toml:"max_message_size"`

	// KeepaliveTime is the server keepalive ping interval.
	KeepaliveTime time.Duration `toml:"keepalive_time"`

	// KeepaliveTimeout is how long to wait for a ping ack.
	KeepaliveTimeout time.Duration `toml:"keepalive_timeout"`
}

// DefaultServerConfig returns a default gRPC server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8646",
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// Validate checks the configuration.
func (c ServerConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime < 0 || c.KeepaliveTimeout < 0 {
		return fmt.Errorf("%w: keepalive durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Server serves the Machines service.
type Server struct {
	config ServerConfig
	grpc   *grpc.Server

	mu      sync.Mutex
	addr    net.Addr
	running bool
}

// NewServer creates a gRPC server backed by manager.
func NewServer(config ServerConfig, manager *session.Manager) *Server {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(config.MaxMessageSize),
		grpc.MaxSendMsgSize(config.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    config.KeepaliveTime,
			Timeout: config.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if config.Token != "" {
		opts = append(opts, grpc.UnaryInterceptor(tokenInterceptor(config.Token)))
	}

	gs := grpc.NewServer(opts...)
	RegisterMachinesServer(gs, &service{manager: manager})

	return &Server{
		config: config,
		grpc:   gs,
	}
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.addr = ln.Addr()
	s.mu.Unlock()

	log.Printf("[GRPC] Server listening on %s", ln.Addr())
	return s.grpc.Serve(ln)
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	err = s.Serve(ln)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop gracefully stops the server, waiting for pending calls. A server
// stopped before Serve refuses to serve.
func (s *Server) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.grpc.GracefulStop()
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// tokenInterceptor rejects calls without the shared token.
func tokenInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		got := md.Get(tokenHeader)
		if len(got) != 1 || subtle.ConstantTimeCompare([]byte(got[0]), []byte(token)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing token")
		}
		return handler(ctx, req)
	}
}
