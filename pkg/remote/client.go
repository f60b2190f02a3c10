package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/session"
)

// ClientConfig holds the configuration for a Machines client.
type ClientConfig struct {
	// Endpoint is the gRPC endpoint (host:port). Required.
	Endpoint string

	// Token is sent in the x-token header of every call when set.
	Token string

	// UseTLS enables TLS for the connection.
	UseTLS bool

	// MaxMessageSize bounds received and sent messages in bytes.
	MaxMessageSize int

	// KeepaliveTime is the interval for keepalive pings.
	KeepaliveTime time.Duration

	// KeepaliveTimeout is the timeout for keepalive responses.
	KeepaliveTimeout time.Duration

	// DialOptions are appended to the client's own dial options.
	DialOptions []grpc.DialOption
}

// DefaultClientConfig returns a default client configuration for endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:         endpoint,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// Validate checks the configuration.
func (c ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Client calls the Machines service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a Machines service.
func Dial(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codecName),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      config.Token,
			requireTLS: config.UseTLS,
		}))
	}

	opts = append(opts, config.DialOptions...)

	//nolint:staticcheck // grpc.NewClient is not available in the pinned grpc version
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp)
}

// LoadProgram stores a program and returns its image ID.
func (c *Client) LoadProgram(ctx context.Context, name, source string) (types.ImageID, error) {
	var resp LoadProgramResponse
	if err := c.invoke(ctx, "LoadProgram", &LoadProgramRequest{Name: name, Source: source}, &resp); err != nil {
		return types.ImageID{}, err
	}
	return resp.Image, nil
}

// Create starts a machine running program, a base58 image ID or a name.
func (c *Client) Create(ctx context.Context, program string, inputs ...int64) (session.Info, error) {
	var info session.Info
	err := c.invoke(ctx, "Create", &CreateRequest{Program: program, Inputs: inputs}, &info)
	return info, err
}

// Push queues input and returns the number of pending inputs.
func (c *Client) Push(ctx context.Context, id types.SessionID, values ...int64) (int, error) {
	var resp PushResponse
	if err := c.invoke(ctx, "Push", &PushRequest{Session: id, Values: values}, &resp); err != nil {
		return 0, err
	}
	return resp.PendingInputs, nil
}

// Run runs a machine for at most maxSteps instructions; zero uses the
// server's run slice.
func (c *Client) Run(ctx context.Context, id types.SessionID, maxSteps uint64) (session.RunResult, error) {
	var res session.RunResult
	err := c.invoke(ctx, "Run", &RunRequest{Session: id, MaxSteps: maxSteps}, &res)
	return res, err
}

// Drain removes and returns pending outputs.
func (c *Client) Drain(ctx context.Context, id types.SessionID) ([]int64, error) {
	var resp DrainResponse
	if err := c.invoke(ctx, "Drain", &SessionRequest{Session: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Outputs, nil
}

// Poke writes a memory word.
func (c *Client) Poke(ctx context.Context, id types.SessionID, addr, value int64) error {
	return c.invoke(ctx, "Poke", &PokeRequest{Session: id, Addr: addr, Value: value}, &Empty{})
}

// CloseSession ends a session on the server.
func (c *Client) CloseSession(ctx context.Context, id types.SessionID) error {
	return c.invoke(ctx, "Close", &SessionRequest{Session: id}, &Empty{})
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		tokenHeader: t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}
