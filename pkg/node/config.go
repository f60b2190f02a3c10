package node

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fortiblox/intcode/pkg/dashboard"
	"github.com/fortiblox/intcode/pkg/remote"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/session"
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for the image and checkpoint stores.
	DataDir string `toml:"data_dir"`

	// InMemory keeps both stores in memory and ignores DataDir.
	InMemory bool `toml:"in_memory"`

	// DisableCheckpoints runs without a checkpoint store.
	DisableCheckpoints bool `toml:"disable_checkpoints"`

	// MaxImageWords bounds the size of a stored program.
	MaxImageWords int `toml:"max_image_words"`

	// NoSync disables fsync of the image store.
	NoSync bool `toml:"no_sync"`

	// ReapInterval is how often idle sessions are reaped. 0 disables reaping.
	ReapInterval time.Duration `toml:"reap_interval"`

	// GCInterval is how often the checkpoint value log is garbage collected.
	GCInterval time.Duration `toml:"gc_interval"`

	// RPCEnabled enables the JSON-RPC server.
	RPCEnabled bool `toml:"rpc_enabled"`

	// GRPCEnabled enables the gRPC server.
	GRPCEnabled bool `toml:"grpc_enabled"`

	// DashboardEnabled enables the read-only web dashboard.
	DashboardEnabled bool `toml:"dashboard_enabled"`

	Session   session.Config      `toml:"session"`
	RPC       rpc.Config          `toml:"rpc"`
	GRPC      remote.ServerConfig `toml:"grpc"`
	Dashboard dashboard.Config    `toml:"dashboard"`

	// OnError is called with errors from background components.
	OnError func(err error) `toml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:       "./data",
		MaxImageWords: 1 << 20,
		ReapInterval:  time.Minute,
		GCInterval:    10 * time.Minute,
		RPCEnabled:    true,
		GRPCEnabled:   false,
		Session:       session.DefaultConfig(),
		RPC:           rpc.DefaultConfig(),
		GRPC:          remote.DefaultServerConfig(),
		Dashboard:     dashboard.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.MaxImageWords < 0 {
		return fmt.Errorf("%w: max_image_words must not be negative", ErrConfigInvalid)
	}
	if c.ReapInterval < 0 || c.GCInterval < 0 {
		return fmt.Errorf("%w: intervals must not be negative", ErrConfigInvalid)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if c.RPCEnabled {
		if err := c.RPC.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}
	if c.GRPCEnabled {
		if err := c.GRPC.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}
	if c.DashboardEnabled {
		if err := c.Dashboard.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
	}
	return nil
}

// LoadConfig reads a TOML configuration file. Keys absent from the file keep
// their DefaultConfig values; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	config := DefaultConfig()
	md, err := toml.Decode(string(data), &config)
	if err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrConfigInvalid, path, strings.Join(keys, ", "))
	}
	return config, nil
}
