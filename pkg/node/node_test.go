package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/remote"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != "./data" {
		t.Errorf("expected DataDir './data', got %q", cfg.DataDir)
	}
	if !cfg.RPCEnabled {
		t.Error("expected RPCEnabled to be true")
	}
	if cfg.GRPCEnabled {
		t.Error("expected GRPCEnabled to be false")
	}
	if cfg.Session.MaxSessions != 1024 {
		t.Errorf("expected MaxSessions 1024, got %d", cfg.Session.MaxSessions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"in memory without dir", func(c *Config) { c.DataDir = ""; c.InMemory = true }, false},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, true},
		{"negative interval", func(c *Config) { c.ReapInterval = -time.Second }, true},
		{"bad session", func(c *Config) { c.Session.MaxSessions = -1 }, true},
		{"bad rpc", func(c *Config) { c.RPC.Addr = "" }, true},
		{"bad rpc disabled", func(c *Config) { c.RPC.Addr = ""; c.RPCEnabled = false }, false},
		{"bad grpc", func(c *Config) { c.GRPCEnabled = true; c.GRPC.MaxMessageSize = 0 }, true},
		{"bad dashboard", func(c *Config) { c.DashboardEnabled = true; c.Dashboard.Port = -1 }, true},
		{"bad dashboard disabled", func(c *Config) { c.Dashboard.Port = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("Validate() error = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intcoded.toml")
	content := `
data_dir = "/var/lib/intcode"
grpc_enabled = true
reap_interval = "45s"

[session]
max_sessions = 8
run_slice = 1000
idle_timeout = "5m"

[rpc]
addr = "127.0.0.1:9000"
log_requests = true

[grpc]
addr = "127.0.0.1:9001"
token = "secret"

[dashboard]
port = 9002
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.DataDir != "/var/lib/intcode" || !cfg.GRPCEnabled || cfg.ReapInterval != 45*time.Second {
		t.Errorf("top level = %+v", cfg)
	}
	if cfg.Session.MaxSessions != 8 || cfg.Session.RunSlice != 1000 || cfg.Session.IdleTimeout != 5*time.Minute {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.RPC.Addr != "127.0.0.1:9000" || !cfg.RPC.LogRequests {
		t.Errorf("rpc = %+v", cfg.RPC)
	}
	if cfg.GRPC.Token != "secret" {
		t.Errorf("grpc = %+v", cfg.GRPC)
	}
	if cfg.Dashboard.Port != 9002 || cfg.Dashboard.BindAddress != "127.0.0.1" {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	// Unset keys keep their defaults.
	if cfg.MaxImageWords != DefaultConfig().MaxImageWords || !cfg.RPCEnabled {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.RPC.MaxRequestSize != DefaultConfig().RPC.MaxRequestSize {
		t.Errorf("rpc defaults lost: %+v", cfg.RPC)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadConfig(missing) succeeded")
	}

	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("data_dir = "), 0644)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("LoadConfig(bad syntax) succeeded")
	}

	unknown := filepath.Join(dir, "unknown.toml")
	os.WriteFile(unknown, []byte("program_dir = \"x\"\n"), 0644)
	_, err := LoadConfig(unknown)
	if !errors.Is(err, ErrConfigInvalid) || !strings.Contains(err.Error(), "program_dir") {
		t.Errorf("LoadConfig(unknown key) error = %v", err)
	}
}

func TestNewNode(t *testing.T) {
	node, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	if node.config.DataDir != "./data" {
		t.Errorf("expected default DataDir, got %q", node.config.DataDir)
	}

	if _, err := New(&Config{}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("New(empty) error = %v, want ErrConfigInvalid", err)
	}

	if err := node.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() before Start = %v, want ErrNotRunning", err)
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.RPC.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Dashboard.Port = 0
	return cfg
}

func startNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func rpcCall(t *testing.T, addr, method string, params interface{}) json.RawMessage {
	t.Helper()

	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	resp, err := http.Post("http://"+addr, "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", method, err)
	}
	defer resp.Body.Close()

	var out struct {
		Result json.RawMessage  `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s: decode response: %v", method, err)
	}
	if out.Error != nil {
		t.Fatalf("%s: error %s", method, *out.Error)
	}
	return out.Result
}

func TestNodeLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.InMemory = true
	cfg.GRPCEnabled = true
	cfg.DashboardEnabled = true
	n := startNode(t, cfg)

	if err := n.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	waitFor(t, "servers", func() bool {
		return n.RPCAddr() != "" && n.GRPCAddr() != "" && n.DashboardAddr() != ""
	})

	// Load over JSON-RPC, run over gRPC.
	var loaded struct {
		Image string `json:"image"`
	}
	json.Unmarshal(rpcCall(t, n.RPCAddr(), "loadProgram", []interface{}{"3,0,1002,0,2,0,4,0,99", "double"}), &loaded)
	if loaded.Image == "" {
		t.Fatal("loadProgram returned no image")
	}

	client, err := remote.Dial(remote.DefaultClientConfig(n.GRPCAddr()))
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := client.Create(ctx, "double", 21)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	res, err := client.Run(ctx, info.ID, 0)
	if err != nil || res.Status != intcode.StatusHalted {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	out, err := client.Drain(ctx, info.ID)
	if err != nil || len(out) != 1 || out[0] != 42 {
		t.Fatalf("Drain() = %v, %v, want [42]", out, err)
	}

	resp, err := http.Get("http://" + n.DashboardAddr() + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	var status struct {
		IsRunning bool `json:"isRunning"`
		Halted    int  `json:"halted"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if err != nil || !status.IsRunning || status.Halted != 1 {
		t.Errorf("dashboard status = %+v, %v", status, err)
	}

	stats := n.Stats()
	if !stats.IsRunning || stats.Sessions.Live != 1 || stats.Images == nil || stats.Images.ImageCount != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if n.Stats().IsRunning {
		t.Error("Stats().IsRunning after Stop")
	}
	if err := n.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() = %v, want ErrNotRunning", err)
	}
}

func TestCheckpointSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPCEnabled = false
	n := startNode(t, cfg)

	image, err := n.Manager().LoadProgram("echo", "3,0,4,0,99")
	if err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	info, err := n.Manager().Create(image)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res, err := n.Manager().Run(info.ID, 0); err != nil || res.Status != intcode.StatusSuspended {
		t.Fatalf("Run() = %+v, %v", res, err)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	n = startNode(t, cfg)
	defer n.Stop()

	if got := n.Stats().Checkpoints; got != 1 {
		t.Errorf("Checkpoints after restart = %d, want 1", got)
	}
	restored, err := n.Manager().Restore(info.ID)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Image != image || restored.Status != intcode.StatusSuspended {
		t.Errorf("Restore() = %+v", restored)
	}
	if err := n.Manager().Push(info.ID, 5); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := n.Manager().Run(info.ID, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out, err := n.Manager().Drain(info.ID)
	if err != nil || len(out) != 1 || out[0] != 5 {
		t.Errorf("Drain() = %v, %v, want [5]", out, err)
	}
}

func TestReapLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.InMemory = true
	cfg.RPCEnabled = false
	cfg.ReapInterval = 10 * time.Millisecond
	cfg.Session.IdleTimeout = 20 * time.Millisecond
	n := startNode(t, cfg)
	defer n.Stop()

	image, err := n.Manager().LoadProgram("", "3,0,99")
	if err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	if _, err := n.Manager().Create(image); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	waitFor(t, "reap", func() bool { return n.Stats().Reaped == 1 })
	if live := n.Stats().Sessions.Live; live != 0 {
		t.Errorf("live sessions after reap = %d, want 0", live)
	}
}
