// Package rpcclient provides a JSON-RPC client for Intcode nodes.
//
// A Client sends calls to the highest priority healthy endpoint of a Pool.
// Transport failures count against the endpoint's health; errors returned by
// the node itself are surfaced as *RPCError and leave the endpoint healthy.
//
// Usage:
//
//	pool := rpcclient.NewPool("http://127.0.0.1:8645")
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	client := rpcclient.NewClient(pool, rpcclient.DefaultRequestTimeout)
//	res, err := client.LoadProgram(ctx, "3,0,4,0,99", "echo")
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/session"
)

// maxResponseSize bounds a response body.
const maxResponseSize = 64 << 20

// readOnly lists the methods that are safe to retry on another endpoint.
var readOnly = map[string]bool{
	"getHealth":       true,
	"getVersion":      true,
	"getStats":        true,
	"getProgram":      true,
	"listPrograms":    true,
	"disassemble":     true,
	"getMachine":      true,
	"listMachines":    true,
	"peek":            true,
	"getMemory":       true,
	"listCheckpoints": true,
}

// Client issues JSON-RPC calls against a pool of nodes.
type Client struct {
	httpClient *http.Client
	pool       *Pool
	nextID     atomic.Uint64
}

// NewClient creates a new client over pool.
func NewClient(pool *Pool, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pool: pool,
	}
}

// rpcResponse is a JSON-RPC 2.0 response with the result left undecoded.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// call makes a JSON-RPC call. Read-only methods are retried on the next
// healthy endpoint when the transport fails.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	attempts := 1
	if readOnly[method] && c.pool.TotalCount() > 1 {
		attempts = c.pool.TotalCount()
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = c.callOnce(ctx, method, params, result)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) callOnce(ctx context.Context, method string, params []interface{}, result interface{}) error {
	url, err := c.pool.GetHealthy()
	if err != nil {
		return fmt.Errorf("get endpoint: %w", err)
	}

	start := time.Now()

	var rawParams json.RawMessage
	if params != nil {
		if rawParams, err = json.Marshal(params); err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
	}
	body, err := json.Marshal(rpc.Request{
		JSONRPC: rpc.JSONRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.pool.MarkFailure(url)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.pool.MarkFailure(url)
		return fmt.Errorf("read response: %w", err)
	}

	// The server answers JSON-RPC errors with 200, so any other status is
	// an endpoint problem.
	if resp.StatusCode != http.StatusOK {
		c.pool.MarkFailure(url)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.pool.MarkFailure(url)
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil && rpcResp.Error.Code == rpc.NodeUnhealthy {
		c.pool.MarkFailure(url)
		return rpcResp.Error
	}
	c.pool.MarkSuccess(url, time.Since(start))

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Node methods

// GetHealth returns nil if the node reports itself healthy.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("unexpected health status %q", status)
	}
	return nil
}

// GetVersion returns the node version and instruction set.
func (c *Client) GetVersion(ctx context.Context) (*rpc.VersionInfo, error) {
	var info rpc.VersionInfo
	if err := c.call(ctx, "getVersion", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Program methods

// LoadProgram stores a program under an optional name.
func (c *Client) LoadProgram(ctx context.Context, source, name string) (*rpc.ProgramResult, error) {
	params := []interface{}{source}
	if name != "" {
		params = append(params, name)
	}
	var res rpc.ProgramResult
	if err := c.call(ctx, "loadProgram", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListPrograms lists the stored images.
func (c *Client) ListPrograms(ctx context.Context) ([]imagestore.Info, error) {
	var infos []imagestore.Info
	err := c.call(ctx, "listPrograms", nil, &infos)
	return infos, err
}

// Disassemble returns the listing of a stored program.
func (c *Client) Disassemble(ctx context.Context, program string) ([]intcode.Line, error) {
	var lines []intcode.Line
	err := c.call(ctx, "disassemble", []interface{}{program}, &lines)
	return lines, err
}

// Machine methods

// CreateMachine starts a machine running program, an image ID or a name.
func (c *Client) CreateMachine(ctx context.Context, program string, inputs ...int64) (*session.Info, error) {
	params := []interface{}{program}
	if len(inputs) > 0 {
		params = append(params, inputs)
	}
	return c.sessionInfo(ctx, "createMachine", params)
}

// GetMachine returns a machine's state.
func (c *Client) GetMachine(ctx context.Context, id types.SessionID) (*session.Info, error) {
	return c.sessionInfo(ctx, "getMachine", []interface{}{id})
}

// ForkMachine copies a machine into a new session.
func (c *Client) ForkMachine(ctx context.Context, id types.SessionID) (*session.Info, error) {
	return c.sessionInfo(ctx, "forkMachine", []interface{}{id})
}

// ListMachines lists live machines.
func (c *Client) ListMachines(ctx context.Context) ([]session.Info, error) {
	var infos []session.Info
	err := c.call(ctx, "listMachines", nil, &infos)
	return infos, err
}

// CloseMachine ends a session.
func (c *Client) CloseMachine(ctx context.Context, id types.SessionID) error {
	return c.call(ctx, "closeMachine", []interface{}{id}, nil)
}

func (c *Client) sessionInfo(ctx context.Context, method string, params []interface{}) (*session.Info, error) {
	var info session.Info
	if err := c.call(ctx, method, params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Execution methods

// PushInput queues input values and returns the number of pending inputs.
func (c *Client) PushInput(ctx context.Context, id types.SessionID, values ...int64) (int, error) {
	if values == nil {
		values = []int64{}
	}
	var pending int
	err := c.call(ctx, "pushInput", []interface{}{id, values}, &pending)
	return pending, err
}

// Run runs a machine for at most maxSteps instructions; zero uses the node's
// run slice.
func (c *Client) Run(ctx context.Context, id types.SessionID, maxSteps uint64) (*session.RunResult, error) {
	params := []interface{}{id}
	if maxSteps > 0 {
		params = append(params, maxSteps)
	}
	var res session.RunResult
	if err := c.call(ctx, "run", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PopOutput removes the oldest output. ok is false when none is pending.
func (c *Client) PopOutput(ctx context.Context, id types.SessionID) (v int64, ok bool, err error) {
	var res rpc.OutputResult
	if err := c.call(ctx, "popOutput", []interface{}{id}, &res); err != nil {
		return 0, false, err
	}
	if res.Value == nil {
		return 0, false, nil
	}
	return *res.Value, true, nil
}

// DrainOutputs removes and returns all pending outputs.
func (c *Client) DrainOutputs(ctx context.Context, id types.SessionID) ([]int64, error) {
	var out []int64
	err := c.call(ctx, "drainOutputs", []interface{}{id}, &out)
	return out, err
}

// Memory methods

// Poke writes a memory word.
func (c *Client) Poke(ctx context.Context, id types.SessionID, addr, value int64) error {
	return c.call(ctx, "poke", []interface{}{id, addr, value}, nil)
}

// Peek reads a memory word.
func (c *Client) Peek(ctx context.Context, id types.SessionID, addr int64) (int64, error) {
	var v int64
	err := c.call(ctx, "peek", []interface{}{id, addr}, &v)
	return v, err
}

// GetMemory fetches a window of machine memory and decodes it. A zero length
// means to the end of memory.
func (c *Client) GetMemory(ctx context.Context, id types.SessionID, cfg rpc.MemoryConfig) ([]int64, error) {
	var dump struct {
		Encoding rpc.Encoding    `json:"encoding"`
		Data     json.RawMessage `json:"data"`
	}
	if err := c.call(ctx, "getMemory", []interface{}{id, cfg}, &dump); err != nil {
		return nil, err
	}

	if dump.Encoding == rpc.EncodingJSON {
		var words []int64
		if err := json.Unmarshal(dump.Data, &words); err != nil {
			return nil, fmt.Errorf("decode memory: %w", err)
		}
		return words, nil
	}

	var encoded string
	if err := json.Unmarshal(dump.Data, &encoded); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return rpc.DecodeMemory(encoded, dump.Encoding)
}

// Checkpoint methods

// Checkpoint saves a machine on the node.
func (c *Client) Checkpoint(ctx context.Context, id types.SessionID) error {
	return c.call(ctx, "checkpoint", []interface{}{id}, nil)
}

// Restore recreates a machine from its checkpoint.
func (c *Client) Restore(ctx context.Context, id types.SessionID) (*session.Info, error) {
	return c.sessionInfo(ctx, "restore", []interface{}{id})
}

// ListCheckpoints lists saved checkpoints.
func (c *Client) ListCheckpoints(ctx context.Context) ([]checkpoint.Summary, error) {
	var sums []checkpoint.Summary
	err := c.call(ctx, "listCheckpoints", nil, &sums)
	return sums, err
}
