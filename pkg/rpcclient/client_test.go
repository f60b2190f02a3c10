package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/rpc"
	"github.com/fortiblox/intcode/pkg/session"
)

func newTestClient(t *testing.T, urls ...string) (*Client, *Pool) {
	t.Helper()
	pool := NewPool(urls...)
	t.Cleanup(pool.Stop)
	return NewClient(pool, 5*time.Second), pool
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientEcho(t *testing.T) {
	_, ts := newNode(t)
	client, _ := newTestClient(t, ts.URL)
	ctx := testContext(t)

	if err := client.GetHealth(ctx); err != nil {
		t.Fatalf("GetHealth() error = %v", err)
	}
	version, err := client.GetVersion(ctx)
	if err != nil || len(version.Opcodes) == 0 {
		t.Fatalf("GetVersion() = %+v, %v", version, err)
	}

	prog, err := client.LoadProgram(ctx, "3,0,4,0,99", "echo")
	if err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	if prog.Image != types.HashImage([]int64{3, 0, 4, 0, 99}) || prog.Size != 5 {
		t.Errorf("LoadProgram() = %+v", prog)
	}

	info, err := client.CreateMachine(ctx, "echo")
	if err != nil {
		t.Fatalf("CreateMachine() error = %v", err)
	}

	res, err := client.Run(ctx, info.ID, 0)
	if err != nil || res.Status != intcode.StatusSuspended {
		t.Fatalf("Run() = %+v, %v, want suspended", res, err)
	}

	if _, ok, err := client.PopOutput(ctx, info.ID); ok || err != nil {
		t.Errorf("PopOutput() on empty queue = %v, %v", ok, err)
	}

	pending, err := client.PushInput(ctx, info.ID, 41)
	if err != nil || pending != 1 {
		t.Fatalf("PushInput() = %d, %v", pending, err)
	}

	res, err = client.Run(ctx, info.ID, 0)
	if err != nil || res.Status != intcode.StatusHalted {
		t.Fatalf("Run() = %+v, %v, want halted", res, err)
	}

	v, ok, err := client.PopOutput(ctx, info.ID)
	if err != nil || !ok || v != 41 {
		t.Errorf("PopOutput() = %d, %v, %v, want 41", v, ok, err)
	}

	got, err := client.GetMachine(ctx, info.ID)
	if err != nil || got.Status != intcode.StatusHalted || got.Steps != 3 {
		t.Errorf("GetMachine() = %+v, %v", got, err)
	}

	if err := client.CloseMachine(ctx, info.ID); err != nil {
		t.Fatalf("CloseMachine() error = %v", err)
	}
	machines, err := client.ListMachines(ctx)
	if err != nil || len(machines) != 0 {
		t.Errorf("ListMachines() = %v, %v, want none", machines, err)
	}
}

func TestClientPrograms(t *testing.T) {
	_, ts := newNode(t)
	client, _ := newTestClient(t, ts.URL)
	ctx := testContext(t)

	if _, err := client.LoadProgram(ctx, "1101,2,3,0,99", "add"); err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}

	programs, err := client.ListPrograms(ctx)
	if err != nil || len(programs) != 1 || programs[0].Name != "add" {
		t.Fatalf("ListPrograms() = %+v, %v", programs, err)
	}

	lines, err := client.Disassemble(ctx, "add")
	if err != nil {
		t.Fatalf("Disassemble() error = %v", err)
	}
	want := []string{"add #2, #3, [0]", "halt"}
	if len(lines) != len(want) {
		t.Fatalf("Disassemble() = %+v", lines)
	}
	for i, line := range lines {
		if line.Text != want[i] {
			t.Errorf("line %d = %q, want %q", i, line.Text, want[i])
		}
	}
}

func TestClientForkAndDrain(t *testing.T) {
	_, ts := newNode(t)
	client, _ := newTestClient(t, ts.URL)
	ctx := testContext(t)

	// Reads two inputs and outputs their sum.
	prog, err := client.LoadProgram(ctx, "3,12,3,13,1,12,13,14,4,14,99", "")
	if err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}

	parent, err := client.CreateMachine(ctx, prog.Image.String(), 10)
	if err != nil {
		t.Fatalf("CreateMachine() error = %v", err)
	}
	if _, err := client.Run(ctx, parent.ID, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	child, err := client.ForkMachine(ctx, parent.ID)
	if err != nil {
		t.Fatalf("ForkMachine() error = %v", err)
	}

	for id, second := range map[types.SessionID]int64{parent.ID: 1, child.ID: 2} {
		if _, err := client.PushInput(ctx, id, second); err != nil {
			t.Fatalf("PushInput() error = %v", err)
		}
		if _, err := client.Run(ctx, id, 0); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		out, err := client.DrainOutputs(ctx, id)
		if err != nil || !reflect.DeepEqual(out, []int64{10 + second}) {
			t.Errorf("DrainOutputs(%s) = %v, %v, want [%d]", id, out, err, 10+second)
		}
	}
}

func TestClientMemory(t *testing.T) {
	_, ts := newNode(t)
	client, _ := newTestClient(t, ts.URL)
	ctx := testContext(t)

	prog, err := client.LoadProgram(ctx, "1,0,0,0,99", "")
	if err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	info, err := client.CreateMachine(ctx, prog.Image.String())
	if err != nil {
		t.Fatalf("CreateMachine() error = %v", err)
	}

	if err := client.Poke(ctx, info.ID, 7, -3); err != nil {
		t.Fatalf("Poke() error = %v", err)
	}
	v, err := client.Peek(ctx, info.ID, 7)
	if err != nil || v != -3 {
		t.Errorf("Peek(7) = %d, %v, want -3", v, err)
	}

	want := []int64{1, 0, 0, 0, 99, 0, 0, -3}
	for _, enc := range []rpc.Encoding{rpc.EncodingJSON, rpc.EncodingBase58, rpc.EncodingBase64, rpc.EncodingBase64Zstd} {
		t.Run(string(enc), func(t *testing.T) {
			words, err := client.GetMemory(ctx, info.ID, rpc.MemoryConfig{Encoding: enc})
			if err != nil {
				t.Fatalf("GetMemory() error = %v", err)
			}
			if !reflect.DeepEqual(words, want) {
				t.Errorf("GetMemory() = %v, want %v", words, want)
			}
		})
	}

	window, err := client.GetMemory(ctx, info.ID, rpc.MemoryConfig{Offset: 4, Length: 2})
	if err != nil || !reflect.DeepEqual(window, []int64{99, 0}) {
		t.Errorf("GetMemory(window) = %v, %v", window, err)
	}

	if err := client.Poke(ctx, info.ID, -1, 0); err == nil {
		t.Error("Poke(-1) succeeded")
	}
}

func TestClientCheckpoints(t *testing.T) {
	manager, err := session.NewManager(session.DefaultConfig(), imagestore.NewMemoryStore(0), checkpoint.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	ts := httptest.NewServer(rpc.New(rpc.DefaultConfig(), manager).Handler())
	defer ts.Close()

	client, _ := newTestClient(t, ts.URL)
	ctx := testContext(t)

	prog, err := client.LoadProgram(ctx, "3,0,4,0,99", "")
	if err != nil {
		t.Fatalf("LoadProgram() error = %v", err)
	}
	info, err := client.CreateMachine(ctx, prog.Image.String())
	if err != nil {
		t.Fatalf("CreateMachine() error = %v", err)
	}
	if _, err := client.Run(ctx, info.ID, 0); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if err := client.Checkpoint(ctx, info.ID); err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	if err := client.CloseMachine(ctx, info.ID); err != nil {
		t.Fatalf("CloseMachine() error = %v", err)
	}

	sums, err := client.ListCheckpoints(ctx)
	if err != nil || len(sums) != 1 || sums[0].Session != info.ID {
		t.Fatalf("ListCheckpoints() = %+v, %v", sums, err)
	}

	restored, err := client.Restore(ctx, info.ID)
	if err != nil || restored.Status != intcode.StatusSuspended {
		t.Fatalf("Restore() = %+v, %v", restored, err)
	}
}

func TestClientErrors(t *testing.T) {
	_, ts := newNode(t)
	client, pool := newTestClient(t, ts.URL)
	ctx := testContext(t)

	_, err := client.GetMachine(ctx, types.NewSessionID())
	if !IsNotFound(err) {
		t.Errorf("GetMachine(unknown) = %v, want not found", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.SessionNotFound {
		t.Errorf("GetMachine(unknown) = %v, want code %d", err, rpc.SessionNotFound)
	}

	if _, err := client.CreateMachine(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("CreateMachine(missing) = %v, want not found", err)
	}

	if _, err := client.LoadProgram(ctx, "1,x", ""); IsNotFound(err) || err == nil {
		t.Errorf("LoadProgram(bad) = %v, want invalid params", err)
	}

	if _, err := client.ListCheckpoints(ctx); err == nil {
		t.Error("ListCheckpoints() without a store succeeded")
	}

	// Errors from the node do not count against the endpoint.
	if status := pool.EndpointStatus(); !status[0].Healthy || status[0].FailCount != 0 {
		t.Errorf("EndpointStatus() = %+v", status)
	}
}

func TestClientFailover(t *testing.T) {
	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	_, live := newNode(t)
	client, pool := newTestClient(t, deadURL, live.URL)
	pool.SetMaxFailures(1)
	ctx := testContext(t)

	// Reads fail over to the next endpoint.
	if _, err := client.GetVersion(ctx); err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if url, _ := pool.GetHealthy(); url != live.URL {
		t.Errorf("GetHealthy() = %q, want live endpoint", url)
	}

	// Writes are sent once.
	pool.MarkSuccess(deadURL, 0)
	if _, err := client.LoadProgram(ctx, "99", ""); err == nil || !IsRetryable(err) {
		t.Errorf("LoadProgram() via dead endpoint = %v, want transport error", err)
	}

	pool.RemoveEndpoint(live.URL)
	if _, err := client.GetVersion(ctx); err == nil {
		t.Error("GetVersion() with no healthy endpoints succeeded")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrPoolClosed, false},
		{fmt.Errorf("get endpoint: %w", ErrNoEndpoints), false},
		{fmt.Errorf("get endpoint: %w", ErrNoHealthyEndpoints), true},
		{errors.New("connection refused"), true},
		{&RPCError{Code: rpc.NodeUnhealthy}, true},
		{&RPCError{Code: rpc.SessionNotFound}, false},
		{&RPCError{Code: rpc.InvalidParams}, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
