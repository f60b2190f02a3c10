package rpcclient

import (
	"errors"

	"github.com/fortiblox/intcode/pkg/rpc"
)

// Package errors.
var (
	// ErrNoEndpoints is returned when the pool has no endpoints at all.
	ErrNoEndpoints = errors.New("no RPC endpoints configured")

	// ErrNoHealthyEndpoints is returned when every endpoint is unhealthy.
	ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")

	// ErrPoolClosed is returned when operating on a stopped pool.
	ErrPoolClosed = errors.New("pool is closed")
)

// RPCError is an error returned by the node itself. Transport failures are
// returned as ordinary wrapped errors.
type RPCError = rpc.RPCError

// IsNotFound returns true if err reports an unknown session, program or
// checkpoint.
func IsNotFound(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case rpc.SessionNotFound, rpc.ImageNotFound, rpc.CheckpointNotFound:
		return true
	}
	return false
}

// IsRetryable returns true if the error is likely transient and worth
// retrying against another endpoint.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrPoolClosed) || errors.Is(err, ErrNoEndpoints) {
		return false
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		// The node answered; only an unhealthy node is worth another try.
		return rpcErr.Code == rpc.NodeUnhealthy
	}

	return true
}
