package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/session"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Service error codes.
const (
	// SessionNotFound indicates no live machine has the given session ID.
	SessionNotFound = -32001

	// ImageNotFound indicates the program reference did not resolve.
	ImageNotFound = -32002

	// TooManySessions indicates the session limit was reached.
	TooManySessions = -32003

	// CheckpointNotFound indicates no checkpoint exists for the session.
	CheckpointNotFound = -32004

	// NodeUnhealthy indicates the node is unhealthy or shutting down.
	NodeUnhealthy = -32005

	// CheckpointsDisabled indicates the node runs without a checkpoint store.
	CheckpointsDisabled = -32006

	// MemoryLimit indicates a write would exceed the machine memory limit.
	MemoryLimit = -32007
)

// Common error messages.
var (
	ErrParseError          = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest      = NewRPCError(InvalidRequest, "Invalid Request")
	ErrRequestTooLarge     = NewRPCError(InvalidRequest, "Request too large")
	ErrMethodNotFound      = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams       = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError       = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy       = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrTooManySessions     = NewRPCError(TooManySessions, "Too many sessions")
	ErrCheckpointsDisabled = NewRPCError(CheckpointsDisabled, "Checkpoints are disabled on this node")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// SessionNotFoundError creates an error for an unknown session.
func SessionNotFoundError(id types.SessionID) *RPCError {
	return NewRPCErrorWithData(SessionNotFound,
		fmt.Sprintf("Session %s not found", id),
		map[string]string{"session": id.String()})
}

// ImageNotFoundError creates an error for an unresolvable program reference.
func ImageNotFoundError(ref string) *RPCError {
	return NewRPCErrorWithData(ImageNotFound,
		fmt.Sprintf("Program %s not found", ref),
		map[string]string{"program": ref})
}

// CheckpointNotFoundError creates an error for a missing checkpoint.
func CheckpointNotFoundError(id types.SessionID) *RPCError {
	return NewRPCErrorWithData(CheckpointNotFound,
		fmt.Sprintf("No checkpoint for session %s", id),
		map[string]string{"session": id.String()})
}

// sessionError maps an error returned by the session manager for the given
// session to an RPC error.
func sessionError(id types.SessionID, err error) *RPCError {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return SessionNotFoundError(id)
	case errors.Is(err, checkpoint.ErrCheckpointNotFound):
		return CheckpointNotFoundError(id)
	case errors.Is(err, session.ErrNoCheckpointStore):
		return ErrCheckpointsDisabled
	case errors.Is(err, session.ErrTooManySessions):
		return ErrTooManySessions
	case errors.Is(err, session.ErrClosed):
		return ErrNodeUnhealthy
	case errors.Is(err, intcode.ErrMemoryLimit):
		return NewRPCError(MemoryLimit, err.Error())
	case errors.Is(err, intcode.ErrInvalidAddress):
		return InvalidParamsError(err.Error())
	case errors.Is(err, imagestore.ErrImageNotFound):
		return ImageNotFoundError(err.Error())
	default:
		return InternalServerErrorf("%v", err)
	}
}

// programError maps an error from loading or resolving a program.
func programError(ref string, err error) *RPCError {
	switch {
	case errors.Is(err, imagestore.ErrImageNotFound):
		return ImageNotFoundError(ref)
	case errors.Is(err, intcode.ErrParse),
		errors.Is(err, intcode.ErrEmptyProgram),
		errors.Is(err, intcode.ErrTooLarge),
		errors.Is(err, imagestore.ErrImageTooLarge):
		return InvalidParamsError(err.Error())
	case errors.Is(err, session.ErrTooManySessions):
		return ErrTooManySessions
	case errors.Is(err, session.ErrClosed), errors.Is(err, imagestore.ErrClosed):
		return ErrNodeUnhealthy
	default:
		return InternalServerErrorf("%v", err)
	}
}
