package rpc

import (
	"encoding/json"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/intcode"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Encoding selects how machine memory is returned by getMemory.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSON       Encoding = "json"
)

// MemoryConfig is the optional configuration object of getMemory.
type MemoryConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
	Offset   int64    `json:"offset,omitempty"`
	Length   int64    `json:"length,omitempty"`
}

// MemoryDump is the result of getMemory. Data is a string for the binary
// encodings and an array of words for EncodingJSON. Binary encodings carry
// the words as little-endian int64.
type MemoryDump struct {
	Encoding Encoding    `json:"encoding"`
	Offset   int64       `json:"offset"`
	Length   int         `json:"length"`
	Size     int         `json:"size"`
	Data     interface{} `json:"data"`
}

// ProgramResult is the result of loadProgram.
type ProgramResult struct {
	Image types.ImageID `json:"image"`
	Size  int           `json:"size"`
}

// ProgramInfo is the result of getProgram.
type ProgramInfo struct {
	ID     types.ImageID `json:"id"`
	Name   string        `json:"name,omitempty"`
	Size   int           `json:"size"`
	Source string        `json:"source"`
}

// OutputResult is the result of popOutput. Value is nil when the output
// queue was empty.
type OutputResult struct {
	Value *int64 `json:"value"`
}

// VersionInfo is the result of getVersion.
type VersionInfo struct {
	Version string   `json:"version"`
	Opcodes []string `json:"opcodes"`
}

// opcodeNames lists the supported instruction mnemonics in opcode order.
func opcodeNames() []string {
	ops := []intcode.Opcode{
		intcode.OpAdd, intcode.OpMultiply, intcode.OpInput, intcode.OpOutput,
		intcode.OpJumpIfTrue, intcode.OpJumpIfFalse, intcode.OpLessThan,
		intcode.OpEquals, intcode.OpAdjustBase, intcode.OpHalt,
	}
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.String()
	}
	return names
}
