package rpc

import (
	"encoding/json"

	"github.com/fortiblox/intcode/internal/types"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/session"
)

// Param parsing helpers

// parseParams unmarshals positional params, requiring at least min entries.
func parseParams(params json.RawMessage, min int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("Invalid params: expected array")
		}
	}
	if len(args) < min {
		return nil, InvalidParamsErrorf("Invalid params: expected at least %d argument(s)", min)
	}
	return args, nil
}

// isNull reports whether an optional positional argument was omitted.
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func parseString(raw json.RawMessage, what string) (string, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", InvalidParamsErrorf("Invalid %s: expected string", what)
	}
	return s, nil
}

func parseSession(raw json.RawMessage) (types.SessionID, *RPCError) {
	s, rpcErr := parseString(raw, "session")
	if rpcErr != nil {
		return types.SessionID{}, rpcErr
	}
	id, err := types.ParseSessionID(s)
	if err != nil {
		return types.SessionID{}, InvalidParamsErrorf("Invalid session: %v", err)
	}
	return id, nil
}

func parseInt(raw json.RawMessage, what string) (int64, *RPCError) {
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, InvalidParamsErrorf("Invalid %s: expected integer", what)
	}
	return v, nil
}

func parseWords(raw json.RawMessage, what string) ([]int64, *RPCError) {
	var words []int64
	if err := json.Unmarshal(raw, &words); err != nil {
		return nil, InvalidParamsErrorf("Invalid %s: expected array of integers", what)
	}
	return words, nil
}

// resolveImage resolves a base58 image ID or a program name.
func (s *Server) resolveImage(raw json.RawMessage) (types.ImageID, string, *RPCError) {
	ref, rpcErr := parseString(raw, "program")
	if rpcErr != nil {
		return types.ImageID{}, "", rpcErr
	}
	id, err := imagestore.Resolve(s.manager.Images(), ref)
	if err != nil {
		return types.ImageID{}, ref, programError(ref, err)
	}
	return id, ref, nil
}

// Node methods

// getHealth returns the health status of the node.
func (s *Server) getHealth(params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version and instruction set.
func (s *Server) getVersion(params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		Version: s.config.Version,
		Opcodes: opcodeNames(),
	}, nil
}

// getStats returns session and image store counters.
func (s *Server) getStats(params json.RawMessage) (interface{}, *RPCError) {
	images, err := s.manager.Images().Stats()
	if err != nil {
		return nil, programError("", err)
	}
	return map[string]interface{}{
		"sessions": s.manager.Stats(),
		"images":   images,
	}, nil
}

// Program methods

// loadProgram stores a program. Params: [source, name?].
func (s *Server) loadProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	src, rpcErr := parseString(args[0], "source")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var name string
	if len(args) > 1 && !isNull(args[1]) {
		if name, rpcErr = parseString(args[1], "name"); rpcErr != nil {
			return nil, rpcErr
		}
	}

	id, err := s.manager.LoadProgram(name, src)
	if err != nil {
		return nil, programError(name, err)
	}
	img, err := s.manager.Images().Get(id)
	if err != nil {
		return nil, programError(id.String(), err)
	}
	return ProgramResult{Image: id, Size: img.Size}, nil
}

// getProgram returns a stored program. Params: [program].
func (s *Server) getProgram(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, ref, rpcErr := s.resolveImage(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	img, err := s.manager.Images().Get(id)
	if err != nil {
		return nil, programError(ref, err)
	}
	return ProgramInfo{
		ID:     img.ID,
		Name:   img.Name,
		Size:   img.Size,
		Source: img.Program.String(),
	}, nil
}

// listPrograms lists stored programs.
func (s *Server) listPrograms(params json.RawMessage) (interface{}, *RPCError) {
	infos, err := s.manager.Images().List()
	if err != nil {
		return nil, programError("", err)
	}
	if infos == nil {
		infos = []imagestore.Info{}
	}
	return infos, nil
}

// disassemble returns a listing of a stored program. Params: [program].
func (s *Server) disassemble(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, ref, rpcErr := s.resolveImage(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	img, err := s.manager.Images().Get(id)
	if err != nil {
		return nil, programError(ref, err)
	}
	lines := intcode.Disassemble(img.Program)
	if lines == nil {
		lines = []intcode.Line{}
	}
	return lines, nil
}

// Machine methods

// createMachine starts a machine. Params: [program, inputs?].
func (s *Server) createMachine(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, ref, rpcErr := s.resolveImage(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var inputs []int64
	if len(args) > 1 && !isNull(args[1]) {
		if inputs, rpcErr = parseWords(args[1], "inputs"); rpcErr != nil {
			return nil, rpcErr
		}
	}

	info, err := s.manager.Create(id, inputs...)
	if err != nil {
		return nil, programError(ref, err)
	}
	return info, nil
}

// getMachine describes a machine. Params: [session].
func (s *Server) getMachine(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return s.manager.Info(id)
	})
}

// listMachines lists live machines, oldest first.
func (s *Server) listMachines(params json.RawMessage) (interface{}, *RPCError) {
	infos := s.manager.List()
	if infos == nil {
		infos = []session.Info{}
	}
	return infos, nil
}

// forkMachine copies a machine into a new session. Params: [session].
func (s *Server) forkMachine(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return s.manager.Fork(id)
	})
}

// closeMachine ends a session. Params: [session].
func (s *Server) closeMachine(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return true, s.manager.Close(id)
	})
}

// Execution methods

// pushInput queues input values. Params: [session, values].
// The result is the number of pending inputs.
func (s *Server) pushInput(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	values, rpcErr := parseWords(args[1], "values")
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		if err := s.manager.Push(id, values...); err != nil {
			return nil, err
		}
		info, err := s.manager.Info(id)
		if err != nil {
			return nil, err
		}
		return info.PendingInputs, nil
	})
}

// run executes a machine. Params: [session, maxSteps?].
func (s *Server) run(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, args []json.RawMessage) (interface{}, error) {
		var maxSteps uint64
		if len(args) > 1 && !isNull(args[1]) {
			if err := json.Unmarshal(args[1], &maxSteps); err != nil {
				return nil, InvalidParamsError("Invalid maxSteps: expected non-negative integer")
			}
		}
		return s.manager.Run(id, maxSteps)
	})
}

// popOutput removes the oldest output. Params: [session].
func (s *Server) popOutput(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		v, ok, err := s.manager.Pop(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return OutputResult{}, nil
		}
		return OutputResult{Value: &v}, nil
	})
}

// drainOutputs removes all pending outputs. Params: [session].
func (s *Server) drainOutputs(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		out, err := s.manager.Drain(id)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = []int64{}
		}
		return out, nil
	})
}

// Memory methods

// poke writes a memory word. Params: [session, addr, value].
func (s *Server) poke(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 3)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseInt(args[1], "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	value, rpcErr := parseInt(args[2], "value")
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return true, s.manager.Poke(id, addr, value)
	})
}

// peek reads a memory word. Params: [session, addr].
func (s *Server) peek(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseInt(args[1], "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return s.manager.Peek(id, addr)
	})
}

// getMemory dumps machine memory. Params: [session, config?].
func (s *Server) getMemory(params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var cfg MemoryConfig
	if len(args) > 1 && !isNull(args[1]) {
		if err := json.Unmarshal(args[1], &cfg); err != nil {
			return nil, InvalidParamsError("Invalid memory config")
		}
	}
	encoding, ok := ParseEncoding(string(cfg.Encoding))
	if !ok {
		return nil, InvalidParamsErrorf("Unsupported encoding: %s", cfg.Encoding)
	}
	if cfg.Offset < 0 || cfg.Length < 0 {
		return nil, InvalidParamsError("Offset and length must be non-negative")
	}

	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		mem, err := s.manager.Memory(id)
		if err != nil {
			return nil, err
		}
		words := sliceWords(mem, cfg.Offset, cfg.Length)
		data, err := EncodeMemory(words, encoding)
		if err != nil {
			return nil, err
		}
		return MemoryDump{
			Encoding: encoding,
			Offset:   cfg.Offset,
			Length:   len(words),
			Size:     len(mem),
			Data:     data,
		}, nil
	})
}

// Checkpoint methods

// checkpoint saves a machine. Params: [session].
func (s *Server) checkpoint(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return true, s.manager.Checkpoint(id)
	})
}

// restore recreates a machine from its checkpoint. Params: [session].
func (s *Server) restore(params json.RawMessage) (interface{}, *RPCError) {
	return s.withSession(params, func(id types.SessionID, _ []json.RawMessage) (interface{}, error) {
		return s.manager.Restore(id)
	})
}

// listCheckpoints lists saved checkpoints.
func (s *Server) listCheckpoints(params json.RawMessage) (interface{}, *RPCError) {
	sums, err := s.manager.Checkpoints()
	if err != nil {
		return nil, sessionError(types.SessionID{}, err)
	}
	if sums == nil {
		return []interface{}{}, nil
	}
	return sums, nil
}

// withSession parses the leading session param and runs fn. Errors returned
// by fn are mapped to RPC errors; an *RPCError is passed through.
func (s *Server) withSession(params json.RawMessage, fn func(types.SessionID, []json.RawMessage) (interface{}, error)) (interface{}, *RPCError) {
	args, rpcErr := parseParams(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseSession(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, err := fn(id, args)
	if err != nil {
		if e, ok := err.(*RPCError); ok {
			return nil, e
		}
		return nil, sessionError(id, err)
	}
	return result, nil
}
