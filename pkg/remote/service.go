// Package remote serves machine sessions over gRPC.
//
// The service is described by a hand-written grpc.ServiceDesc and carries
// JSON messages under the "json" content-subtype, so clients need no
// generated code. Client wraps a connection with typed calls.
package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fortiblox/intcode/pkg/checkpoint"
	"github.com/fortiblox/intcode/pkg/imagestore"
	"github.com/fortiblox/intcode/pkg/intcode"
	"github.com/fortiblox/intcode/pkg/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "intcode.v1.Machines"

// MachinesServer is the server API of the Machines service.
type MachinesServer interface {
	LoadProgram(context.Context, *LoadProgramRequest) (*LoadProgramResponse, error)
	Create(context.Context, *CreateRequest) (*session.Info, error)
	Push(context.Context, *PushRequest) (*PushResponse, error)
	Run(context.Context, *RunRequest) (*session.RunResult, error)
	Drain(context.Context, *SessionRequest) (*DrainResponse, error)
	Poke(context.Context, *PokeRequest) (*Empty, error)
	Close(context.Context, *SessionRequest) (*Empty, error)
}

// RegisterMachinesServer registers srv on s.
func RegisterMachinesServer(s grpc.ServiceRegistrar, srv MachinesServer) {
	s.RegisterService(&machinesServiceDesc, srv)
}

var machinesServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MachinesServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadProgram", Handler: unaryHandler("LoadProgram", func(srv MachinesServer, ctx context.Context, req *LoadProgramRequest) (interface{}, error) {
			return srv.LoadProgram(ctx, req)
		})},
		{MethodName: "Create", Handler: unaryHandler("Create", func(srv MachinesServer, ctx context.Context, req *CreateRequest) (interface{}, error) {
			return srv.Create(ctx, req)
		})},
		{MethodName: "Push", Handler: unaryHandler("Push", func(srv MachinesServer, ctx context.Context, req *PushRequest) (interface{}, error) {
			return srv.Push(ctx, req)
		})},
		{MethodName: "Run", Handler: unaryHandler("Run", func(srv MachinesServer, ctx context.Context, req *RunRequest) (interface{}, error) {
			return srv.Run(ctx, req)
		})},
		{MethodName: "Drain", Handler: unaryHandler("Drain", func(srv MachinesServer, ctx context.Context, req *SessionRequest) (interface{}, error) {
			return srv.Drain(ctx, req)
		})},
		{MethodName: "Poke", Handler: unaryHandler("Poke", func(srv MachinesServer, ctx context.Context, req *PokeRequest) (interface{}, error) {
			return srv.Poke(ctx, req)
		})},
		{MethodName: "Close", Handler: unaryHandler("Close", func(srv MachinesServer, ctx context.Context, req *SessionRequest) (interface{}, error) {
			return srv.Close(ctx, req)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intcode/v1/machines",
}

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req any](method string, call func(MachinesServer, context.Context, *Req) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MachinesServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, r interface{}) (interface{}, error) {
			return call(srv.(MachinesServer), ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// service implements MachinesServer on a session manager.
type service struct {
	manager *session.Manager
}

func (s *service) LoadProgram(ctx context.Context, req *LoadProgramRequest) (*LoadProgramResponse, error) {
	id, err := s.manager.LoadProgram(req.Name, req.Source)
	if err != nil {
		return nil, toStatus(err)
	}
	img, err := s.manager.Images().Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &LoadProgramResponse{Image: id, Size: img.Size}, nil
}

func (s *service) Create(ctx context.Context, req *CreateRequest) (*session.Info, error) {
	id, err := imagestore.Resolve(s.manager.Images(), req.Program)
	if err != nil {
		return nil, toStatus(err)
	}
	info, err := s.manager.Create(id, req.Inputs...)
	if err != nil {
		return nil, toStatus(err)
	}
	return &info, nil
}

func (s *service) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	if err := s.manager.Push(req.Session, req.Values...); err != nil {
		return nil, toStatus(err)
	}
	info, err := s.manager.Info(req.Session)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PushResponse{PendingInputs: info.PendingInputs}, nil
}

func (s *service) Run(ctx context.Context, req *RunRequest) (*session.RunResult, error) {
	res, err := s.manager.Run(req.Session, req.MaxSteps)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func (s *service) Drain(ctx context.Context, req *SessionRequest) (*DrainResponse, error) {
	out, err := s.manager.Drain(req.Session)
	if err != nil {
		return nil, toStatus(err)
	}
	if out == nil {
		out = []int64{}
	}
	return &DrainResponse{Outputs: out}, nil
}

func (s *service) Poke(ctx context.Context, req *PokeRequest) (*Empty, error) {
	if err := s.manager.Poke(req.Session, req.Addr, req.Value); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *service) Close(ctx context.Context, req *SessionRequest) (*Empty, error) {
	if err := s.manager.Close(req.Session); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// toStatus maps service errors to gRPC status errors.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, imagestore.ErrImageNotFound),
		errors.Is(err, checkpoint.ErrCheckpointNotFound):
		code = codes.NotFound
	case errors.Is(err, intcode.ErrParse),
		errors.Is(err, intcode.ErrEmptyProgram),
		errors.Is(err, intcode.ErrTooLarge),
		errors.Is(err, intcode.ErrInvalidAddress),
		errors.Is(err, imagestore.ErrImageTooLarge):
		code = codes.InvalidArgument
	case errors.Is(err, session.ErrTooManySessions),
		errors.Is(err, intcode.ErrMemoryLimit):
		code = codes.ResourceExhausted
	case errors.Is(err, session.ErrNoCheckpointStore):
		code = codes.FailedPrecondition
	case errors.Is(err, session.ErrClosed),
		errors.Is(err, imagestore.ErrClosed):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
