// Package grpc exposes the procedure table as the gRPC service userhub.RPC,
// one unary method per procedure, using a JSON codec instead of protobuf.
package grpc

import (
	"context"
	"encoding/json"
	"net"

	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/dmitrijs2005/userhub/internal/server/metrics"
	"github.com/dmitrijs2005/userhub/internal/server/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "userhub.RPC"

type GRPCServer struct {
	address string
	router  *rpc.Router
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewGRPCServer(address string, l logging.Logger, router *rpc.Router, m *metrics.Metrics) *GRPCServer {
	return &GRPCServer{
		address: address,
		router:  router,
		metrics: m,
		logger:  l.With("module", "grpc_server"),
	}
}

// FullMethod returns the gRPC method path of a procedure.
func FullMethod(procedure string) string {
	return "/" + ServiceName + "/" + procedure
}

// ServiceDesc describes userhub.RPC with one method per registered procedure.
func (s *GRPCServer) ServiceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "userhub/rpc",
	}
	for _, p := range s.router.Procedures() {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: p.Name,
			Handler:    s.methodHandler(p.Name),
		})
	}
	return desc
}

func (s *GRPCServer) methodHandler(procedure string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(json.RawMessage)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return s.invoke(ctx, procedure, *in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(procedure)}
		handler := func(ctx context.Context, req any) (any, error) {
			return s.invoke(ctx, procedure, *req.(*json.RawMessage))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// invoke dispatches to the router. Cookies are sent even when the call
// fails, so a failed logout still clears the client's session.
func (s *GRPCServer) invoke(ctx context.Context, procedure string, input json.RawMessage) (any, error) {
	jar := newMetadataJar(ctx)
	out, rpcErr := s.router.Handle(ctx, procedure, jar, input)

	if err := jar.flush(ctx); err != nil {
		s.logger.Warn(ctx, "failed to send cookies", "procedure", procedure, "error", err)
	}

	if rpcErr != nil {
		return nil, status.Error(grpcCode(rpcErr.Code), rpcErr.Message)
	}
	return out, nil
}

// NewServer builds a *grpc.Server with the interceptors and userhub.RPC
// registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.requestIDInterceptor, s.observeInterceptor))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(s.ServiceDesc(), s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

var toGRPC = map[rpc.Code]codes.Code{
	rpc.CodeBadRequest:   codes.InvalidArgument,
	rpc.CodeUnauthorized: codes.Unauthenticated,
	rpc.CodeForbidden:    codes.PermissionDenied,
	rpc.CodeConflict:     codes.AlreadyExists,
	rpc.CodeNotFound:     codes.NotFound,
	rpc.CodeInternal:     codes.Internal,
}

func grpcCode(c rpc.Code) codes.Code {
	if gc, ok := toGRPC[c]; ok {
		return gc
	}
	return codes.Unknown
}

// rpcCode maps a gRPC status code back to the RPC code used in logs and
// metrics.
func rpcCode(c codes.Code) rpc.Code {
	if c == codes.OK {
		return rpc.CodeOK
	}
	for k, v := range toGRPC {
		if v == c {
			return k
		}
	}
	return rpc.CodeInternal
}
