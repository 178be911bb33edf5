package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// requestIDInterceptor takes x-request-id from the client or generates one,
// echoes it in the response header and stores it in the context.
func (s *GRPCServer) requestIDInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.RequestIDHeaderName); len(values) > 0 {
			id = values[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	if err := grpc.SetHeader(ctx, metadata.Pairs(common.RequestIDHeaderName, id)); err != nil {
		s.logger.Debug(ctx, "cannot set request id header", "error", err)
	}

	return handler(logging.WithRequestID(ctx, id), req)
}

// observeInterceptor logs one line per call and records metrics.
func (s *GRPCServer) observeInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	elapsed := time.Since(start)

	procedure := info.FullMethod[strings.LastIndex(info.FullMethod, "/")+1:]
	code := rpcCode(status.Code(err))

	s.metrics.Observe(procedure, "grpc", string(code), elapsed)
	s.logger.Info(ctx, "rpc",
		"transport", "grpc",
		"procedure", procedure,
		"code", string(code),
		"duration", elapsed,
	)

	return resp, err
}
