package grpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
)

// Call invokes procedure on conn with the JSON codec. in may be nil; out,
// when non-nil, receives the decoded result.
func Call(ctx context.Context, conn grpc.ClientConnInterface, procedure string, in, out any, opts ...grpc.CallOption) error {
	var req any
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		raw := json.RawMessage(b)
		req = &raw
	}

	reply := new(json.RawMessage)
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	if err := conn.Invoke(ctx, FullMethod(procedure), req, reply, opts...); err != nil {
		return err
	}

	if out != nil && len(*reply) > 0 {
		return json.Unmarshal(*reply, out)
	}
	return nil
}
