package grpc

import (
	"context"
	"net/http"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Metadata keys that carry cookies over gRPC, named after their HTTP
// counterparts.
const (
	cookieMDKey    = "cookie"
	setCookieMDKey = "set-cookie"
)

// metadataJar reads cookies from incoming "cookie" metadata and queues
// Set-Cookie values for the response header.
type metadataJar struct {
	in map[string]string

	mu  sync.Mutex
	out []*http.Cookie
}

func newMetadataJar(ctx context.Context) *metadataJar {
	j := &metadataJar{in: map[string]string{}}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return j
	}
	for _, line := range md.Get(cookieMDKey) {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if _, seen := j.in[c.Name]; !seen {
				j.in[c.Name] = c.Value
			}
		}
	}
	return j
}

func (j *metadataJar) Cookie(name string) (string, bool) {
	v, ok := j.in[name]
	return v, ok
}

func (j *metadataJar) SetCookie(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.out = append(j.out, c)
}

// flush sends the queued cookies as set-cookie header metadata.
func (j *metadataJar) flush(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.out) == 0 {
		return nil
	}
	kv := make([]string, 0, 2*len(j.out))
	for _, c := range j.out {
		kv = append(kv, setCookieMDKey, c.String())
	}
	return grpc.SetHeader(ctx, metadata.Pairs(kv...))
}
