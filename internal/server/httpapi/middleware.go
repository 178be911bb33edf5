package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/userhub/internal/common"
	"github.com/dmitrijs2005/userhub/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ginJar adapts a gin.Context to services.CookieJar.
type ginJar struct {
	c *gin.Context
}

func (j *ginJar) Cookie(name string) (string, bool) {
	v, err := j.c.Cookie(name)
	if err != nil {
		return "", false
	}
	return v, true
}

func (j *ginJar) SetCookie(cookie *http.Cookie) {
	http.SetCookie(j.c.Writer, cookie)
}

// requestID reuses the client's x-request-id or generates one and echoes it.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(common.RequestIDHeaderName)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Header(common.RequestIDHeaderName, id)
		c.Next()
	}
}

// observe logs one line per RPC call and records metrics. Requests outside
// /trpc are not observed.
func (s *HTTPServer) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := c.GetString(rpcCodeKey)
		if code == "" {
			return
		}
		procedure := c.GetString(procedureKey)
		if procedure == "" {
			procedure = "unknown"
		}
		elapsed := time.Since(start)

		s.metrics.Observe(procedure, "http", code, elapsed)
		s.logger.Info(c.Request.Context(), "rpc",
			"transport", "http",
			"procedure", procedure,
			"code", code,
			"status", c.Writer.Status(),
			"duration", elapsed,
		)
	}
}
