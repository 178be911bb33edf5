package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dmitrijs2005/userhub/internal/server/rpc"
	"github.com/gin-gonic/gin"
)

const (
	maxBodyBytes = 1 << 20

	codeMethodNotSupported = "METHOD_NOT_SUPPORTED"
	procedureKey           = "procedure"
	rpcCodeKey             = "rpcCode"
)

var statusByCode = map[rpc.Code]int{
	rpc.CodeBadRequest:   http.StatusBadRequest,
	rpc.CodeUnauthorized: http.StatusUnauthorized,
	rpc.CodeForbidden:    http.StatusForbidden,
	rpc.CodeConflict:     http.StatusConflict,
	rpc.CodeNotFound:     http.StatusNotFound,
	rpc.CodeInternal:     http.StatusInternalServerError,
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.Set(rpcCodeKey, code)
	c.JSON(status, gin.H{"error": errorBody{Code: code, Message: message}})
}

func writeRPCError(c *gin.Context, e *rpc.Error) {
	status, ok := statusByCode[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeError(c, status, string(e.Code), e.Message)
}

// unwrapInput accepts either {"input": <value>} or the bare value.
func unwrapInput(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var envelope map[string]json.RawMessage
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &envelope) == nil && len(envelope) == 1 {
		if in, ok := envelope["input"]; ok {
			return in
		}
	}
	return trimmed
}

func (s *HTTPServer) handlePost(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		writeError(c, http.StatusBadRequest, string(rpc.CodeBadRequest), "cannot read request body")
		return
	}
	s.dispatch(c, unwrapInput(body))
}

// handleGet serves queries with the input JSON in ?input=.
func (s *HTTPServer) handleGet(c *gin.Context) {
	name := c.Param(procedureKey)
	if p, ok := s.router.Lookup(name); ok && p.Kind != rpc.Query {
		writeError(c, http.StatusMethodNotAllowed, codeMethodNotSupported, "mutations must use POST")
		return
	}

	var input json.RawMessage
	if q, ok := c.GetQuery("input"); ok {
		input = json.RawMessage(q)
	}
	s.dispatch(c, input)
}

func (s *HTTPServer) dispatch(c *gin.Context, input json.RawMessage) {
	name := c.Param(procedureKey)
	if _, ok := s.router.Lookup(name); ok {
		c.Set(procedureKey, name)
	}

	out, rpcErr := s.router.Handle(c.Request.Context(), name, &ginJar{c: c}, input)
	if rpcErr != nil {
		writeRPCError(c, rpcErr)
		return
	}

	c.Set(rpcCodeKey, string(rpc.CodeOK))
	c.JSON(http.StatusOK, gin.H{"result": gin.H{"data": out}})
}
