// Package jsonrpc holds the JSON-RPC 2.0 envelope used by the MCP endpoint.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the only JSON-RPC version accepted.
const Version = "2.0"

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

const (
	CodeParseError     ErrorCode = mcp.PARSE_ERROR
	CodeInvalidRequest ErrorCode = mcp.INVALID_REQUEST
	CodeMethodNotFound ErrorCode = mcp.METHOD_NOT_FOUND
	CodeInvalidParams  ErrorCode = mcp.INVALID_PARAMS
	CodeInternalError  ErrorCode = mcp.INTERNAL_ERROR

	// CodeAuthRequired mirrors the HTTP status so hosts that only look at the
	// error code still see an authentication failure.
	CodeAuthRequired ErrorCode = 401
)

// Request is a JSON-RPC request or notification.
//
// ID is kept raw so it is echoed back exactly as sent. A request without an
// id member is a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC error object. It also implements error so handlers can
// return it directly.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error.
func NewError(code ErrorCode, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// NewResult builds a successful response.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: normalizeID(id)}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: normalizeID(id)}
}

// normalizeID returns a JSON null for a missing id.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Decode parses a single request. A body that is not JSON yields a parse
// error; JSON that is not a valid request object yields an invalid request
// error. Both are returned as *Error.
func Decode(body []byte) (*Request, *Error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, NewError(CodeParseError, "Parse error", "empty request body")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		if body[0] == '[' && json.Valid(body) {
			return nil, NewError(CodeInvalidRequest, "Invalid Request", "batch requests are not supported")
		}
		return nil, NewError(CodeParseError, "Parse error", err.Error())
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewError(CodeInvalidRequest, "Invalid Request", err.Error())
	}
	if id, ok := raw["id"]; ok {
		req.ID = id
		if len(req.ID) == 0 {
			req.ID = json.RawMessage("null")
		}
	}

	if req.JSONRPC != Version {
		return &req, NewError(CodeInvalidRequest, "Invalid Request", fmt.Sprintf("jsonrpc must be %q", Version))
	}
	if req.Method == "" {
		return &req, NewError(CodeInvalidRequest, "Invalid Request", "method is required")
	}
	if !validID(req.ID) {
		return &req, NewError(CodeInvalidRequest, "Invalid Request", "id must be a string, number or null")
	}

	return &req, nil
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	default:
		return false
	}
}
