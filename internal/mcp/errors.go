package mcp

import (
	"fmt"

	"github.com/paragraf/paragraf/internal/errors"
)

// JSON-RPC error codes. -32602 and -32603 are reserved by the protocol;
// the -320xx range is ours.
const (
	CodeInvalidParams = -32602
	CodeInternal      = -32603
	CodeNotFound      = -32001
	CodeSyncRunning   = -32002
	CodeUpstream      = -32003
)

// MCPError is a protocol-level tool failure. Domain misses (unknown law,
// absent section) are rendered as normal Norwegian responses instead and
// never reach this type.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError reports a malformed tool input.
func NewInvalidParamsError(message string) *MCPError {
	return &MCPError{Code: CodeInvalidParams, Message: message}
}

// MapError translates internal error kinds onto JSON-RPC codes. Unknown
// errors become internal errors with the message preserved.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	if mcpErr, ok := err.(*MCPError); ok {
		return mcpErr
	}
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return &MCPError{Code: CodeInvalidParams, Message: err.Error()}
	case errors.KindNotFound:
		return &MCPError{Code: CodeNotFound, Message: err.Error()}
	case errors.KindLockConflict:
		return &MCPError{Code: CodeSyncRunning, Message: err.Error()}
	case errors.KindTransient:
		return &MCPError{Code: CodeUpstream, Message: err.Error()}
	default:
		return &MCPError{Code: CodeInternal, Message: err.Error()}
	}
}
