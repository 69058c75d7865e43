// Package mcp exposes search, method comparison and evaluation as Model
// Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

// Custom MCP error codes for kbfusion.
const (
	// ErrCodeIndexNotFound indicates the data directory holds no usable index.
	ErrCodeIndexNotFound = -32001

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeUnavailable indicates a backend is temporarily unavailable.
	ErrCodeUnavailable = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// ErrorCode is the kbfusion ERR_ code, when known.
	ErrorCode string `json:"error_code,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var kbErr *kberrors.KBError
	if errors.As(err, &kbErr) {
		return mapKBError(kbErr)
	}

	var dimErr store.ErrDimensionMismatch
	switch {
	case errors.As(err, &dimErr):
		return &MCPError{Code: ErrCodeIndexNotFound, Message: dimErr.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{Code: ErrCodeMethodNotFound, Message: "Tool not found."}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{Code: ErrCodeInvalidParams, Message: "Invalid parameters."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// mapKBError maps a KBError category to an MCP error code.
func mapKBError(e *kberrors.KBError) *MCPError {
	message := e.Message
	if e.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", e.Message, e.Suggestion)
	}
	out := &MCPError{Message: message, ErrorCode: e.Code}

	switch e.Category {
	case kberrors.CategoryValidation:
		out.Code = ErrCodeInvalidParams
	case kberrors.CategoryIO:
		switch e.Code {
		case kberrors.ErrCodeIndexNotFound, kberrors.ErrCodeCorruptIndex:
			out.Code = ErrCodeIndexNotFound
		case kberrors.ErrCodeIndexLocked:
			out.Code = ErrCodeUnavailable
		default:
			out.Code = ErrCodeInternalError
		}
	case kberrors.CategoryNetwork:
		if e.Code == kberrors.ErrCodeNetworkTimeout {
			out.Code = ErrCodeTimeout
		} else {
			out.Code = ErrCodeUnavailable
		}
	default: // config, internal and unknown
		out.Code = ErrCodeInternalError
	}
	return out
}
