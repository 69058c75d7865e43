package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKB   string
	}{
		{"invalid query", kberrors.New(kberrors.ErrCodeInvalidQuery, "query is empty", nil), ErrCodeInvalidParams, kberrors.ErrCodeInvalidQuery},
		{"index not found", kberrors.New(kberrors.ErrCodeIndexNotFound, "no index", nil), ErrCodeIndexNotFound, kberrors.ErrCodeIndexNotFound},
		{"index locked", kberrors.New(kberrors.ErrCodeIndexLocked, "locked", nil), ErrCodeUnavailable, kberrors.ErrCodeIndexLocked},
		{"network timeout", kberrors.New(kberrors.ErrCodeNetworkTimeout, "slow", nil), ErrCodeTimeout, kberrors.ErrCodeNetworkTimeout},
		{"internal", kberrors.InternalError("broken", nil), ErrCodeInternalError, ""},
		{"wrapped kb error", fmt.Errorf("search: %w", kberrors.New(kberrors.ErrCodeInvalidGrade, "grade 9", nil)), ErrCodeInvalidParams, kberrors.ErrCodeInvalidGrade},
		{"dimension mismatch", store.ErrDimensionMismatch{Expected: 64, Got: 32}, ErrCodeIndexNotFound, ""},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout, ""},
		{"canceled", fmt.Errorf("rank: %w", context.Canceled), ErrCodeTimeout, ""},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound, ""},
		{"unknown", errors.New("boom"), ErrCodeInternalError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)

			assert.Equal(t, tt.wantCode, got.Code)
			assert.NotEmpty(t, got.Message)
			if tt.wantKB != "" {
				assert.Equal(t, tt.wantKB, got.ErrorCode)
			}
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	orig := NewInvalidParamsError("limit is bad")
	assert.Same(t, orig, MapError(fmt.Errorf("wrapped: %w", orig)))
}

func TestMapError_AppendsSuggestion(t *testing.T) {
	err := kberrors.New(kberrors.ErrCodeIndexNotFound, "no index in ./data", nil).
		WithSuggestion("run 'kbfusion index <corpus.jsonl>'")

	got := MapError(err)
	assert.Equal(t, "no index in ./data. run 'kbfusion index <corpus.jsonl>'", got.Message)
}

func TestMCPError_Error(t *testing.T) {
	err := NewMethodNotFoundError("rank")
	assert.Equal(t, "MCP error -32601: Tool 'rank' not found.", err.Error())
}
