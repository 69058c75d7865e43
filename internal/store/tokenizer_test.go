package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{
			name:   "whitespace",
			input:  "hello world",
			expect: []string{"hello", "world"},
		},
		{
			name:   "punctuation",
			input:  "foo.bar(baz, qux)",
			expect: []string{"foo", "bar", "baz", "qux"},
		},
		{
			name:   "camel case",
			input:  "getUserById",
			expect: []string{"get", "user", "by", "id"},
		},
		{
			name:   "acronyms",
			input:  "parseHTTPRequest",
			expect: []string{"parse", "http", "request"},
		},
		{
			name:   "snake case",
			input:  "rrf_fusion_score",
			expect: []string{"rrf", "fusion", "score"},
		},
		{
			name:   "short tokens dropped",
			input:  "a b cd",
			expect: []string{"cd"},
		},
		{
			name:   "unicode letters",
			input:  "Größe",
			expect: []string{"größe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Tokenize(tt.input))
		})
	}
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("  ... !!"))
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"HTTP", "Handler"}, SplitCamelCase("HTTPHandler"))
	assert.Equal(t, []string{"simple"}, SplitCamelCase("simple"))
	assert.Equal(t, []string{}, SplitCamelCase(""))
}

func TestRemoveStopWords(t *testing.T) {
	stop := StopWordSet(DefaultStopWords)

	got := RemoveStopWords([]string{"the", "rank", "of", "fusion"}, stop)

	assert.Equal(t, []string{"rank", "fusion"}, got)
}
