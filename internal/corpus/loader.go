// Package corpus loads knowledge-base resources from JSONL files and indexes
// them into the reference lexical, dense and sparse backends.
package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	kberrors "github.com/Aman-CERP/kbfusion/internal/errors"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 8 * 1024 * 1024

// Load reads a JSONL corpus file, one resource per line.
func Load(path string) ([]*store.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.New(kberrors.ErrCodeFileNotFound, "corpus file not found: "+path, err)
		}
		return nil, kberrors.StoreError("failed to open corpus file", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode parses JSONL resources from r. Blank lines and lines starting with
// '#' are skipped. A record without an id, a repeated id, or a line that
// is not a JSON object fails with the line number.
func Decode(r io.Reader) ([]*store.Resource, error) {
	var out []*store.Resource
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}

		var res store.Resource
		if err := json.Unmarshal(text, &res); err != nil {
			return nil, malformed(line, "invalid JSON", err)
		}
		res.ID = strings.TrimSpace(res.ID)
		if res.ID == "" {
			return nil, malformed(line, "missing id", nil)
		}
		if first, ok := seen[res.ID]; ok {
			return nil, malformed(line, fmt.Sprintf("duplicate id %q (first seen on line %d)", res.ID, first), nil)
		}
		if res.QualityScore < 0 || res.QualityScore > 1 {
			return nil, malformed(line, fmt.Sprintf("quality_score %g is outside [0,1]", res.QualityScore), nil)
		}
		seen[res.ID] = line
		out = append(out, &res)
	}
	if err := sc.Err(); err != nil {
		return nil, malformed(line+1, "unreadable line", err)
	}
	return out, nil
}

func malformed(line int, msg string, cause error) error {
	return kberrors.New(kberrors.ErrCodeCorpusMalformed, fmt.Sprintf("corpus line %d: %s", line, msg), cause).
		WithDetail("line", fmt.Sprint(line)).
		WithSuggestion("each line must be a JSON object with a unique \"id\"")
}

// indexText is the text embedded and encoded for a resource.
func indexText(r *store.Resource) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{r.Title, r.Description, r.Text} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}
