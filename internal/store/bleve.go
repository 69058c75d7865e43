package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// KBTokenizerName splits on punctuation and identifier boundaries.
	KBTokenizerName = "kb_tokenizer"

	// KBAnalyzerName is the analyzer used for every indexed field.
	KBAnalyzerName = "kb_analyzer"

	fieldTitle   = "title"
	fieldContent = "content"

	// titleBoost favours resources whose title matches the terms.
	titleBoost = 2.0
)

func init() {
	_ = registry.RegisterTokenizer(KBTokenizerName, kbTokenizerConstructor)
}

var errIndexClosed = errors.New("index is closed")

// BleveIndex implements LexicalIndex over bleve v2 (BM25 scoring).
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// bleveDocument is the indexed shape of a Resource. Content concatenates
// title, description and text.
type bleveDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// NewBleveIndex opens or creates the index at path. An empty path creates
// an in-memory index. A corrupted on-disk index is cleared and recreated;
// the caller must reindex.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im, err := newIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if verr := validateIndexMeta(path); verr != nil {
			slog.Warn("lexical_index_corrupted", slog.String("path", path), slog.String("error", verr.Error()))
			if rerr := os.RemoveAll(path); rerr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, rerr, verr)
			}
		}

		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open lexical index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// validateIndexMeta checks index_meta.json before bleve tries to open the
// index, since a truncated meta file makes Open fail in unhelpful ways.
func validateIndexMeta(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return errors.New("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer(KBAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": KBTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			en.StopName,
			porter.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add analyzer: %w", err)
	}
	im.DefaultAnalyzer = KBAnalyzerName

	text := bleve.NewTextFieldMapping()
	text.Analyzer = KBAnalyzerName
	text.Store = false
	text.IncludeTermVectors = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldContent, text)
	im.DefaultMapping = doc

	return im, nil
}

// Index adds or replaces resources.
func (b *BleveIndex) Index(ctx context.Context, resources []*Resource) error {
	if len(resources) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errIndexClosed
	}

	batch := b.index.NewBatch()
	for _, r := range resources {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := bleveDocument{
			Title:   r.Title,
			Content: strings.Join([]string{r.Title, r.Description, r.Text}, "\n"),
		}
		if err := batch.Index(r.ID, doc); err != nil {
			return fmt.Errorf("failed to index resource %s: %w", r.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search runs q and returns hits best-first. Phrases are required; terms
// are optional when phrases are present. Ties on score sort by id.
func (b *BleveIndex) Search(ctx context.Context, q LexicalQuery, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errIndexClosed
	}

	q.Terms = strings.TrimSpace(q.Terms)
	if q.IsEmpty() || limit <= 0 {
		return []Hit{}, nil
	}

	bq := bleve.NewBooleanQuery()
	for _, p := range q.Phrases {
		pq := bleve.NewMatchPhraseQuery(p)
		pq.SetField(fieldContent)
		bq.AddMust(pq)
	}
	if q.Terms != "" {
		content := bleve.NewMatchQuery(q.Terms)
		content.SetField(fieldContent)
		title := bleve.NewMatchQuery(q.Terms)
		title.SetField(fieldTitle)
		title.SetBoost(titleBoost)
		bq.AddShould(content, title)
		if len(q.Phrases) == 0 {
			bq.SetMinShould(1)
		}
	}

	req := bleve.NewSearchRequest(bq)
	req.Size = limit
	req.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed resources.
func (b *BleveIndex) Count() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, errIndexClosed
	}
	n, err := b.index.DocCount()
	return int(n), err
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ LexicalIndex = (*BleveIndex)(nil)

func kbTokenizerConstructor(_ map[string]any, _ *registry.Cache) (analysis.Tokenizer, error) {
	return kbTokenizer{}, nil
}

// kbTokenizer emits the same tokens as Tokenize, with byte offsets into
// the input. Case is left to the lowercase filter.
type kbTokenizer struct{}

func (kbTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	stream := make(analysis.TokenStream, 0, len(text)/6)
	pos := 1

	for _, loc := range tokenRegex.FindAllStringIndex(text, -1) {
		word := text[loc[0]:loc[1]]
		cursor := 0
		for _, part := range SplitIdentifier(word) {
			off := strings.Index(word[cursor:], part)
			if off < 0 {
				continue
			}
			start := loc[0] + cursor + off
			end := start + len(part)
			cursor += off + len(part)

			if utf8.RuneCountInString(part) < 2 {
				continue
			}
			stream = append(stream, &analysis.Token{
				Term:     []byte(part),
				Start:    start,
				End:      end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
	}
	return stream
}
