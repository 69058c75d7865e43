// Package rerank rescores the head of a fused ranking.
package rerank

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/kbfusion/internal/store"
)

// Provider names accepted by configuration.
const (
	ProviderNone    = "none"
	ProviderOverlap = "overlap"
	ProviderHTTP    = "http"
)

// Document is the text a reranker scores.
type Document struct {
	ID          string
	Title       string
	Description string
	Text        string
}

// DocumentFrom builds a Document from resource metadata. A nil resource
// yields a document carrying only the ID.
func DocumentFrom(id string, r *store.Resource) Document {
	if r == nil {
		return Document{ID: id}
	}
	return Document{ID: id, Title: r.Title, Description: r.Description, Text: r.Text}
}

// Content joins the document fields for rerankers that take plain text.
func (d Document) Content() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.Title, d.Description, d.Text} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// Reranker scores documents against a query.
type Reranker interface {
	// Rerank returns one score per document, in input order. Higher is
	// more relevant.
	Rerank(ctx context.Context, query string, docs []Document) ([]float64, error)

	// Available reports whether the reranker can currently serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// NoOpReranker keeps the input order.
type NoOpReranker struct{}

// Rerank returns strictly decreasing scores 1, 1/2, 1/3, ...
func (NoOpReranker) Rerank(_ context.Context, _ string, docs []Document) ([]float64, error) {
	scores := make([]float64, len(docs))
	for i := range docs {
		scores[i] = 1 / float64(i+1)
	}
	return scores, nil
}

func (NoOpReranker) Available(context.Context) bool { return true }

func (NoOpReranker) Close() error { return nil }

// DefaultTitleBoost is how much a title match counts relative to a body match.
const DefaultTitleBoost = 2.0

// OverlapReranker scores by query-term coverage: each distinct query term
// found in the title counts titleBoost, in the description or text counts 1,
// and the sum is divided by its maximum so scores fall in [0,1].
type OverlapReranker struct {
	titleBoost float64
	stopWords  map[string]struct{}
}

// NewOverlapReranker creates a local reranker. titleBoost <= 0 selects
// DefaultTitleBoost.
func NewOverlapReranker(titleBoost float64) *OverlapReranker {
	if titleBoost <= 0 {
		titleBoost = DefaultTitleBoost
	}
	return &OverlapReranker{
		titleBoost: titleBoost,
		stopWords:  store.StopWordSet(store.DefaultStopWords),
	}
}

func (o *OverlapReranker) terms(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range store.RemoveStopWords(store.Tokenize(text), o.stopWords) {
		set[t] = struct{}{}
	}
	return set
}

// Rerank scores each document. A query without indexable terms scores
// every document 0.
func (o *OverlapReranker) Rerank(ctx context.Context, query string, docs []Document) ([]float64, error) {
	scores := make([]float64, len(docs))
	q := o.terms(query)
	if len(q) == 0 {
		return scores, nil
	}
	maxScore := float64(len(q)) * (o.titleBoost + 1)

	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		title := o.terms(d.Title)
		body := o.terms(d.Description + "\n" + d.Text)

		var s float64
		for t := range q {
			if _, ok := title[t]; ok {
				s += o.titleBoost
			}
			if _, ok := body[t]; ok {
				s++
			}
		}
		scores[i] = s / maxScore
	}
	return scores, nil
}

func (o *OverlapReranker) Available(context.Context) bool { return true }

func (o *OverlapReranker) Close() error { return nil }

// New returns the reranker for provider. ProviderNone returns nil; the
// HTTP provider needs cfg.Endpoint.
func New(provider string, cfg HTTPConfig) (Reranker, error) {
	switch provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderOverlap:
		return NewOverlapReranker(0), nil
	case ProviderHTTP:
		r, err := NewHTTPReranker(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", provider)
	}
}

var (
	_ Reranker = NoOpReranker{}
	_ Reranker = (*OverlapReranker)(nil)
)
