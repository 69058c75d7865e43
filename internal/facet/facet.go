// Package facet counts categorical values over a page of results.
package facet

import (
	"sort"
	"strings"

	"github.com/Aman-CERP/kbfusion/internal/store"
)

// Field is a facetable resource attribute.
type Field string

const (
	Classification Field = "classification"
	Type           Field = "type"
	Language       Field = "language"
)

// Fields lists the facet fields in output order.
var Fields = []Field{Classification, Type, Language}

// Bucket is one value and how many results carry it.
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Facets maps a field to its buckets, sorted by count desc then key asc.
// Every field in Fields is present, possibly with no buckets.
type Facets map[Field][]Bucket

// Total returns the sum of bucket counts for f.
func (f Facets) Total(field Field) int {
	n := 0
	for _, b := range f[field] {
		n += b.Count
	}
	return n
}

func value(r *store.Resource, f Field) string {
	switch f {
	case Classification:
		return r.Classification
	case Type:
		return r.Type
	case Language:
		return r.Language
	}
	return ""
}

// Aggregate counts field values over resources. Nil resources and empty or
// whitespace-only values are not counted.
func Aggregate(resources []*store.Resource) Facets {
	out := make(Facets, len(Fields))
	for _, f := range Fields {
		counts := make(map[string]int)
		for _, r := range resources {
			if r == nil {
				continue
			}
			if v := strings.TrimSpace(value(r, f)); v != "" {
				counts[v]++
			}
		}

		buckets := make([]Bucket, 0, len(counts))
		for k, n := range counts {
			buckets = append(buckets, Bucket{Key: k, Count: n})
		}
		sort.Slice(buckets, func(i, j int) bool {
			if buckets[i].Count != buckets[j].Count {
				return buckets[i].Count > buckets[j].Count
			}
			return buckets[i].Key < buckets[j].Key
		})
		out[f] = buckets
	}
	return out
}
