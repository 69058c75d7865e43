package facet

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/kbfusion/internal/store"
)

func TestAggregate_CountsAndOrder(t *testing.T) {
	// Given: a page with repeated and missing values
	page := []*store.Resource{
		{ID: "1", Classification: "004", Type: "article", Language: "en"},
		{ID: "2", Classification: "006", Type: "paper", Language: "en"},
		{ID: "3", Classification: "004", Type: "article"},
		{ID: "4", Classification: "", Type: "paper", Language: "de"},
		nil,
	}

	// When: I aggregate
	f := Aggregate(page)

	// Then: counts sort desc, ties by key, and empty values are skipped
	assert.Equal(t, []Bucket{{"004", 2}, {"006", 1}}, f[Classification])
	assert.Equal(t, []Bucket{{"article", 2}, {"paper", 2}}, f[Type])
	assert.Equal(t, []Bucket{{"en", 2}, {"de", 1}}, f[Language])
}

func TestAggregate_SumMatchesNonEmptyResults(t *testing.T) {
	page := []*store.Resource{
		{Language: "en"}, {Language: " "}, {Language: "fr"}, {},
	}

	f := Aggregate(page)

	assert.Equal(t, 2, f.Total(Language))
	assert.Equal(t, 0, f.Total(Type))
}

func TestAggregate_EmptyPageHasAllFields(t *testing.T) {
	f := Aggregate(nil)

	for _, field := range Fields {
		assert.Contains(t, f, field)
		assert.NotNil(t, f[field])
		assert.Empty(t, f[field])
	}
}
