package eval

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_WorkedExample(t *testing.T) {
	// Given: judgments {X:3, Y:1, Z:0} and ranking [X, Z, Y]
	j := Judgments{"X": 3, "Y": 1, "Z": 0}
	ranking := []string{"X", "Z", "Y"}

	// Then: the metrics at K=3 match the hand computation
	assert.InDelta(t, 2.0/3, PrecisionAtK(ranking, j, 3), 1e-12)
	assert.InDelta(t, 1.0, RecallAtK(ranking, j, 3), 1e-12)
	assert.InDelta(t, 1.0, MRR(ranking, j), 1e-12)

	// DCG = 7/log2(2) + 0 + 1/log2(4); ideal [X, Y, Z] = 7/log2(2) + 1/log2(3)
	want := (7 + 1/math.Log2(4)) / (7 + 1/math.Log2(3))
	assert.InDelta(t, want, NDCGAtK(ranking, j, 3), 1e-12)
}

func TestPrecisionAtK_DividesByK(t *testing.T) {
	j := Judgments{"a": 1}

	assert.InDelta(t, 0.2, PrecisionAtK([]string{"a"}, j, 5), 1e-12)
	assert.Zero(t, PrecisionAtK([]string{"a"}, j, 0))
}

func TestRecallAtK(t *testing.T) {
	j := Judgments{"a": 2, "b": 1, "c": 3, "d": 0}

	tests := []struct {
		name    string
		ranking []string
		k       int
		want    float64
	}{
		{"all relevant found", []string{"c", "a", "b"}, 3, 1},
		{"cutoff hides one", []string{"c", "a", "b"}, 2, 2.0 / 3},
		{"irrelevant judged", []string{"d", "x"}, 2, 0},
		{"empty ranking", nil, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RecallAtK(tt.ranking, j, tt.k), 1e-12)
		})
	}
}

func TestNDCGAtK_PerfectAndReversed(t *testing.T) {
	j := Judgments{"a": 3, "b": 2, "c": 1}

	assert.InDelta(t, 1.0, NDCGAtK([]string{"a", "b", "c"}, j, 3), 1e-12)
	assert.Less(t, NDCGAtK([]string{"c", "b", "a"}, j, 3), 1.0)

	// unjudged resources count as grade 0
	assert.InDelta(t, NDCGAtK([]string{"a", "z"}, j, 2), NDCGAtK([]string{"a", "y"}, j, 2), 1e-12)
}

func TestMRR_UsesWholeRanking(t *testing.T) {
	j := Judgments{"r": 1}
	ranking := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "r"}

	assert.InDelta(t, 1.0/12, MRR(ranking, j), 1e-12)
	assert.Zero(t, MRR([]string{"a"}, j))
}

func TestMetrics_NoRelevantIsZero(t *testing.T) {
	j := Judgments{"a": 0, "b": 0}
	ranking := []string{"a", "b"}

	assert.Zero(t, PrecisionAtK(ranking, j, 2))
	assert.Zero(t, RecallAtK(ranking, j, 2))
	assert.Zero(t, NDCGAtK(ranking, j, 2))
	assert.Zero(t, MRR(ranking, j))
}

func TestMetrics_StayWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	for trial := 0; trial < 200; trial++ {
		j := Judgments{}
		for _, id := range pool {
			if rng.Intn(2) == 0 {
				j[id] = rng.Intn(4)
			}
		}
		ranking := append([]string(nil), pool...)
		rng.Shuffle(len(ranking), func(a, b int) { ranking[a], ranking[b] = ranking[b], ranking[a] })
		ranking = ranking[:rng.Intn(len(ranking)+1)]
		k := rng.Intn(10) + 1

		for name, v := range map[string]float64{
			"precision": PrecisionAtK(ranking, j, k),
			"recall":    RecallAtK(ranking, j, k),
			"ndcg":      NDCGAtK(ranking, j, k),
			"mrr":       MRR(ranking, j),
		} {
			assert.GreaterOrEqual(t, v, 0.0, name)
			assert.LessOrEqual(t, v, 1.0, name)
		}
	}
}
