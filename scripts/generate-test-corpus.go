//go:build ignore

// generate-test-corpus creates a synthetic knowledge base and a matching
// judgment suite for benchmarking indexing and retrieval quality.
//
// Usage: go run scripts/generate-test-corpus.go -resources 5000 -output testdata/bench
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/store"
)

var (
	numResources = flag.Int("resources", 1000, "Number of resources to generate")
	numQueries   = flag.Int("queries", 50, "Number of judged queries to generate")
	outputDir    = flag.String("output", "testdata/bench", "Output directory")
	seed         = flag.Int64("seed", 42, "Random seed for reproducibility")
)

// topic is a cluster of resources sharing vocabulary. Queries are drawn from
// a topic and judge its resources relevant.
type topic struct {
	name           string
	classification string
	terms          []string
}

var topics = []topic{
	{"rank fusion", "004", []string{"reciprocal", "rank", "fusion", "weighted", "lists", "merge", "borda", "combsum"}},
	{"dense retrieval", "004", []string{"embedding", "vector", "hnsw", "cosine", "neighbour", "graph", "dense", "semantic"}},
	{"sparse retrieval", "006", []string{"sparse", "expansion", "term", "splade", "inverted", "posting", "weight", "vocabulary"}},
	{"evaluation", "001", []string{"ndcg", "precision", "recall", "judgment", "relevance", "graded", "cutoff", "baseline"}},
	{"reranking", "006", []string{"reranker", "cross", "encoder", "rescoring", "candidate", "pairwise", "listwise", "model"}},
	{"cataloguing", "025", []string{"catalogue", "subject", "heading", "classification", "authority", "record", "metadata", "library"}},
}

var (
	fillers   = []string{"the", "a", "of", "for", "with", "over", "in", "and", "using", "between"}
	types     = []string{"article", "paper", "thesis", "book", "report"}
	languages = []string{"en", "en", "en", "de", "fr"}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d resources and %d queries in %s...\n", *numResources, *numQueries, *outputDir)

	resources := make([]store.Resource, 0, *numResources)
	byTopic := make(map[int][]string)
	for i := 0; i < *numResources; i++ {
		t := i % len(topics)
		r := generateResource(rng, i, topics[t])
		resources = append(resources, r)
		byTopic[t] = append(byTopic[t], r.ID)
	}

	if err := writeCorpus(filepath.Join(*outputDir, "corpus.jsonl"), resources); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing corpus: %v\n", err)
		os.Exit(1)
	}

	suite := generateSuite(rng, byTopic)
	if err := writeSuite(filepath.Join(*outputDir, "judgments.yaml"), suite); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing judgments: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d resources and %d queries successfully.\n", len(resources), len(suite.Queries))
}

func generateResource(rng *rand.Rand, index int, t topic) store.Resource {
	return store.Resource{
		ID:             fmt.Sprintf("res-%05d", index),
		Title:          capitalize(sentence(rng, t.terms, 4)),
		Description:    t.name + ": " + sentence(rng, t.terms, 10),
		Text:           paragraph(rng, t.terms, 3+rng.Intn(4)),
		Classification: t.classification,
		Type:           pick(rng, types),
		Language:       pick(rng, languages),
		QualityScore:   float64(rng.Intn(101)) / 100,
	}
}

// generateSuite draws each query from one topic's vocabulary and grades up to
// five of that topic's resources 1 to 3.
func generateSuite(rng *rand.Rand, byTopic map[int][]string) *eval.Suite {
	suite := &eval.Suite{Name: "synthetic", K: 10}
	for i := 0; i < *numQueries; i++ {
		t := i % len(topics)
		ids := byTopic[t]
		if len(ids) == 0 {
			continue
		}
		judgments := make(map[string]int)
		for j := 0; j < 5 && j < len(ids); j++ {
			judgments[pick(rng, ids)] = 1 + rng.Intn(3)
		}
		suite.Queries = append(suite.Queries, eval.Request{
			ID:        fmt.Sprintf("q%03d", i),
			Query:     pick(rng, topics[t].terms) + " " + pick(rng, topics[t].terms),
			Judgments: judgments,
		})
	}
	return suite
}

func writeCorpus(path string, resources []store.Resource) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range resources {
		if err := enc.Encode(&resources[i]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeSuite(path string, suite *eval.Suite) error {
	data, err := yaml.Marshal(suite)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func sentence(rng *rand.Rand, terms []string, n int) string {
	words := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if i%3 == 2 {
			words = append(words, pick(rng, fillers))
			continue
		}
		words = append(words, pick(rng, terms))
	}
	return strings.Join(words, " ")
}

func paragraph(rng *rand.Rand, terms []string, n int) string {
	sentences := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sentences = append(sentences, sentence(rng, terms, 8+rng.Intn(8))+".")
	}
	return strings.Join(sentences, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}
