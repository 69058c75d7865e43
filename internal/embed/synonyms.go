package embed

// Synonyms maps a lowercase term to related vocabulary. The sparse encoder
// adds these at reduced weight so a query for "paper" also reaches resources
// that only say "article". Keys and values must be single lowercase tokens
// as produced by store.Tokenize.
var Synonyms = map[string][]string{
	// ==========================================================================
	// Resource kinds
	// ==========================================================================
	"article":  {"paper", "publication", "post"},
	"paper":    {"article", "publication", "preprint"},
	"book":     {"monograph", "volume", "textbook"},
	"document": {"resource", "file", "record"},
	"resource": {"document", "item", "material"},
	"tutorial": {"guide", "howto", "walkthrough"},
	"guide":    {"tutorial", "handbook", "manual"},
	"video":    {"lecture", "recording", "talk"},
	"dataset":  {"corpus", "collection", "data"},

	// ==========================================================================
	// Retrieval vocabulary
	// ==========================================================================
	"search":    {"retrieval", "lookup", "query"},
	"retrieval": {"search", "lookup", "ranking"},
	"find":      {"search", "lookup", "locate"},
	"rank":      {"ranking", "order", "score"},
	"ranking":   {"rank", "order", "relevance"},
	"index":     {"catalog", "inverted", "indexing"},
	"embedding": {"vector", "dense", "representation"},
	"vector":    {"embedding", "dense", "representation"},
	"keyword":   {"term", "lexical", "token"},
	"fusion":    {"combination", "merge", "hybrid"},
	"hybrid":    {"fusion", "combined", "mixed"},
	"semantic":  {"meaning", "dense", "conceptual"},

	// ==========================================================================
	// Errors and operations
	// ==========================================================================
	"error":     {"err", "exception", "failure"},
	"exception": {"error", "err", "panic"},
	"failure":   {"error", "fault", "crash"},
	"retry":     {"attempt", "backoff", "repeat"},
	"timeout":   {"deadline", "latency", "expiry"},
	"config":    {"configuration", "settings", "options"},
	"settings":  {"config", "configuration", "preferences"},
	"database":  {"db", "store", "storage"},
	"db":        {"database", "store", "sql"},
	"storage":   {"store", "persistence", "database"},
	"auth":      {"authentication", "login", "credentials"},
	"login":     {"auth", "signin", "authentication"},

	// ==========================================================================
	// Learning and classification
	// ==========================================================================
	"learning":       {"training", "education", "study"},
	"classification": {"taxonomy", "category", "categorisation"},
	"taxonomy":       {"classification", "category", "ontology"},
	"category":       {"class", "classification", "group"},
	"summary":        {"abstract", "overview", "synopsis"},
	"abstract":       {"summary", "overview", "synopsis"},
	"introduction":   {"overview", "primer", "basics"},
	"beginner":       {"introduction", "basics", "novice"},
	"advanced":       {"expert", "deep", "detailed"},
}
