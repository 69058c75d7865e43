package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/kbfusion/internal/eval"
	"github.com/Aman-CERP/kbfusion/internal/fusion"
	"github.com/Aman-CERP/kbfusion/internal/search"
	"github.com/Aman-CERP/kbfusion/internal/store"
	"github.com/Aman-CERP/kbfusion/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "kbfusion"

// Engine runs searches and method comparisons. *search.Engine implements it.
type Engine interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
	CompareMethods(ctx context.Context, text string, limit int) (*search.Comparison, error)
	Config() search.Config
	Methods() []fusion.Method
}

// Evaluator scores rankings against judgments. *eval.Evaluator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, req eval.Request) (*eval.Report, error)
}

// IndexInfo reports what has been indexed. *store.SQLiteStore implements it.
type IndexInfo interface {
	Count(ctx context.Context) (int, error)
	GetState(ctx context.Context, key string) (string, error)
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search the knowledge base. Runs lexical, dense and sparse retrieval in parallel, fuses them with weighted reciprocal rank fusion, optionally reranks, and returns results with metadata, per-method contributions and facet counts.",
	},
	{
		Name:        "compare_methods",
		Description: "Run one query through each retrieval method alone and through every fused combination, with per-set latency. Use it to see which methods carry a query.",
	},
	{
		Name:        "evaluate",
		Description: "Score the live ranking of a query against graded relevance judgments (0-3). Returns nDCG@K, Recall@K, Precision@K, MRR and the delta over the lexical+dense baseline.",
	},
	{
		Name:        "index_status",
		Description: "Report the indexed resource count, embedding model, enabled methods and fusion settings.",
	},
}

// Option configures a Server.
type Option func(*Server)

// WithIndexInfo enables resource counts and index state in index_status.
func WithIndexInfo(info IndexInfo) Option {
	return func(s *Server) {
		s.index = info
	}
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server is the MCP server for kbfusion.
type Server struct {
	mcp       *mcp.Server
	engine    Engine
	evaluator Evaluator
	index     IndexInfo
	logger    *slog.Logger
}

// NewServer creates a server exposing engine and evaluator as tools.
func NewServer(engine Engine, evaluator Evaluator, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator is required")
	}

	s := &Server{engine: engine, evaluator: evaluator, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: ServerName, Version: version.Version},
		nil, // capabilities are inferred from registered tools/resources
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpCompareHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpEvaluateHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	start := time.Now()
	resp, err := s.engine.Search(ctx, search.Query{
		Text:              input.Query,
		Limit:             input.Limit,
		Offset:            input.Offset,
		EnableReranking:   input.EnableReranking,
		AdaptiveWeighting: input.AdaptiveWeighting,
		Weights:           input.Weights,
	})
	if err != nil {
		s.logFailure("search", start, err)
		return nil, SearchOutput{}, MapError(err)
	}
	return nil, toSearchOutput(resp), nil
}

// mcpCompareHandler is the MCP SDK handler for the compare_methods tool.
func (s *Server) mcpCompareHandler(ctx context.Context, _ *mcp.CallToolRequest, input CompareInput) (
	*mcp.CallToolResult,
	CompareOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, CompareOutput{}, NewInvalidParamsError("query parameter is required")
	}

	start := time.Now()
	cmp, err := s.engine.CompareMethods(ctx, input.Query, input.Limit)
	if err != nil {
		s.logFailure("compare_methods", start, err)
		return nil, CompareOutput{}, MapError(err)
	}
	return nil, toCompareOutput(cmp), nil
}

// mcpEvaluateHandler is the MCP SDK handler for the evaluate tool.
func (s *Server) mcpEvaluateHandler(ctx context.Context, _ *mcp.CallToolRequest, input EvaluateInput) (
	*mcp.CallToolResult,
	*EvaluateOutput,
	error,
) {
	start := time.Now()
	report, err := s.evaluator.Evaluate(ctx, eval.Request{
		Query:           input.Query,
		Judgments:       input.Judgments,
		K:               input.K,
		EnableReranking: input.EnableReranking,
	})
	if err != nil {
		s.logFailure("evaluate", start, err)
		return nil, nil, MapError(err)
	}
	return nil, toEvaluateOutput(report), nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	cfg := s.engine.Config()
	out := &IndexStatusOutput{
		Methods:        make([]string, 0, len(fusion.AllMethods)),
		DefaultWeights: cfg.Characterizer.DefaultWeights,
		RRFConstant:    cfg.RRFConstant,
		RerankCeiling:  cfg.RerankCeiling,
	}
	for _, m := range s.engine.Methods() {
		out.Methods = append(out.Methods, string(m))
	}
	if s.index == nil {
		return out, nil
	}

	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count resources: %w", err)
	}
	out.Resources = n
	for key, dst := range map[string]*string{
		store.StateKeyEmbedder:   &out.EmbeddingModel,
		store.StateKeyDimensions: &out.Dimensions,
		store.StateKeyIndexedAt:  &out.IndexedAt,
		store.StateKeyIndexedBy:  &out.IndexedBy,
	} {
		v, err := s.index.GetState(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read index state: %w", err)
		}
		*dst = v
	}
	return out, nil
}

func (s *Server) logFailure(tool string, start time.Time, err error) {
	s.logger.Warn("tool_failed",
		slog.String("tool", tool),
		slog.Duration("duration", time.Since(start)),
		slog.String("error", err.Error()))
}

// Serve runs the server on transport until ctx is canceled. Only stdio is
// supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
