package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs served by the server.
const (
	ConfigURI = "kbfusion://config"
	StatusURI = "kbfusion://status"
)

// registerResources registers the read-only configuration and status
// resources.
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "config",
		URI:         ConfigURI,
		Description: "Active fusion, timeout and rerank settings",
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return jsonResource(ConfigURI, s.engine.Config())
	})

	s.mcp.AddResource(&mcp.Resource{
		Name:        "status",
		URI:         StatusURI,
		Description: "Indexed resource count and embedding model",
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		out, err := s.indexStatus(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		return jsonResource(StatusURI, out)
	})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(data)}},
	}, nil
}
