package provider

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagesense/kit"
	"github.com/hazyhaar/pagesense/privacy"
)

// RegisterMCP registers the provider tools on an MCP server, giving an
// AI collaborator direct access to page context.
func (p *Provider) RegisterMCP(srv *mcp.Server) {
	p.registerGetContextTool(srv)
	p.registerFormattedContextTool(srv)
	p.registerSuggestionsTool(srv)
	p.registerUpdatePrivacyTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func decodeEmpty(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return &kit.MCPDecodeResult{}, nil
}

func (p *Provider) registerGetContextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesense_get_context",
		Description: "Return the full aggregated context of the monitored page: summary, content, layout, network activity and structured data.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		c, err := p.CurrentContext(ctx)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return map[string]any{"hasContext": false}, nil
		}
		return c, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeEmpty)
}

type formattedContextRequest struct {
	Query     string `json:"query,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (p *Provider) registerFormattedContextTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesense_formatted_context",
		Description: "Return a token-budgeted, privacy-filtered markdown rendering of the monitored page, suitable for direct inclusion in a prompt.",
		InputSchema: inputSchema(map[string]any{
			"query":      map[string]any{"type": "string", "description": "Optional focus query; bypasses the cache"},
			"max_tokens": map[string]any{"type": "integer", "description": "Token budget (default 2000)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*formattedContextRequest)
		return p.AIFormattedContext(ctx, r.Query, r.MaxTokens), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r formattedContextRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (p *Provider) registerSuggestionsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesense_suggestions",
		Description: "Generate prompt suggestions, proactive insights and workflow recommendations for the monitored page.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return map[string]any{
			"suggestions":     p.Suggestions(ctx),
			"insights":        p.ProactiveInsights(ctx),
			"recommendations": p.WorkflowRecommendations(ctx),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeEmpty)
}

func (p *Provider) registerUpdatePrivacyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagesense_update_privacy",
		Description: "Replace the privacy policy: excluded domains/paths, redaction patterns, retention. Takes effect immediately and invalidates cached context.",
		InputSchema: inputSchema(map[string]any{
			"excludedDomains":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"excludedPaths":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"redactSensitiveData":   map[string]any{"type": "boolean"},
			"sensitiveDataPatterns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"dataRetentionDays":     map[string]any{"type": "integer"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		cfg := req.(*privacy.Config)
		p.UpdatePrivacyConfig(*cfg)
		return map[string]any{"updated": true}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var cfg privacy.Config
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &cfg); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &cfg}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
