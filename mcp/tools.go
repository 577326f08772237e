package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/corpusworks/stratum"
)

// searchArgs is the tools/call argument shape for knowledge_search.
type searchArgs struct {
	Query         string   `json:"query"`
	ProjectID     string   `json:"project_id"`
	CrossTenant   bool     `json:"cross_tenant"`
	KnowledgeType string   `json:"knowledge_type"`
	SourceID      string   `json:"source_id"`
	Topics        []string `json:"topics"`
	Limit         int      `json:"limit"`
}

// byTypeArgs is the tools/call argument shape for knowledge_by_type.
type byTypeArgs struct {
	KnowledgeType string   `json:"knowledge_type"`
	ProjectID     string   `json:"project_id"`
	CrossTenant   bool     `json:"cross_tenant"`
	Topics        []string `json:"topics"`
	Limit         int      `json:"limit"`
}

// RegisterTools adds the retrieval tools backed by svc to the server.
func RegisterTools(srv *Server, svc *stratum.Service) {
	srv.AddTool(ToolHandler{
		Definition: ToolDefinition{
			Name:        "knowledge_search",
			Description: "Semantic search over extracted knowledge and document fragments, scoped to a project.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":          map[string]any{"type": "string", "description": "Natural-language query"},
					"project_id":     map[string]any{"type": "string", "description": "Tenant project to search"},
					"cross_tenant":   map[string]any{"type": "boolean", "description": "Search across all projects (audited)"},
					"knowledge_type": map[string]any{"type": "string", "description": "Restrict to one knowledge type"},
					"source_id":      map[string]any{"type": "string", "description": "Restrict to one source document"},
					"topics":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"limit":          map[string]any{"type": "integer"},
				},
				"required": []string{"query"},
			},
		},
		Execute: func(ctx context.Context, args json.RawMessage) ToolCallResult {
			var a searchArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			resp, err := svc.Search(ctx, a.Query,
				stratum.Scope{ProjectID: a.ProjectID, CrossTenant: a.CrossTenant},
				stratum.SearchFilter{
					KnowledgeType: a.KnowledgeType,
					SourceID:      a.SourceID,
					Topics:        a.Topics,
				},
				a.Limit)
			if err != nil {
				return apiErrorResult(err)
			}
			return jsonResult(resp)
		},
	})

	srv.AddTool(ToolHandler{
		Definition: ToolDefinition{
			Name:        "knowledge_by_type",
			Description: "List extraction records of one knowledge type by attribute filtering, most recent first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"knowledge_type": map[string]any{"type": "string", "description": "Knowledge type to list"},
					"project_id":     map[string]any{"type": "string", "description": "Tenant project to read"},
					"cross_tenant":   map[string]any{"type": "boolean", "description": "Read across all projects (audited)"},
					"topics":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"limit":          map[string]any{"type": "integer"},
				},
				"required": []string{"knowledge_type"},
			},
		},
		Execute: func(ctx context.Context, args json.RawMessage) ToolCallResult {
			var a byTypeArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			resp, err := svc.GetByType(ctx, a.KnowledgeType,
				stratum.Scope{ProjectID: a.ProjectID, CrossTenant: a.CrossTenant},
				a.Topics, a.Limit)
			if err != nil {
				return apiErrorResult(err)
			}
			return jsonResult(resp)
		},
	})
}

// jsonResult marshals payload into a text content block.
func jsonResult(payload any) ToolCallResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ErrorResult("marshal result: " + err.Error())
	}
	return TextResult(string(data))
}

// apiErrorResult serializes a retrieval failure. APIError values keep their
// taxonomy code in the output so clients can react to RATE_LIMITED.
func apiErrorResult(err error) ToolCallResult {
	var apiErr *stratum.APIError
	if errors.As(err, &apiErr) {
		data, mErr := json.Marshal(apiErr)
		if mErr == nil {
			return ErrorResult(string(data))
		}
	}
	return ErrorResult(err.Error())
}
