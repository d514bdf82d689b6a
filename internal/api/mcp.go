package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pitchlab/knowd/internal/document"
)

// MCPDeps holds dependencies for the MCP server. It reuses the HTTP layer's
// manager and query abstractions.
type MCPDeps struct {
	Documents DocumentManager
	Query     QueryRunner
}

// NewMCPServer creates an MCP server exposing the knowledge base to agents:
// semantic search, text ingestion, and document listing.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"knowd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("knowd — document knowledge base with semantic retrieval."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search ingested documents and return the most relevant chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_document",
			mcp.WithDescription("Store a text document in the knowledge base and schedule it for ingestion."),
			mcp.WithString("name", mcp.Description("Display name for the document")),
			mcp.WithString("content", mcp.Description("The text content to ingest"), mcp.Required()),
		),
		mcpIngestDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List ingested documents with their processing status."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of documents (default 20)")),
		),
		mcpListDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"knowd://stats",
			"Knowledge Base Stats",
			mcp.WithResourceDescription("Document, chunk, and vector counts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		matches, err := deps.Query.Query(ctx, q, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(matches) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(matches)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIngestDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		name := req.GetString("name", "")
		if name == "" {
			name = fmt.Sprintf("mcp-document %s", time.Now().UTC().Format("2006-01-02 15:04"))
		}

		doc, err := deps.Documents.Upload(document.UploadParams{
			Name:        name,
			FileName:    name + ".txt",
			Data:        []byte(content),
			AutoProcess: true,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to ingest: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued document %s for ingestion", doc.ID)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		docs, err := deps.Documents.List(limit, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}

		type docSummary struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			FileType   string `json:"file_type"`
			Status     string `json:"status"`
			ChunkCount int    `json:"chunk_count"`
			CreatedAt  string `json:"created_at"`
		}

		summaries := make([]docSummary, len(docs))
		for i, d := range docs {
			summaries[i] = docSummary{
				ID:         d.ID,
				Name:       d.Name,
				FileType:   d.FileType,
				Status:     d.Status,
				ChunkCount: d.ChunkCount,
				CreatedAt:  d.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Documents.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
