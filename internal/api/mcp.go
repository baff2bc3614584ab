package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/caselog/internal/ingest"
	"github.com/kalambet/caselog/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Importer *ingest.Importer
}

// NewMCPServer creates an MCP server with all caselog tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"caselog",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("caselog is a local conversation record for co-parenting communication: imports, issues, agreements, and behavioral notes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("import_conversation",
			mcp.WithDescription("Stage a parsed conversation upload for review. Returns a continuity report; nothing is written until decide_import."),
			mcp.WithString("conversation", mcp.Description("JSON object with title, participants and messages [{sender_name, receiver_name, sent_at, body}]"), mcp.Required()),
		),
		mcpImportConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("check_continuity",
			mcp.WithDescription("Run continuity detection against an upload without staging it. Reports overlapping conversations and a splice point if one is found."),
			mcp.WithString("conversation", mcp.Description("JSON object with title, participants and messages"), mcp.Required()),
		),
		mcpCheckContinuity(deps),
	)

	s.AddTool(
		mcp.NewTool("decide_import",
			mcp.WithDescription("Apply the user's decision on a staged import: append to an existing conversation, create a separate one, or cancel."),
			mcp.WithString("import_id", mcp.Description("ID of the staged import"), mcp.Required()),
			mcp.WithString("action", mcp.Description("One of: append, create_separate, cancel"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Target conversation for append (defaults to the report's primary candidate)")),
		),
		mcpDecideImport(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_conversation",
			mcp.WithDescription("Queue a conversation for LLM analysis (issues, behavioral notes, agreements)."),
			mcp.WithString("conversation_id", mcp.Description("ID of the conversation to analyze"), mcp.Required()),
		),
		mcpAnalyzeConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("effective_agreement",
			mcp.WithDescription("Resolve the currently effective agreement item by following its override chain."),
			mcp.WithString("item_id", mcp.Description("ID of any agreement item in the chain"), mcp.Required()),
		),
		mcpEffectiveAgreement(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"caselog://issues",
			"Open Issues",
			mcp.WithResourceDescription("All tracked issues as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceIssues(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"caselog://imports/pending",
			"Pending Imports",
			mcp.WithResourceDescription("Staged imports awaiting a decision"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePendingImports(deps),
	)

	return s
}

func parseUpload(raw string) (ingest.ParsedConversation, error) {
	var parsed ingest.ParsedConversation
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ingest.ParsedConversation{}, fmt.Errorf("invalid conversation JSON: %w", err)
	}
	return parsed, nil
}

func mcpImportConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("conversation")
		if err != nil {
			return mcpError("conversation is required"), nil
		}
		parsed, err := parseUpload(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		report, err := deps.Importer.Stage(parsed)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to stage import: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCheckContinuity(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("conversation")
		if err != nil {
			return mcpError("conversation is required"), nil
		}
		parsed, err := parseUpload(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		report, err := deps.Importer.Preview(parsed)
		if err != nil {
			return mcpError(fmt.Sprintf("continuity check failed: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDecideImport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		importID, err := req.RequireString("import_id")
		if err != nil {
			return mcpError("import_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}

		result, err := deps.Importer.ApplyDecision(importID, ingest.Decision{
			Action:         action,
			ConversationID: req.GetString("conversation_id", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to apply decision: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAnalyzeConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		if _, err := deps.Store.GetConversation(conversationID); errors.Is(err, storage.ErrNotFound) {
			return mcpError("conversation not found"), nil
		} else if err != nil {
			return mcpError(fmt.Sprintf("failed to load conversation: %v", err)), nil
		}

		payload, err := json.Marshal(map[string]string{"conversation_id": conversationID})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal job payload: %v", err)), nil
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        "analyze_conversation",
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue analysis: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Queued analysis job %s for conversation %s", job.ID, conversationID)), nil
	}
}

func mcpEffectiveAgreement(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := req.RequireString("item_id")
		if err != nil {
			return mcpError("item_id is required"), nil
		}

		item, err := deps.Store.EffectiveAgreementItem(itemID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError("agreement item not found"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve agreement item: %v", err)), nil
		}

		b, err := json.Marshal(item)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal item: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceIssues(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		issues, err := deps.Store.ListIssues()
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}
		if issues == nil {
			issues = []storage.Issue{}
		}

		b, err := json.Marshal(issues)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal issues: %w", err)
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

func mcpResourcePendingImports(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		imports, err := deps.Store.ListImports(50)
		if err != nil {
			return nil, fmt.Errorf("failed to list imports: %w", err)
		}

		type pendingImport struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		var pending []pendingImport
		for _, imp := range imports {
			if imp.Status != "pending_decision" {
				continue
			}
			pending = append(pending, pendingImport{
				ID:        imp.ID,
				Title:     imp.Title,
				CreatedAt: imp.CreatedAt.Format(time.RFC3339),
			})
		}
		if pending == nil {
			pending = []pendingImport{}
		}

		b, err := json.Marshal(pending)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal imports: %w", err)
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
