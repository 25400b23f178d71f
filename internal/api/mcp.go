package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Conversations Conversations
}

// NewMCPServer creates an MCP server with the docchat tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"docchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("docchat answers questions grounded on uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Search the processed documents of a conversation and return the most relevant chunks."),
			mcp.WithString("user", mcp.Description("User id"), mcp.Required()),
			mcp.WithString("conversation", mcp.Description("Conversation id"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to a conversation and return the assistant reply."),
			mcp.WithString("user", mcp.Description("User id"), mcp.Required()),
			mcp.WithString("conversation", mcp.Description("Conversation id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Message text"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List a user's conversations, newest first."),
			mcp.WithString("user", mcp.Description("User id"), mcp.Required()),
		),
		mcpListConversations(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		conv, err := req.RequireString("conversation")
		if err != nil {
			return mcpError("conversation is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", defaultSearchLimit)
		if limit <= 0 {
			limit = defaultSearchLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		matches, err := deps.Conversations.Search(ctx, user, conv, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %s", errString(err))), nil
		}

		type matchResult struct {
			ChunkID       int64   `json:"chunk_id"`
			DocumentID    string  `json:"document_id"`
			DocumentTitle string  `json:"document_title"`
			Position      int     `json:"position"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
		}

		results := make([]matchResult, len(matches))
		for i, m := range matches {
			results[i] = matchResult{
				ChunkID:       m.ChunkID,
				DocumentID:    m.DocumentID,
				DocumentTitle: m.DocumentTitle,
				Position:      m.Position,
				Content:       m.Content,
				Score:         m.Score,
			}
		}
		return mcpJSON(results)
	}
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		conv, err := req.RequireString("conversation")
		if err != nil {
			return mcpError("conversation is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		turn, err := deps.Conversations.SendMessage(ctx, user, conv, message)
		if err != nil {
			return mcpError(fmt.Sprintf("send failed: %s", errString(err))), nil
		}
		return mcpText(turn.AssistantMessage.Content), nil
	}
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		user, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}

		convs, err := deps.Conversations.History(ctx, user)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %s", errString(err))), nil
		}

		out := make([]conversationResponse, len(convs))
		for i, c := range convs {
			out[i] = conversationResponse{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
		}
		return mcpJSON(out)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
