package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"chatexport/pkg/types"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerExportTools registers chat discovery and export tools
func (s *MCPServer) registerExportTools() {
	// chat_list - List chats in the chat list
	s.server.AddTool(
		mcp.NewTool("chat_list",
			mcp.WithDescription("List conversations visible in the chat list, scrolling from the top"),
			mcp.WithString("order",
				mcp.Description("'list' (default, as shown on screen) or 'alphabetical'"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of chats to return (default: all)"),
			),
		),
		s.handleChatList,
	)

	// chat_export - Export one chat
	s.server.AddTool(
		mcp.NewTool("chat_export",
			mcp.WithDescription("Export one conversation to the configured destination. Always returns the attempt outcome."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Exact display name of the conversation"),
			),
			mcp.WithBoolean("with_media",
				mcp.Description("Include media in the export (default: false)"),
			),
		),
		s.handleChatExport,
	)

	// batch_run - Export many chats
	s.server.AddTool(
		mcp.NewTool("batch_run",
			mcp.WithDescription("Export several conversations one after another and return the run summary"),
			mcp.WithString("chats",
				mcp.Description("Comma-separated display names; empty exports every chat in the list"),
			),
			mcp.WithString("order",
				mcp.Description("Discovery order when chats is empty: 'list' or 'alphabetical'"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of chats to discover when chats is empty"),
			),
			mcp.WithString("range",
				mcp.Description("1-based list positions when chats is empty, e.g. '300-500' or '1,5,10-20'; overrides limit"),
			),
			mcp.WithBoolean("with_media",
				mcp.Description("Include media in the exports (default: false)"),
			),
			mcp.WithBoolean("resume",
				mcp.Description("Skip chats already exported (default: true)"),
			),
		),
		s.handleBatchRun,
	)

	// export_history - Recent attempts
	s.server.AddTool(
		mcp.NewTool("export_history",
			mcp.WithDescription("List recent export attempts, newest first"),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of attempts (default: 20)"),
			),
		),
		s.handleExportHistory,
	)
}

func (s *MCPServer) handleChatList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	order, _ := args["order"].(string)
	limit := 0
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	chats, err := s.app.ListChats(ctx, order, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	if len(chats) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No chats found"),
			},
		}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d chat(s):\n\n", len(chats))
	for i, c := range chats {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.DisplayName)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(sb.String()),
		},
	}, nil
}

func (s *MCPServer) handleChatExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, ok := args["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	withMedia, _ := args["with_media"].(bool)

	a := s.app.ExportChat(ctx, name, withMedia)
	jsonData, _ := json.MarshalIndent(a, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(formatAttempt(a)),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
		IsError: a.Status != types.StatusSucceeded && a.Status != types.StatusSkippedIncompatible,
	}, nil
}

func (s *MCPServer) handleBatchRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := BatchRequest{Resume: true}
	if chats, ok := args["chats"].(string); ok {
		for _, c := range strings.Split(chats, ",") {
			if c = strings.TrimSpace(c); c != "" {
				req.Chats = append(req.Chats, c)
			}
		}
	}
	req.Order, _ = args["order"].(string)
	if l, ok := args["limit"].(float64); ok && l > 0 {
		req.Limit = int(l)
	}
	req.Range, _ = args["range"].(string)
	req.WithMedia, _ = args["with_media"].(bool)
	if r, ok := args["resume"].(bool); ok {
		req.Resume = r
	}

	sum, err := s.app.RunBatch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("batch failed: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s: %d requested, %d succeeded, %d skipped, %d failed, %d not located, %d already exported\n",
		sum.RunID, sum.Requested, sum.Succeeded, sum.Skipped, sum.Failed, sum.NotLocated, sum.AlreadyExported)
	if sum.Aborted {
		fmt.Fprintf(&sb, "Aborted: %s (%d not attempted)\n", sum.AbortReason, sum.NotAttempted)
	}
	for _, a := range sum.Attempts {
		sb.WriteString("- " + formatAttempt(a))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(sb.String()),
		},
	}, nil
}

func (s *MCPServer) handleExportHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	limit := 20
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	records, err := s.app.ExportHistory(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if len(records) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.NewTextContent("No export attempts recorded"),
			},
		}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d attempt(s):\n\n", len(records))
	for _, r := range records {
		fmt.Fprintf(&sb, "%s  %s", r.Attempt.StartedAt.Format("2006-01-02 15:04:05"), formatAttempt(r.Attempt))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(sb.String()),
		},
	}, nil
}

// formatAttempt renders one attempt as a single line
func formatAttempt(a ExportAttempt) string {
	line := fmt.Sprintf("%s: %s", a.Chat.DisplayName, a.Status)
	if a.FailingStep != "" {
		line += fmt.Sprintf(" at %s", a.FailingStep)
	}
	if a.Reason != "" {
		line += fmt.Sprintf(" (%s)", a.Reason)
	}
	if a.UploadStrategy != "" {
		line += fmt.Sprintf(" via %s", a.UploadStrategy)
	}
	return line + "\n"
}
