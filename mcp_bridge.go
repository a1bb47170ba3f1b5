package main

import (
	"context"
	"fmt"

	"chatexport/mcp"
)

// MCPBridge bridges the main App to the MCP server
type MCPBridge struct {
	app *App
}

// NewMCPBridge creates a new MCP bridge
func NewMCPBridge(app *App) *MCPBridge {
	return &MCPBridge{app: app}
}

// Implement mcp.ExportApp interface

func (b *MCPBridge) GetAppVersion() string {
	return b.app.AppVersion()
}

func (b *MCPBridge) DeviceID() string {
	return b.app.DeviceID()
}

func (b *MCPBridge) VerifyReady(ctx context.Context) mcp.VerificationResult {
	return b.app.VerifyReady(ctx)
}

func (b *MCPBridge) ListChats(ctx context.Context, order string, limit int) ([]mcp.ChatHandle, error) {
	opts, err := listOptions(order, limit)
	if err != nil {
		return nil, err
	}
	var chats []mcp.ChatHandle
	for h, err := range b.app.ListChats(ctx, opts) {
		if err != nil {
			return chats, err
		}
		chats = append(chats, h)
	}
	return chats, nil
}

func (b *MCPBridge) ExportChat(ctx context.Context, name string, withMedia bool) mcp.ExportAttempt {
	return b.app.ExportChat(ctx, ChatHandle{DisplayName: name, DiscoveredAt: -1}, withMedia)
}

func (b *MCPBridge) ReturnToBaseline(ctx context.Context) error {
	return b.app.ReturnToBaseline(ctx)
}

func (b *MCPBridge) RunBatch(ctx context.Context, req mcp.BatchRequest) (mcp.RunSummary, error) {
	list, err := listOptions(req.Order, req.Limit)
	if err != nil {
		return mcp.RunSummary{}, err
	}
	positions, err := ParseChatRange(req.Range)
	if err != nil {
		return mcp.RunSummary{}, err
	}
	opts := BatchOptions{
		Chats:     req.Chats,
		Order:     list.Order,
		Limit:     list.Limit,
		Positions: positions,
		WithMedia: req.WithMedia,
		Resume:    req.Resume,
	}
	if dir := b.app.Config().Destination.Dir; dir != "" {
		opts.Lister = DirLister{Dir: dir}
	}
	return b.app.RunBatch(ctx, opts)
}

func (b *MCPBridge) ExportHistory(limit int) ([]mcp.AttemptRecord, error) {
	return b.app.History(limit)
}

func listOptions(order string, limit int) (ListOptions, error) {
	o, ok := ParseSortOrder(order)
	if !ok {
		return ListOptions{}, fmt.Errorf("unknown order %q, want list or alphabetical", order)
	}
	if limit < 0 {
		limit = 0
	}
	return ListOptions{Order: o, Limit: limit}, nil
}
