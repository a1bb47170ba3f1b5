package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerDeviceTools registers device state tools
func (s *MCPServer) registerDeviceTools() {
	// device_verify - Run the safety checks
	s.server.AddTool(
		mcp.NewTool("device_verify",
			mcp.WithDescription("Check that the chat app is in the foreground, on an allowed screen, showing its own UI, and that the device is unlocked"),
		),
		s.handleDeviceVerify,
	)

	// baseline_return - Go back to the chat list
	s.server.AddTool(
		mcp.NewTool("baseline_return",
			mcp.WithDescription("Return the device to the chat list screen using back presses, relaunching the app if needed"),
		),
		s.handleBaselineReturn,
	)
}

func (s *MCPServer) handleDeviceVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := s.app.VerifyReady(ctx)

	var result string
	if r.OverallOK {
		result = fmt.Sprintf("Device %s is ready (%s)\n", s.app.DeviceID(), r.Foreground.Component())
	} else {
		result = fmt.Sprintf("Device %s is NOT ready: %s\n", s.app.DeviceID(), r.FailingReason)
		if r.Detail != "" {
			result += fmt.Sprintf("Detail: %s\n", r.Detail)
		}
	}
	result += fmt.Sprintf("package=%v activity=%v ui=%v unlocked=%v\n", r.PackageOK, r.ActivityOK, r.UIPresentOK, r.UnlockedOK)

	jsonData, _ := json.MarshalIndent(r, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(result),
			mcp.NewTextContent(fmt.Sprintf("\nJSON data:\n```json\n%s\n```", string(jsonData))),
		},
		IsError: !r.OverallOK,
	}, nil
}

func (s *MCPServer) handleBaselineReturn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.app.ReturnToBaseline(ctx); err != nil {
		return nil, fmt.Errorf("failed to return to chat list: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent("Device is at the chat list"),
		},
	}, nil
}
