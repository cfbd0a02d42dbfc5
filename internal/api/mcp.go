package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pal/internal/pipeline"
	"github.com/kalambet/pal/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles  *profile.Manager
	Assistant Chatter // optional; if nil, the chat tool is not registered
	Version   string
}

// NewMCPServer creates an MCP server exposing the profile and the assistant.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"pal",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pal keeps a personal profile of the user and answers questions from it."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return the stored user profile as a JSON object."),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("update_profile",
			mcp.WithDescription("Merge fields into the user profile. Existing keys not mentioned are kept."),
			mcp.WithString("fields", mcp.Description(`JSON object of snake_case keys to values, e.g. {"city": "Lisbon"}`), mcp.Required()),
		),
		mcpUpdateProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile_field",
			mcp.WithDescription("Set a single profile field."),
			mcp.WithString("key", mcp.Description("Profile field key (snake_case, e.g. email)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set"), mcp.Required()),
		),
		mcpSetProfileField(deps),
	)

	if deps.Assistant != nil {
		s.AddTool(
			mcp.NewTool("chat",
				mcp.WithDescription("Ask the assistant a question about the user. New facts in the message are remembered."),
				mcp.WithString("message", mcp.Description("The question or statement"), mcp.Required()),
			),
			mcpChat(deps),
		)
	}

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"User Profile",
			mcp.WithResourceDescription("Current user profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := deps.Profiles.Get()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		b, err := p.Indent()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpUpdateProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fields, err := req.RequireString("fields")
		if err != nil {
			return mcpError("fields is required"), nil
		}

		update, err := profile.ParseJSON([]byte(fields))
		if err != nil {
			return mcpError("fields must be a JSON object"), nil
		}
		if update.IsEmpty() {
			return mcpError("fields must not be empty"), nil
		}

		merged, err := deps.Profiles.Merge(update)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to update profile: %v", err)), nil
		}

		b, err := merged.Indent()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetProfileField(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil || key == "" {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if _, err := deps.Profiles.Set(key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set field: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		res, err := deps.Assistant.Chat(ctx, message)
		if err != nil {
			return mcpError(pipeline.Reason(err)), nil
		}

		if res.MemoryUpdated {
			return mcpText(res.Reply + "\n\n(profile updated)"), nil
		}
		return mcpText(res.Reply), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profiles.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := p.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
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
