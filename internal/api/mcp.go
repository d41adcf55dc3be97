package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/prefsd/internal/settings"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Settings *settings.Store
	Version  string
}

// NewMCPServer creates an MCP server exposing the console settings as tools
// and a snapshot resource. Secret values are never returned.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"prefsd",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("prefsd: persisted query console preferences (editor cursor, splitter sizes, notifications, query text)."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_setting",
			mcp.WithDescription("Read the current value of one console setting."),
			mcp.WithString("key", mcp.Description("Setting name (e.g. editorCol) or storage key (e.g. editor.col)"), mcp.Required()),
		),
		mcpGetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("update_setting",
			mcp.WithDescription("Persist a new value for a console setting. Unparsable values fall back to the setting's default."),
			mcp.WithString("key", mcp.Description("Setting name or storage key"), mcp.Required()),
			withScalar("value", "New value as a string, number or boolean"),
		),
		mcpUpdateSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("list_settings",
			mcp.WithDescription("List every console setting with its type and current value."),
		),
		mcpListSettings(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"settings://snapshot",
			"Settings Snapshot",
			mcp.WithResourceDescription("All console settings as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSnapshot(deps),
	)

	return s
}

// withScalar declares a required property that may be a string, number or
// boolean, matching what checkScalar accepts.
func withScalar(name, description string) mcp.ToolOption {
	return func(t *mcp.Tool) {
		if t.InputSchema.Properties == nil {
			t.InputSchema.Properties = make(map[string]any)
		}
		t.InputSchema.Properties[name] = map[string]any{
			"type":        []string{"string", "number", "boolean"},
			"description": description,
		}
		t.InputSchema.Required = append(t.InputSchema.Required, name)
	}
}

func mcpGetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		key, err := settings.ParseKey(name)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		return mcpJSON(redactedValue(key, deps.Settings.Get(key)))
	}
}

func mcpUpdateSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		key, err := settings.ParseKey(name)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		value, ok := req.GetArguments()["value"]
		if !ok {
			return mcpError("value is required"), nil
		}
		if err := checkScalar(key, value); err != nil {
			return mcpError(err.Error()), nil
		}

		if err := deps.Settings.UpdateFrom("mcp", key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to update %s: %v", key, err)), nil
		}

		stored := redactedValue(key, deps.Settings.Get(key)).Value
		return mcpText(fmt.Sprintf("Set %s = %v", key, stored)), nil
	}
}

func mcpListSettings(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := deps.Settings.Snapshot().Redacted()
		values := make([]SettingValue, 0, len(settings.Keys()))
		for _, key := range settings.Keys() {
			values = append(values, settingValue(key, snap.Get(key)))
		}
		return mcpJSON(values)
	}
}

func mcpResourceSnapshot(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Settings.Snapshot().Redacted())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal settings: %w", err)
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

func redactedValue(key settings.Key, v any) SettingValue {
	if key.Secret() {
		v = redact(v)
	}
	return settingValue(key, v)
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
