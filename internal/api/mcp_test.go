package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/prefsd/internal/settings"
	"github.com/kalambet/prefsd/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.MemoryStore) {
	t.Helper()
	backend := storage.NewMemory()
	st := settings.Open(backend, settings.WithLogger(quietLogger()))
	return MCPDeps{Settings: st, Version: "test"}, backend
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestWithScalar_Schema(t *testing.T) {
	tool := mcp.NewTool("update_setting",
		mcp.WithString("key", mcp.Required()),
		withScalar("value", "New value"),
	)

	prop, ok := tool.InputSchema.Properties["value"].(map[string]any)
	if !ok {
		t.Fatalf("value property = %#v", tool.InputSchema.Properties["value"])
	}
	types, _ := prop["type"].([]string)
	if strings.Join(types, ",") != "string,number,boolean" {
		t.Errorf("value type = %v", prop["type"])
	}

	required := strings.Join(tool.InputSchema.Required, ",")
	if required != "key,value" {
		t.Errorf("required = %q, want key,value", required)
	}

	data, err := json.Marshal(tool)
	if err != nil {
		t.Fatalf("marshal tool: %v", err)
	}
	if !strings.Contains(string(data), `"type":["string","number","boolean"]`) {
		t.Errorf("schema JSON = %s", data)
	}
}

func TestMCPTool_GetSetting(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSetting(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_setting", map[string]interface{}{
		"key": "notificationDelay",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var v SettingValue
	if err := json.Unmarshal([]byte(toolText(t, result)), &v); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if v.Key != "notificationDelay" || v.Type != "int" || v.Value != float64(settings.DefaultNotificationDelay) {
		t.Errorf("got %+v", v)
	}
}

func TestMCPTool_GetSetting_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetSetting(deps)

	for name, args := range map[string]map[string]interface{}{
		"missing key": {},
		"unknown key": {"key": "fontSize"},
	} {
		t.Run(name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("get_setting", args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected tool error, got %s", toolText(t, result))
			}
		})
	}
}

func TestMCPTool_UpdateSetting(t *testing.T) {
	deps, backend := newTestMCPDeps(t)
	handler := mcpUpdateSetting(deps)

	var got settings.Change
	deps.Settings.Subscribe(func(c settings.Change) { got = c })

	result, err := handler(context.Background(), makeCallToolRequest("update_setting", map[string]interface{}{
		"key":   "editor.line",
		"value": float64(12),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Set editorLine = 12" {
		t.Errorf("response = %q", text)
	}

	if deps.Settings.EditorLine() != 12 {
		t.Errorf("EditorLine = %d, want 12", deps.Settings.EditorLine())
	}
	if raw, _, _ := backend.Get("editor.line"); raw != "12" {
		t.Errorf("stored = %q", raw)
	}
	if got.Source != "mcp" {
		t.Errorf("change source = %q, want mcp", got.Source)
	}
}

func TestMCPTool_UpdateSetting_StringForBoolean(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpUpdateSetting(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("update_setting", map[string]interface{}{
		"key":   "isNotificationEnabled",
		"value": "false",
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if deps.Settings.IsNotificationEnabled() {
		t.Error("IsNotificationEnabled = true, want false")
	}
}

func TestMCPTool_UpdateSetting_Redacted(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpUpdateSetting(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("update_setting", map[string]interface{}{
		"key":   "authPayload",
		"value": "secret-token",
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	text := toolText(t, result)
	if strings.Contains(text, "secret-token") {
		t.Errorf("response leaks secret: %q", text)
	}
	if deps.Settings.AuthPayload() != "secret-token" {
		t.Errorf("AuthPayload = %q", deps.Settings.AuthPayload())
	}
}

func TestMCPTool_UpdateSetting_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpUpdateSetting(deps)

	tests := map[string]map[string]interface{}{
		"missing key":   {"value": "1"},
		"unknown key":   {"key": "fontSize", "value": "1"},
		"missing value": {"key": "editorCol"},
		"object value":  {"key": "editorCol", "value": map[string]interface{}{"a": 1}},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("update_setting", args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected tool error, got %s", toolText(t, result))
			}
		})
	}
	if deps.Settings.Snapshot() != settings.Defaults() {
		t.Error("settings changed by rejected calls")
	}
}

func TestMCPTool_ListSettings(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Settings.Update(settings.KeyAuthPayload, "secret-token")
	deps.Settings.Update(settings.KeyQueryText, "select 1")

	result, err := mcpListSettings(deps)(context.Background(), makeCallToolRequest("list_settings", nil))
	if err != nil || result.IsError {
		t.Fatalf("list_settings failed: %v", err)
	}

	var values []SettingValue
	if err := json.Unmarshal([]byte(toolText(t, result)), &values); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(values) != len(settings.Keys()) {
		t.Fatalf("got %d settings, want %d", len(values), len(settings.Keys()))
	}
	byKey := make(map[string]any, len(values))
	for _, v := range values {
		byKey[v.Key] = v.Value
	}
	if byKey["authPayload"] != settings.RedactedValue {
		t.Errorf("authPayload = %v, want redacted", byKey["authPayload"])
	}
	if byKey["queryText"] != "select 1" {
		t.Errorf("queryText = %v", byKey["queryText"])
	}
}

func TestMCPResource_Snapshot(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Settings.Update(settings.KeyEditorCol, 3)
	deps.Settings.Update(settings.KeyAuthPayload, "secret-token")

	contents, err := mcpResourceSnapshot(deps)(context.Background(), makeReadResourceRequest("settings://snapshot"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "settings://snapshot" || tc.MIMEType != "application/json" {
		t.Errorf("resource = %+v", tc)
	}

	var snap settings.Snapshot
	if err := json.Unmarshal([]byte(tc.Text), &snap); err != nil {
		t.Fatalf("failed to parse snapshot JSON: %v", err)
	}
	if snap.EditorCol != 3 {
		t.Errorf("EditorCol = %d, want 3", snap.EditorCol)
	}
	if snap.AuthPayload != settings.RedactedValue {
		t.Errorf("AuthPayload = %q, want redacted", snap.AuthPayload)
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	updateHandler := mcpUpdateSetting(deps)
	getHandler := mcpGetSetting(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			req := makeCallToolRequest("update_setting", map[string]interface{}{
				"key":   "editorCol",
				"value": float64(i),
			})
			if _, err := updateHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			req := makeCallToolRequest("get_setting", map[string]interface{}{"key": "editorCol"})
			if _, err := getHandler(context.Background(), req); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}
	if c := deps.Settings.EditorCol(); c < 0 || c > 9 {
		t.Errorf("EditorCol = %d, want one of the written values", c)
	}
}
