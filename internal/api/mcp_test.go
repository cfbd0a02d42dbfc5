package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/pal/internal/pipeline"
	"github.com/kalambet/pal/internal/profile"
	"github.com/kalambet/pal/internal/proxy"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	return MCPDeps{
		Profiles:  profile.NewManager(profile.NewFileStore(filepath.Join(t.TempDir(), "profile.json"))),
		Assistant: &mockChatter{result: pipeline.Result{Reply: "Hello Ada."}},
		Version:   "test",
	}
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
	if s := NewMCPServer(newTestMCPDeps(t)); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	deps := newTestMCPDeps(t)
	deps.Assistant = nil
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer without assistant returned nil")
	}
}

func TestMCPTool_GetProfile(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Profiles.Set("name", "Ada")

	result, err := mcpGetProfile(deps)(context.Background(), makeCallToolRequest("get_profile", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if got["name"] != "Ada" {
		t.Errorf("name = %v, want Ada", got["name"])
	}
}

func TestMCPTool_UpdateProfile(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Profiles.Set("a", "1")
	handler := mcpUpdateProfile(deps)

	result, err := handler(context.Background(), makeCallToolRequest("update_profile", map[string]interface{}{
		"fields": `{"b": "2", "a": "3"}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	p, _ := deps.Profiles.Get()
	if p.GetString("a") != "3" || p.GetString("b") != "2" {
		t.Errorf("profile = %v", p.ToMap())
	}
}

func TestMCPTool_UpdateProfile_Rejects(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpUpdateProfile(deps)

	for _, args := range []map[string]interface{}{
		{},
		{"fields": "not json"},
		{"fields": "[1, 2]"},
		{"fields": "{}"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("update_profile", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPTool_SetProfileField(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpSetProfileField(deps)

	result, err := handler(context.Background(), makeCallToolRequest("set_profile_field", map[string]interface{}{
		"key":   "email",
		"value": "ada@example.com",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Set email = ada@example.com" {
		t.Fatalf("unexpected response: %s", text)
	}

	p, err := deps.Profiles.Get()
	if err != nil {
		t.Fatalf("getting profile: %v", err)
	}
	if p.GetString("email") != "ada@example.com" {
		t.Fatalf("email = %q", p.GetString("email"))
	}
}

func TestMCPTool_SetProfileField_MissingArgs(t *testing.T) {
	handler := mcpSetProfileField(newTestMCPDeps(t))

	for _, args := range []map[string]interface{}{
		{"value": "x"},
		{"key": "email"},
		{"key": "", "value": "x"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("set_profile_field", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
}

func TestMCPTool_Chat(t *testing.T) {
	deps := newTestMCPDeps(t)
	chatter := &mockChatter{result: pipeline.Result{Reply: "Noted.", MemoryUpdated: true}}
	deps.Assistant = chatter

	result, err := mcpChat(deps)(context.Background(), makeCallToolRequest("chat", map[string]interface{}{
		"message": "I moved to Paris",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.HasPrefix(text, "Noted.") || !strings.Contains(text, "profile updated") {
		t.Errorf("text = %q", text)
	}
	if chatter.got != "I moved to Paris" {
		t.Errorf("message passed = %q", chatter.got)
	}
}

func TestMCPTool_Chat_Error(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Assistant = &mockChatter{err: &proxy.UnavailableError{Err: errors.New("refused")}}

	result, err := mcpChat(deps)(context.Background(), makeCallToolRequest("chat", map[string]interface{}{
		"message": "hi",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if text := toolText(t, result); text != "upstream model service is unavailable" {
		t.Errorf("text = %q", text)
	}
}

func TestMCPResource_Profile(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Profiles.Set("role", "engineer")

	contents, err := mcpResourceProfile(deps)(context.Background(), makeReadResourceRequest("user://profile"))
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
	if tc.URI != "user://profile" || tc.MIMEType != "application/json" {
		t.Errorf("URI = %q, MIMEType = %q", tc.URI, tc.MIMEType)
	}

	p, err := profile.ParseJSON([]byte(tc.Text))
	if err != nil {
		t.Fatalf("failed to parse profile JSON: %v", err)
	}
	if p.GetString("role") != "engineer" {
		t.Fatalf("expected role 'engineer', got '%s'", p.GetString("role"))
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps := newTestMCPDeps(t)
	setHandler := mcpSetProfileField(deps)
	getHandler := mcpGetProfile(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			req := makeCallToolRequest("set_profile_field", map[string]interface{}{
				"key":   fmt.Sprintf("key_%d", i),
				"value": "v",
			})
			if res, err := setHandler(context.Background(), req); err != nil {
				errs <- err
			} else if res.IsError {
				errs <- errors.New(toolText(t, res))
			}
		}(i)
		go func() {
			defer wg.Done()
			if _, err := getHandler(context.Background(), makeCallToolRequest("get_profile", nil)); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent call failed: %v", err)
	}

	p, _ := deps.Profiles.Get()
	if p.Len() != 10 {
		t.Errorf("profile has %d keys, want 10", p.Len())
	}
}
