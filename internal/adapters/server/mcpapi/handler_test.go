package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/markumedium/loading-server/internal/adapters/server/common"
)

// stubYardService provides deterministic responses for MCP tool tests.
type stubYardService struct {
	vehicles   []common.Vehicle
	vehicle    common.Vehicle
	transition common.TransitionResponse
	reports    []common.Report
	history    []common.HistoryDay
	err        error

	lastStatus     string
	lastRegister   common.RegisterVehicleRequest
	lastTransition common.TransitionRequest
	lastReport     common.ReportRequest
}

func (s *stubYardService) ListVehicles(_ context.Context, status string) ([]common.Vehicle, error) {
	s.lastStatus = status
	return s.vehicles, s.err
}

func (s *stubYardService) GetVehicle(context.Context, string) (common.Vehicle, error) {
	return s.vehicle, s.err
}

func (s *stubYardService) RegisterVehicle(_ context.Context, in common.RegisterVehicleRequest) (common.Vehicle, error) {
	s.lastRegister = in
	return s.vehicle, s.err
}

func (s *stubYardService) UpdateVehicle(context.Context, common.UpdateVehicleRequest) (common.Vehicle, error) {
	return s.vehicle, s.err
}

func (s *stubYardService) RemoveVehicle(context.Context, string) error {
	return s.err
}

func (s *stubYardService) Transition(_ context.Context, in common.TransitionRequest) (common.TransitionResponse, error) {
	s.lastTransition = in
	return s.transition, s.err
}

func (s *stubYardService) Rollover(context.Context, common.RolloverRequest) (common.RolloverResponse, error) {
	return common.RolloverResponse{}, s.err
}

func (s *stubYardService) Reports(_ context.Context, in common.ReportRequest) ([]common.Report, error) {
	s.lastReport = in
	return s.reports, s.err
}

func (s *stubYardService) History(_ context.Context, in common.ReportRequest) ([]common.HistoryDay, error) {
	s.lastReport = in
	return s.history, s.err
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// initializeRequest builds an MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "yard-test",
				"version": "1.0.0",
			},
		},
	}
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()
	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

func newTestServer(t *testing.T, yard common.YardService) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(Config{}, yard)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("expected error without yard service")
	}
}

func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubYardService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

func TestHandlerRegistersYardTools(t *testing.T) {
	server := newTestServer(t, &stubYardService{})
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{
		"yard.list_vehicles",
		"yard.get_vehicle",
		"yard.register_vehicle",
		"yard.transition",
		"yard.report",
		"yard.history",
	} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %s: %#v", required, toolNames)
		}
	}
}

func TestHandlerTransitionTool(t *testing.T) {
	stub := &stubYardService{transition: common.TransitionResponse{
		Day:     "2026-03-02",
		Vehicle: common.Vehicle{ID: "v1", Status: "ready_to_depart"},
	}}
	server := newTestServer(t, stub)

	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "yard.transition", map[string]any{
		"vehicle_id": "v1",
		"status":     "ready_to_depart",
		"weight":     1250.5,
	}))
	if isErr, _ := resp.Result["isError"].(bool); isErr {
		t.Fatalf("unexpected tool error %#v", resp.Result)
	}
	var got common.TransitionResponse
	if err := json.Unmarshal([]byte(toolResultText(t, resp.Result)), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Vehicle.Status != "ready_to_depart" || got.Day != "2026-03-02" {
		t.Fatalf("unexpected transition result %#v", got)
	}
	if stub.lastTransition.Weight == nil || *stub.lastTransition.Weight != 1250.5 {
		t.Fatalf("expected weight to be forwarded, got %#v", stub.lastTransition)
	}
}

func TestHandlerTransitionToolRequiresArguments(t *testing.T) {
	server := newTestServer(t, &stubYardService{})
	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "yard.transition", map[string]any{
		"vehicle_id": "v1",
	}))
	if isErr, _ := resp.Result["isError"].(bool); !isErr {
		t.Fatalf("expected tool error, got %#v", resp.Result)
	}
	if text := toolResultText(t, resp.Result); !strings.HasPrefix(text, "invalid_request:") {
		t.Fatalf("unexpected error text %q", text)
	}
}

func TestHandlerReportToolForwardsRange(t *testing.T) {
	stub := &stubYardService{reports: []common.Report{{Day: "2026-03-01"}}}
	server := newTestServer(t, stub)
	_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(5, "yard.report", map[string]any{
		"start": "2026-03-01",
		"end":   "2026-03-02",
	}))
	if isErr, _ := resp.Result["isError"].(bool); isErr {
		t.Fatalf("unexpected tool error %#v", resp.Result)
	}
	if stub.lastReport.Start != "2026-03-01" || stub.lastReport.End != "2026-03-02" {
		t.Fatalf("unexpected report request %#v", stub.lastReport)
	}
	if !strings.Contains(toolResultText(t, resp.Result), "2026-03-01") {
		t.Fatalf("unexpected report payload %q", toolResultText(t, resp.Result))
	}
}

func TestToolResultFromErrorPrefixes(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("x: %w", common.ErrInvalidRequest): "invalid_request:",
		fmt.Errorf("x: %w", common.ErrNotFound):       "not_found:",
		fmt.Errorf("x: %w", common.ErrConflict):       "illegal_transition:",
		fmt.Errorf("x: %w", common.ErrUnauthorized):   "unauthorized:",
		fmt.Errorf("x: %w", common.ErrUnavailable):    "service_unavailable:",
		fmt.Errorf("boom"):                            "internal_error:",
	}
	for err, prefix := range cases {
		result := toolResultFromError(err)
		if !result.IsError {
			t.Fatalf("expected error result for %v", err)
		}
		text, ok := result.Content[0].(mcp.TextContent)
		if !ok {
			t.Fatalf("content[0] has unexpected type %T", result.Content[0])
		}
		if !strings.HasPrefix(text.Text, prefix) {
			t.Fatalf("error %v mapped to %q, want prefix %q", err, text.Text, prefix)
		}
	}
}
