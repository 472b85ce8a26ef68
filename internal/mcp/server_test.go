package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/rollcall/internal/extract"
	"github.com/hurttlocker/rollcall/internal/store"
)

const legacyDump = "연번,권역,구분,성명,생년월일,전화번호\n" +
	"1,경북/대구,청년농업인,홍길동,1990-05-01,1010-1234-5678\n" +
	"2,전남,우수후계농업인,이영희,1985-11-20,010-2222-3333\n" +
	"3,경북/대구,청년농업인,홍길동,1990-05-01,010-1234-5678\n"

func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewServer(t *testing.T) {
	srv := NewServer(ServerConfig{Store: setupTestStore(t)})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

// callTool invokes an MCP tool through the JSON-RPC entry point.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}
	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{IsError: resp.Result.IsError}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}
	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

type toolResult struct {
	RunID         string           `json:"run_id"`
	Mode          string           `json:"mode"`
	Stats         extract.Stats    `json:"stats"`
	Written       int              `json:"written"`
	Unchanged     bool             `json:"unchanged"`
	PreviousRunID string           `json:"previous_run_id"`
	Records       []extract.Record `json:"records"`
}

func decodeToolResult(t *testing.T, result *mcplib.CallToolResult) toolResult {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool error: %s", getTextContent(t, result))
	}
	var out toolResult
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &out); err != nil {
		t.Fatalf("parsing tool result: %v", err)
	}
	return out
}

func TestParseTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s})

	out := decodeToolResult(t, callTool(t, srv, "rollcall_parse", map[string]interface{}{
		"content":  legacyDump,
		"filename": "dump.txt",
	}))

	if out.Mode != "legacy" {
		t.Errorf("expected legacy mode, got %q", out.Mode)
	}
	if len(out.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out.Records))
	}
	if out.Records[0].Name != "홍길동" || out.Records[0].Phone != "01012345678" {
		t.Errorf("unexpected first record: %+v", out.Records[0])
	}
	if out.Stats.Duplicates != 1 {
		t.Errorf("expected 1 duplicate, got %d", out.Stats.Duplicates)
	}

	n, err := s.CountStudents(context.Background(), store.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("parse must not write, found %d students", n)
	}
}

func TestParseToolRequiresInput(t *testing.T) {
	srv := NewServer(ServerConfig{Store: setupTestStore(t)})

	result := callTool(t, srv, "rollcall_parse", map[string]interface{}{"content": "   "})
	if !result.IsError {
		t.Fatal("expected error for empty content")
	}
	if !strings.Contains(getTextContent(t, result), "content or path is required") {
		t.Errorf("unexpected error text: %s", getTextContent(t, result))
	}
}

func TestParseToolRejectsBadMode(t *testing.T) {
	srv := NewServer(ServerConfig{Store: setupTestStore(t)})

	result := callTool(t, srv, "rollcall_parse", map[string]interface{}{
		"content": legacyDump,
		"mode":    "xml",
	})
	if !result.IsError {
		t.Fatal("expected error for unknown mode")
	}
}

func TestImportTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s})
	args := map[string]interface{}{"content": legacyDump}

	first := decodeToolResult(t, callTool(t, srv, "rollcall_import", args))
	if first.Written != 2 {
		t.Fatalf("expected 2 written, got %d", first.Written)
	}

	second := decodeToolResult(t, callTool(t, srv, "rollcall_import", args))
	if !second.Unchanged || second.PreviousRunID != first.RunID {
		t.Errorf("expected unchanged re-import of run %s, got %+v", first.RunID, second)
	}

	replaced := decodeToolResult(t, callTool(t, srv, "rollcall_import", map[string]interface{}{
		"content": legacyDump,
		"replace": true,
	}))
	if replaced.Written != 2 {
		t.Errorf("expected 2 written on replace, got %d", replaced.Written)
	}

	n, err := s.CountStudents(context.Background(), store.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 students after replace, got %d", n)
	}
}

func TestImportToolFromPath(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s})

	path := filepath.Join(t.TempDir(), "export.csv")
	csv := "성명,생년월일,전화번호,권역\n홍길동,1990.05.01,010-1234-5678,경북\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	out := decodeToolResult(t, callTool(t, srv, "rollcall_import", map[string]interface{}{"path": path}))
	if out.Mode != "columnar" || out.Written != 1 {
		t.Errorf("expected 1 columnar record written, got %+v", out)
	}
}

func TestStudentsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s})
	decodeToolResult(t, callTool(t, srv, "rollcall_import", map[string]interface{}{"content": legacyDump}))

	result := callTool(t, srv, "rollcall_students", map[string]interface{}{
		"region": "전남",
		"limit":  float64(10),
	})
	if result.IsError {
		t.Fatalf("tool error: %s", getTextContent(t, result))
	}

	var out struct {
		Total    int64 `json:"total"`
		Students []struct {
			Name       string `json:"name"`
			BirthDate  string `json:"birth_date"`
			FarmerType string `json:"farmer_type"`
		} `json:"students"`
	}
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &out); err != nil {
		t.Fatalf("parsing students: %v", err)
	}
	if out.Total != 1 || len(out.Students) != 1 {
		t.Fatalf("expected 1 student in 전남, got %+v", out)
	}
	st := out.Students[0]
	if st.Name != "이영희" || st.BirthDate != "1985-11-20" || st.FarmerType != "우수후계농업인" {
		t.Errorf("unexpected student: %+v", st)
	}
}

func TestRunsTool(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s})
	imported := decodeToolResult(t, callTool(t, srv, "rollcall_import", map[string]interface{}{"content": legacyDump}))

	result := callTool(t, srv, "rollcall_runs", map[string]interface{}{})
	var runs []runView
	if err := json.Unmarshal([]byte(getTextContent(t, result)), &runs); err != nil {
		t.Fatalf("parsing runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].ID != imported.RunID || runs[0].RecordsEmitted != 2 || runs[0].Duplicates != 1 {
		t.Errorf("unexpected run: %+v", runs[0])
	}
}

func TestStatsResource(t *testing.T) {
	s := setupTestStore(t)
	srv := NewServer(ServerConfig{Store: s})
	decodeToolResult(t, callTool(t, srv, "rollcall_import", map[string]interface{}{"content": legacyDump}))

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "resources/read",
		"params":  map[string]interface{}{"uri": "rollcall://stats"},
	}))
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatal(err)
	}

	var resp struct {
		Result struct {
			Contents []struct {
				Text string `json:"text"`
			} `json:"contents"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Result.Contents) != 1 {
		t.Fatalf("expected 1 content, got raw %s", raw)
	}
	var stats map[string]int64
	if err := json.Unmarshal([]byte(resp.Result.Contents[0].Text), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}
	if stats["students"] != 2 || stats["runs"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
