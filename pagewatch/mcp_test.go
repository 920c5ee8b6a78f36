package pagewatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/task"
)

var testImpl = &mcp.Implementation{Name: "pagewatch-test", Version: "0.1.0"}

func setupMCP(t *testing.T) (*Engine, *mcp.ClientSession) {
	t.Helper()
	e, _ := newTestEngine(t, Config{})
	e.SetTasks([]task.Descriptor{notices(t.TempDir())})

	srv := mcp.NewServer(testImpl, nil)
	e.RegisterMCP(srv)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	serverT, clientT := mcp.NewInMemoryTransports()
	go srv.Run(ctx, serverT)

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { session.Close() })
	return e, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): content is %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	_, session := setupMCP(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"pagewatch_status": true, "pagewatch_tasks": true, "pagewatch_changes": true,
		"pagewatch_unblock": true, "pagewatch_check": true, "pagewatch_refresh_external": true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing tools: %v", want)
	}
}

func TestMCP_Status(t *testing.T) {
	_, session := setupMCP(t)
	text, isErr := callTool(t, session, "pagewatch_status", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		t.Fatal(err)
	}
	if s.Running || s.Tasks.Total != 1 {
		t.Fatalf("status = %+v", s)
	}
}

func TestMCP_Tasks(t *testing.T) {
	_, session := setupMCP(t)
	text, isErr := callTool(t, session, "pagewatch_tasks", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var out struct {
		Tasks []struct {
			Key string `json:"key"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Tasks) != 1 || out.Tasks[0].Key != "task:notices" {
		t.Fatalf("tasks = %s", text)
	}
}

func TestMCP_UnblockErrors(t *testing.T) {
	// WHAT: engine errors surface as tool errors, not protocol failures.
	_, session := setupMCP(t)
	if _, isErr := callTool(t, session, "pagewatch_unblock", map[string]any{"id": "notices"}); !isErr {
		t.Fatal("unblocking a task that is not blocked succeeded")
	}
	if _, isErr := callTool(t, session, "pagewatch_check", map[string]any{"id": "notices"}); !isErr {
		t.Fatal("check on a stopped engine succeeded")
	}
}

func TestMCP_Changes(t *testing.T) {
	_, session := setupMCP(t)
	text, isErr := callTool(t, session, "pagewatch_changes", map[string]any{"limit": 3})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	if text != `{"changes":[]}` && text != `{"changes":null}` {
		t.Fatalf("changes = %s", text)
	}
}
