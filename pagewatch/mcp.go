// CLAUDE:SUMMARY Registers the pagewatch MCP tools: status, tasks, changes, unblock, check, refresh external.
package pagewatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/kit"
)

// RegisterMCP registers pagewatch tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerStatusTool(srv)
	e.registerTasksTool(srv)
	e.registerChangesTool(srv)
	e.registerUnblockTool(srv)
	e.registerCheckTool(srv)
	e.registerRefreshTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type taskRequest struct {
	ID string `json:"id"`
}

var taskSchema = inputSchema(map[string]any{
	"id": map[string]any{"type": "string", "description": "Task key (task:<id>, legacy:<n>) or built-in task id"},
}, []string{"id"})

// --- status ---

func (e *Engine) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_status",
		Description: "Engine status: running, browser connection, mode, concurrency and task counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := e.endpoint(tool.Name, false, func(ctx context.Context, _ any) (any, error) {
		return e.Snapshot(), nil
	})
	kit.RegisterMCPTool(srv, tool, endpoint, nil)
}

// --- tasks ---

func (e *Engine) registerTasksTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_tasks",
		Description: "List every monitored page with its scheduling state, block status and last check.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := e.endpoint(tool.Name, false, func(ctx context.Context, _ any) (any, error) {
		return map[string]any{"tasks": e.TaskStatuses()}, nil
	})
	kit.RegisterMCPTool(srv, tool, endpoint, nil)
}

// --- changes ---

type changesRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (e *Engine) registerChangesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_changes",
		Description: "Recent detected page changes, newest first, with the path of each diff report.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max records (default 50)"},
		}, nil),
	}
	endpoint := e.endpoint(tool.Name, false, func(ctx context.Context, req any) (any, error) {
		r := req.(*changesRequest)
		limit := r.Limit
		if limit <= 0 {
			limit = 50
		}
		return map[string]any{"changes": e.Changes(limit)}, nil
	})
	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeArgs[changesRequest]())
}

// --- unblock ---

func (e *Engine) registerUnblockTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_unblock",
		Description: "Clear the anti-bot block of a task and schedule its next check.",
		InputSchema: taskSchema,
	}
	kit.RegisterMCPTool(srv, tool, e.unblockEndpoint(), kit.DecodeArgs[taskRequest]())
}

// --- check ---

func (e *Engine) registerCheckTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_check",
		Description: "Queue an immediate check of a task.",
		InputSchema: taskSchema,
	}
	kit.RegisterMCPTool(srv, tool, e.checkEndpoint(), kit.DecodeArgs[taskRequest]())
}

// --- refresh external ---

func (e *Engine) registerRefreshTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_refresh_external",
		Description: "Reload the external task script and replace the external task set.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterMCPTool(srv, tool, e.refreshEndpoint(), nil)
}
