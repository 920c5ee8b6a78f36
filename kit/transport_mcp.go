package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPDecoder turns tool arguments into the request value an Endpoint expects.
type MCPDecoder func(*mcp.CallToolRequest) (any, error)

// DecodeArgs returns an MCPDecoder that unmarshals the arguments into a new
// *T. Missing arguments leave T at its zero value.
func DecodeArgs[T any]() MCPDecoder {
	return func(req *mcp.CallToolRequest) (any, error) {
		v := new(T)
		if req.Params == nil || len(req.Params.Arguments) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// RegisterMCPTool exposes endpoint as tool on srv. A nil decode passes a nil
// request. Responses are returned as JSON text; decode and endpoint errors
// become tool errors.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode MCPDecoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, "mcp")
		var in any
		if decode != nil {
			v, err := decode(req)
			if err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
			in = v
		}
		out, err := endpoint(ctx, in)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
