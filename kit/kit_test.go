package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/idgen"
)

func TestChain_Order(t *testing.T) {
	// WHAT: Chain applies middlewares outermost first.
	// WHY: Logging must wrap request id stamping to see the id.
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestWithRequestIDs(t *testing.T) {
	var seen []string
	base := func(ctx context.Context, _ any) (any, error) {
		seen = append(seen, GetRequestID(ctx))
		return nil, nil
	}
	ep := WithRequestIDs(idgen.Sequence("r"))(base)

	ep(context.Background(), nil)
	ep(WithRequestID(context.Background(), "given"), nil)

	if len(seen) != 2 || seen[0] == "" || seen[1] != "given" {
		t.Fatalf("request ids: %v", seen)
	}
}

func TestLogging_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ep := Logging(logger, "unblock")(func(context.Context, any) (any, error) {
		return nil, errors.New("not blocked")
	})
	if _, err := ep(WithTransport(context.Background(), "mcp"), nil); err == nil {
		t.Fatal("error swallowed")
	}
	out := buf.String()
	for _, want := range []string{"op=unblock", "transport=mcp", "not blocked"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
}

func TestContext_LayersKeepEarlierValues(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp")
	ctx = WithRequestID(ctx, "req_1")
	outer := WithRemoteAddr(ctx, "10.0.0.2")

	want := Call{Transport: "mcp", RequestID: "req_1", RemoteAddr: "10.0.0.2"}
	if got := CallFrom(outer); got != want {
		t.Fatalf("call: got %+v, want %+v", got, want)
	}
	if got := GetRemoteAddr(ctx); got != "" {
		t.Fatalf("parent context modified: %q", got)
	}
}

func TestContext_Values(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	ctx = WithRemoteAddr(ctx, "127.0.0.1:1")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
	if v := GetRemoteAddr(ctx); v != "127.0.0.1:1" {
		t.Fatalf("remote_addr: got %q", v)
	}
	if v := GetRequestID(context.Background()); v != "" {
		t.Fatalf("request_id default: got %q", v)
	}
}

func TestRegisterMCPTool(t *testing.T) {
	// WHAT: an endpoint registered as a tool answers with JSON text and
	// reports endpoint errors as tool errors.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	impl := &mcp.Implementation{Name: "kit-test", Version: "0.0.1"}
	srv := mcp.NewServer(impl, nil)
	schema := map[string]any{"type": "object", "properties": map[string]any{"n": map[string]any{"type": "integer"}}}

	type req struct {
		N int `json:"n"`
	}
	RegisterMCPTool(srv, &mcp.Tool{Name: "double", InputSchema: schema}, func(ctx context.Context, r any) (any, error) {
		in := r.(*req)
		if in.N < 0 {
			return nil, errors.New("negative")
		}
		return map[string]any{"n": in.N * 2, "transport": GetTransport(ctx)}, nil
	}, DecodeArgs[req]())

	serverT, clientT := mcp.NewInMemoryTransports()
	go srv.Run(ctx, serverT)
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "double", Arguments: map[string]any{"n": 21}})
	if err != nil {
		t.Fatal(err)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if !strings.Contains(text, `"n":42`) || !strings.Contains(text, `"transport":"mcp"`) {
		t.Fatalf("result: %s", text)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "double", Arguments: map[string]any{"n": -1}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("endpoint error not reported as tool error")
	}
}
