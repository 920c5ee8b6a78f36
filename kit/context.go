package kit

import "context"

// Call is the transport metadata an endpoint sees for one invocation.
type Call struct {
	Transport  string
	RequestID  string
	RemoteAddr string
}

type callKey struct{}

// CallFrom returns the metadata attached to ctx. Transport defaults to "http".
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	if c.Transport == "" {
		c.Transport = "http"
	}
	return c
}

func withCall(ctx context.Context, edit func(*Call)) context.Context {
	c, _ := ctx.Value(callKey{}).(Call)
	edit(&c)
	return context.WithValue(ctx, callKey{}, c)
}

// WithTransport records the transport ("http" or "mcp").
func WithTransport(ctx context.Context, t string) context.Context {
	return withCall(ctx, func(c *Call) { c.Transport = t })
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withCall(ctx, func(c *Call) { c.RequestID = id })
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return withCall(ctx, func(c *Call) { c.RemoteAddr = addr })
}

func GetTransport(ctx context.Context) string  { return CallFrom(ctx).Transport }
func GetRequestID(ctx context.Context) string  { return CallFrom(ctx).RequestID }
func GetRemoteAddr(ctx context.Context) string { return CallFrom(ctx).RemoteAddr }
