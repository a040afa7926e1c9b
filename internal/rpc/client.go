package rpc

import (
	"context"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the Decoder service over an existing connection.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// DecodeResult is the decoded text with the trace the server reported.
type DecodeResult struct {
	Output    string
	RequestID string
	Passes    int
	Converged bool
	Layers    []string
}

// NewClient wraps cc. When token is non-empty it is sent as a bearer token on
// every call.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: strings.TrimSpace(token)}
}

func (c *Client) invoke(ctx context.Context, method, input string, opts ...grpc.CallOption) (string, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, FullMethod(method), wrapperspb.String(input), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Decode strips every layer the server recognises from input.
func (c *Client) Decode(ctx context.Context, input string) (DecodeResult, error) {
	var header metadata.MD
	out, err := c.invoke(ctx, MethodDecode, input, grpc.Header(&header))
	if err != nil {
		return DecodeResult{}, err
	}
	res := DecodeResult{Output: out, RequestID: first(header, HeaderRequestID)}
	res.Passes, _ = strconv.Atoi(first(header, HeaderPasses))
	res.Converged, _ = strconv.ParseBool(first(header, HeaderConverged))
	if layers := first(header, HeaderLayers); layers != "" {
		res.Layers = strings.Split(layers, ",")
	}
	return res, nil
}

func (c *Client) Repair(ctx context.Context, input string) (string, error) {
	return c.invoke(ctx, MethodRepair, input)
}

func (c *Client) Pretty(ctx context.Context, input string) (string, error) {
	return c.invoke(ctx, MethodPretty, input)
}

func (c *Client) Format(ctx context.Context, input string) (string, error) {
	return c.invoke(ctx, MethodFormat, input)
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
