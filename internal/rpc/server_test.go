package rpc

import (
	"bytes"
	"context"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/RowanDark/autodecode/internal/logging"
)

const bufSize = 1 << 20

// startServer serves the Decoder service on an in-memory listener and returns
// a connection to it.
func startServer(t *testing.T, cfg Config) (*grpc.ClientConn, *bytes.Buffer) {
	t.Helper()

	audit := &bytes.Buffer{}
	cfg.Logger = logging.MustNewAuditLogger("rpc_test", logging.WithoutStdout(), logging.WithWriter(audit))

	lis := bufconn.Listen(bufSize)
	srv := NewGRPCServer(cfg)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to create gRPC client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, audit
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDecodeOverGRPC(t *testing.T) {
	conn, audit := startServer(t, Config{})
	client := NewClient(conn, "")

	res, err := client.Decode(testContext(t), "JTJGaGVsbG8=")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Output != "/hello" {
		t.Fatalf("expected /hello, got %q", res.Output)
	}
	if res.Passes != 3 || !res.Converged {
		t.Fatalf("expected 3 converged passes, got %d converged=%v", res.Passes, res.Converged)
	}
	if !reflect.DeepEqual(res.Layers, []string{"base64", "percent"}) {
		t.Fatalf("unexpected layers: %v", res.Layers)
	}
	if res.RequestID == "" || !strings.Contains(audit.String(), res.RequestID) {
		t.Fatalf("expected request id %q in audit log %s", res.RequestID, audit.String())
	}
}

func TestTextMethodsOverGRPC(t *testing.T) {
	conn, _ := startServer(t, Config{})
	client := NewClient(conn, "")
	ctx := testContext(t)

	tests := []struct {
		name     string
		call     func(context.Context, string) (string, error)
		input    string
		expected string
	}{
		{"repair", client.Repair, "{\"a\":\"x\r\ny\"}", `{"a":"x\ny"}`},
		{"pretty", client.Pretty, `{"a":{},"b":[]}`, "{\n  \"a\": {},\n  \"b\": []\n}"},
		{"format", client.Format, "eyJhIjoiMSJ9", "{\n  \"a\": \"1\"\n}"},
		{"pretty invalid", client.Pretty, "not json", "not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.call(ctx, tt.input)
			if err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if got != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	conn, audit := startServer(t, Config{AuthToken: "test-token"})
	ctx := testContext(t)

	tests := []struct {
		name  string
		token string
		want  codes.Code
	}{
		{"missing token", "", codes.Unauthenticated},
		{"wrong token", "nope", codes.Unauthenticated},
		{"valid token", "test-token", codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(conn, tt.token).Repair(ctx, "{}")
			if got := status.Code(err); got != tt.want {
				t.Fatalf("expected %v, got %v (%v)", tt.want, got, err)
			}
		})
	}

	if strings.Count(audit.String(), `"event_type":"rpc_denied"`) != 2 {
		t.Fatalf("expected two denials in audit log, got %s", audit.String())
	}
}

func TestAuthRejectsOtherSchemes(t *testing.T) {
	svc := NewServer(Config{AuthToken: "test-token"})
	if err := svc.authenticate(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated without metadata, got %v", err)
	}
}

func TestInputLimit(t *testing.T) {
	conn, _ := startServer(t, Config{MaxInputBytes: 8})
	client := NewClient(conn, "")

	_, err := client.Pretty(testContext(t), strings.Repeat("x", 9))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if _, err := client.Pretty(testContext(t), "12345678"); err != nil {
		t.Fatalf("expected input at the limit to pass, got %v", err)
	}
}

func TestDirectCallWithoutTransport(t *testing.T) {
	svc := NewServer(Config{})
	out, err := svc.Decode(context.Background(), wrapperspb.String("%41"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.GetValue() != "A" {
		t.Fatalf("expected A, got %q", out.GetValue())
	}
}
