package rpc

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/RowanDark/autodecode/internal/cipher"
	"github.com/RowanDark/autodecode/internal/config"
	"github.com/RowanDark/autodecode/internal/jsonfix"
	"github.com/RowanDark/autodecode/internal/logging"
)

// Response header keys set by Decode.
const (
	HeaderRequestID = "x-request-id"
	HeaderPasses    = "x-autodecode-passes"
	HeaderConverged = "x-autodecode-converged"
	HeaderLayers    = "x-autodecode-layers"
)

// Config configures the Decoder service.
type Config struct {
	AuthToken     string
	MaxInputBytes int64
	Logger        *logging.AuditLogger
}

// Server implements DecoderServer.
type Server struct {
	authToken string
	maxInput  int64
	logger    *logging.AuditLogger
}

// NewServer creates a Decoder service. A zero MaxInputBytes takes the
// configured default and an empty AuthToken disables authentication.
func NewServer(cfg Config) *Server {
	maxInput := cfg.MaxInputBytes
	if maxInput <= 0 {
		maxInput = config.DefaultMaxInputBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		authToken: strings.TrimSpace(cfg.AuthToken),
		maxInput:  maxInput,
		logger:    logger,
	}
}

// NewGRPCServer returns a grpc.Server with the Decoder service registered and
// token checks installed.
func NewGRPCServer(cfg Config, opts ...grpc.ServerOption) *grpc.Server {
	svc := NewServer(cfg)
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(svc.UnaryInterceptor())}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterDecoderServer(srv, svc)
	return srv
}

// UnaryInterceptor rejects calls to the Decoder service that do not carry the
// configured bearer token.
func (s *Server) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		if err := s.authenticate(ctx); err != nil {
			_ = s.logger.Emit(logging.AuditEvent{
				EventType: logging.EventRPCDenied,
				Decision:  logging.DecisionDeny,
				Reason:    status.Convert(err).Message(),
				Metadata:  map[string]any{"method": info.FullMethod},
			})
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (s *Server) authenticate(ctx context.Context) error {
	if s.authToken == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization")
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(values[0]), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return status.Error(codes.Unauthenticated, "authorization must use the bearer scheme")
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.authToken)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid auth token")
	}
	return nil
}

func (s *Server) checkInput(in *wrapperspb.StringValue) (string, error) {
	text := in.GetValue()
	if int64(len(text)) > s.maxInput {
		return "", status.Errorf(codes.InvalidArgument, "input is %d bytes, limit is %d", len(text), s.maxInput)
	}
	return text, nil
}

func (s *Server) emit(eventType logging.EventType, requestID, input string, meta map[string]any) {
	meta["input_bytes"] = len(input)
	meta["preview"] = logging.Preview(input)
	_ = s.logger.Emit(logging.AuditEvent{
		EventType: eventType,
		Decision:  logging.DecisionAllow,
		RequestID: requestID,
		Metadata:  meta,
	})
}

// Decode strips every recognised layer. The trace is returned in response
// headers.
func (s *Server) Decode(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	text, err := s.checkInput(in)
	if err != nil {
		return nil, err
	}
	res := cipher.AutoDecodeTrace(text)
	layers := res.Layers()
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = string(l)
	}

	requestID := logging.NewRequestID()
	s.emit(logging.EventDecodeRequest, requestID, text, map[string]any{
		"output_bytes": len(res.Output),
		"passes":       res.Passes,
		"converged":    res.Converged,
		"layers":       names,
	})

	// SetHeader fails only outside a gRPC call, such as a direct method call.
	_ = grpc.SetHeader(ctx, metadata.Pairs(
		HeaderRequestID, requestID,
		HeaderPasses, strconv.Itoa(res.Passes),
		HeaderConverged, strconv.FormatBool(res.Converged),
		HeaderLayers, strings.Join(names, ","),
	))
	return wrapperspb.String(res.Output), nil
}

func (s *Server) Repair(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return s.transform(ctx, logging.EventRepairRequest, in, jsonfix.Repair)
}

func (s *Server) Pretty(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return s.transform(ctx, logging.EventPrettyRequest, in, jsonfix.Pretty)
}

// Format decodes, repairs and pretty-prints in one call.
func (s *Server) Format(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return s.transform(ctx, logging.EventFormatRequest, in, func(text string) string {
		return jsonfix.Format(cipher.AutoDecode(text))
	})
}

func (s *Server) transform(ctx context.Context, eventType logging.EventType, in *wrapperspb.StringValue, apply func(string) string) (*wrapperspb.StringValue, error) {
	text, err := s.checkInput(in)
	if err != nil {
		return nil, err
	}
	out := apply(text)

	requestID := logging.NewRequestID()
	s.emit(eventType, requestID, text, map[string]any{
		"output_bytes": len(out),
		"changed":      out != text,
	})
	_ = grpc.SetHeader(ctx, metadata.Pairs(HeaderRequestID, requestID))
	return wrapperspb.String(out), nil
}
