package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/RowanDark/autodecode/internal/api"
	"github.com/RowanDark/autodecode/internal/config"
	"github.com/RowanDark/autodecode/internal/logging"
	"github.com/RowanDark/autodecode/internal/rpc"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "YAML file applied after the default config locations")
	grpcAddr := flag.String("grpc-addr", "", "override grpc_addr (empty keeps the configured value)")
	httpAddr := flag.String("http-addr", "", "override http_addr (empty keeps the configured value)")
	flag.Parse()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	if v := strings.TrimSpace(*grpcAddr); v != "" {
		cfg.GRPCAddr = v
	}
	if v := strings.TrimSpace(*httpAddr); v != "" {
		cfg.HTTPAddr = v
	}

	logger, err := newAuditLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open audit log: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := logger.Close(); err != nil {
			log.Printf("failed to close audit log: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.AuditLogger) error {
	grpcLis, err := listen(cfg.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := listen(cfg.HTTPAddr)
	if err != nil {
		if grpcLis != nil {
			_ = grpcLis.Close()
		}
		return err
	}
	return serve(ctx, grpcLis, httpLis, cfg, logger)
}

// listen returns a nil listener for an empty address, which disables that
// transport.
func listen(addr string) (net.Listener, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return lis, nil
}

// serve runs the gRPC and HTTP servers until ctx is cancelled or one of them
// fails. Either listener may be nil but not both.
func serve(ctx context.Context, grpcLis, httpLis net.Listener, cfg config.Config, logger *logging.AuditLogger) error {
	if grpcLis == nil && httpLis == nil {
		return errors.New("at least one of grpc_addr and http_addr must be set")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	running := 0

	if grpcLis != nil {
		srv := rpc.NewGRPCServer(rpc.Config{
			AuthToken:     cfg.AuthToken,
			MaxInputBytes: cfg.MaxInputBytes,
			Logger:        logger.WithComponent("rpc"),
		})
		running++
		go func() {
			errCh <- serveGRPC(ctx, srv, grpcLis)
		}()
		lifecycle(logger, "grpc_started", grpcLis.Addr().String())
		log.Printf("gRPC listening on %s", grpcLis.Addr())
	}

	if httpLis != nil {
		httpServer, err := api.NewServer(api.Config{
			Addr:          httpLis.Addr().String(),
			AuthToken:     cfg.AuthToken,
			MaxInputBytes: cfg.MaxInputBytes,
			Logger:        logger.WithComponent("api"),
		})
		if err != nil {
			cancel()
			_ = httpLis.Close()
			drain(errCh, running)
			return fmt.Errorf("configure http api: %w", err)
		}
		running++
		go func() {
			errCh <- httpServer.Serve(ctx, httpLis)
		}()
		lifecycle(logger, "http_started", httpLis.Addr().String())
		log.Printf("HTTP API listening on %s", httpLis.Addr())
	}

	// The first server to return stops the other one.
	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
	}
	lifecycle(logger, "stopped", "")
	return firstErr
}

// serveGRPC stops srv once ctx is cancelled, forcing the stop when in-flight
// calls outlast the grace period.
func serveGRPC(ctx context.Context, srv *grpc.Server, lis net.Listener) error {
	go func() {
		<-ctx.Done()

		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			srv.Stop()
		}
	}()

	if err := srv.Serve(lis); err != nil {
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
	return nil
}

func drain(errCh <-chan error, n int) {
	for i := 0; i < n; i++ {
		<-errCh
	}
}

func lifecycle(logger *logging.AuditLogger, action, addr string) {
	meta := map[string]any{"action": action, "version": version}
	if addr != "" {
		meta["addr"] = addr
	}
	if err := logger.Emit(logging.AuditEvent{
		EventType: logging.EventServerLifecycle,
		Decision:  logging.DecisionInfo,
		Metadata:  meta,
	}); err != nil {
		log.Printf("failed to emit audit event: %v", err)
	}
}

func newAuditLogger(cfg config.Config) (*logging.AuditLogger, error) {
	opts := []logging.Option{}
	if !cfg.AuditStdout {
		opts = append(opts, logging.WithoutStdout())
	}
	path := strings.TrimSpace(cfg.AuditLog)
	if path != "" {
		opts = append(opts, logging.WithFile(path))
	} else if !cfg.AuditStdout {
		opts = append(opts, logging.WithWriter(io.Discard))
	}
	return logging.NewAuditLogger("autodecoded", opts...)
}
