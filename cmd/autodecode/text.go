package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/RowanDark/autodecode/internal/cipher"
	"github.com/RowanDark/autodecode/internal/config"
	"github.com/RowanDark/autodecode/internal/env"
	"github.com/RowanDark/autodecode/internal/jsonfix"
	"github.com/RowanDark/autodecode/internal/rpc"
)

var errUsage = errors.New("usage error")

// inputFlags are shared by every command that reads text.
type inputFlags struct {
	file   *string
	remote *string
	token  *string
}

func addInputFlags(fs *flag.FlagSet, remote bool) inputFlags {
	in := inputFlags{
		file: fs.String("file", "", "read input from `path` instead of the argument or stdin"),
	}
	if remote {
		in.remote = fs.String("remote", "", "send the request to an autodecoded gRPC `addr` instead of running locally")
		in.token = fs.String("token", "", "bearer token for --remote (defaults to AUTODECODE_AUTH_TOKEN)")
	}
	return in
}

// readInput returns the text argument, the --file contents or stdin, in that
// order. A single trailing line break from a file or stdin is dropped.
func (c *cli) readInput(fs *flag.FlagSet, in inputFlags) (string, error) {
	if fs.NArg() > 0 {
		if *in.file != "" {
			return "", fmt.Errorf("%w: --file cannot be combined with a text argument", errUsage)
		}
		return strings.Join(fs.Args(), " "), nil
	}

	r := c.stdin
	if *in.file != "" {
		f, err := os.Open(*in.file)
		if err != nil {
			return "", fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if r == nil {
		return "", fmt.Errorf("%w: no input provided", errUsage)
	}

	data, err := io.ReadAll(io.LimitReader(r, config.DefaultMaxInputBytes+1))
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if len(data) > config.DefaultMaxInputBytes {
		return "", fmt.Errorf("input exceeds %d bytes", config.DefaultMaxInputBytes)
	}
	if !utf8.Valid(data) {
		return "", errors.New("input is not valid UTF-8")
	}
	text := string(data)
	if strings.HasSuffix(text, "\r\n") {
		text = text[:len(text)-2]
	} else if strings.HasSuffix(text, "\n") {
		text = text[:len(text)-1]
	}
	return text, nil
}

// fail reports err and returns the exit code for it.
func (c *cli) fail(cmd string, err error) int {
	fmt.Fprintf(c.stderr, "%s: %v\n", cmd, err)
	if errors.Is(err, errUsage) {
		return 2
	}
	return 1
}

func (c *cli) dialRemote(in inputFlags) (*rpc.Client, func(), error) {
	token := strings.TrimSpace(*in.token)
	if token == "" {
		token = env.Get("AUTH_TOKEN")
	}
	conn, err := grpc.NewClient(*in.remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connect %s: %w", *in.remote, err)
	}
	return rpc.NewClient(conn, token), func() { _ = conn.Close() }, nil
}

func remoteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func (c *cli) runDecode(args []string) int {
	fs := c.flagSet("decode")
	in := addInputFlags(fs, true)
	trace := fs.Bool("trace", false, "report the layer removed in each pass on stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text, err := c.readInput(fs, in)
	if err != nil {
		return c.fail("decode", err)
	}

	if *in.remote != "" {
		return c.decodeRemote(in, text, *trace)
	}

	res := cipher.AutoDecodeTrace(text)
	if *trace {
		for _, s := range res.Steps {
			fmt.Fprintf(c.stderr, "pass %d: %s\n", s.Pass, s.Layer)
		}
		fmt.Fprintf(c.stderr, "passes: %d, converged: %t\n", res.Passes, res.Converged)
	}
	fmt.Fprintln(c.stdout, res.Output)
	return 0
}

func (c *cli) decodeRemote(in inputFlags, text string, trace bool) int {
	client, closeConn, err := c.dialRemote(in)
	if err != nil {
		return c.fail("decode", err)
	}
	defer closeConn()
	ctx, cancel := remoteContext()
	defer cancel()

	res, err := client.Decode(ctx, text)
	if err != nil {
		return c.fail("decode", err)
	}
	if trace {
		if len(res.Layers) > 0 {
			fmt.Fprintf(c.stderr, "layers: %s\n", strings.Join(res.Layers, ", "))
		}
		fmt.Fprintf(c.stderr, "passes: %d, converged: %t\n", res.Passes, res.Converged)
	}
	fmt.Fprintln(c.stdout, res.Output)
	return 0
}

func (c *cli) runJSON(args []string) int {
	fs := c.flagSet("json")
	in := addInputFlags(fs, true)
	compact := fs.Bool("compact", false, "print compact JSON instead of indented")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text, err := c.readInput(fs, in)
	if err != nil {
		return c.fail("json", err)
	}

	var out string
	if *in.remote != "" {
		out, err = c.remoteCall(in, rpc.MethodFormat, text)
		if err != nil {
			return c.fail("json", err)
		}
	} else {
		out = jsonfix.Format(cipher.AutoDecode(text))
	}
	if *compact {
		out = jsonfix.Compact(out)
	}
	fmt.Fprintln(c.stdout, out)
	return 0
}

func (c *cli) runRepair(args []string) int {
	return c.runTransform("repair", rpc.MethodRepair, jsonfix.Repair, args)
}

func (c *cli) runPretty(args []string) int {
	return c.runTransform("pretty", rpc.MethodPretty, jsonfix.Pretty, args)
}

func (c *cli) runTransform(name, method string, local func(string) string, args []string) int {
	fs := c.flagSet(name)
	in := addInputFlags(fs, true)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text, err := c.readInput(fs, in)
	if err != nil {
		return c.fail(name, err)
	}

	var out string
	if *in.remote != "" {
		if out, err = c.remoteCall(in, method, text); err != nil {
			return c.fail(name, err)
		}
	} else {
		out = local(text)
	}
	fmt.Fprintln(c.stdout, out)
	return 0
}

func (c *cli) remoteCall(in inputFlags, method, text string) (string, error) {
	client, closeConn, err := c.dialRemote(in)
	if err != nil {
		return "", err
	}
	defer closeConn()
	ctx, cancel := remoteContext()
	defer cancel()

	switch method {
	case rpc.MethodRepair:
		return client.Repair(ctx, text)
	case rpc.MethodPretty:
		return client.Pretty(ctx, text)
	case rpc.MethodFormat:
		return client.Format(ctx, text)
	default:
		return "", fmt.Errorf("unsupported remote method %s", method)
	}
}
