package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RowanDark/autodecode/internal/rpc"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// isolate points config and updater state at empty temp directories.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", filepath.Join(dir, "home"))
	t.Setenv("AUTODECODE_UPDATER_CONFIG_DIR", filepath.Join(dir, "state"))
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	if code != 2 || !strings.Contains(stderr, "Usage:") {
		t.Fatalf("expected usage with exit 2, got %d %q", code, stderr)
	}
	code, _, stderr = runCLI(t, "", "frobnicate")
	if code != 2 || !strings.Contains(stderr, "unknown command: frobnicate") {
		t.Fatalf("expected unknown command error, got %d %q", code, stderr)
	}
	code, stdout, _ := runCLI(t, "", "help")
	if code != 0 || !strings.Contains(stdout, "self-update") {
		t.Fatalf("expected help on stdout, got %d %q", code, stdout)
	}
}

func TestTextCommands(t *testing.T) {
	tests := []struct {
		name   string
		stdin  string
		args   []string
		stdout string
	}{
		{"decode argument", "", []string{"decode", "JTJGaGVsbG8="}, "/hello\n"},
		{"decode joins arguments", "", []string{"decode", "a%20b", "c"}, "a b c\n"},
		{"decode stdin drops trailing newline", "%41%42\n", []string{"decode"}, "AB\n"},
		{"decode plain text", "", []string{"decode", "hello world"}, "hello world\n"},
		{"json", "", []string{"json", "%7B%22b%22%3A1%2C%22a%22%3A%22x%22%7D"}, "{\n  \"b\": 1,\n  \"a\": \"x\"\n}\n"},
		{"json compact", "", []string{"json", "--compact", "%7B%22b%22%3A%20%5B1%2C%202%5D%7D"}, "{\"b\":[1,2]}\n"},
		{"repair", "{\"a\":\"x\r\ny\"}", []string{"repair"}, "{\"a\":\"x\\ny\"}\n"},
		{"pretty", "", []string{"pretty", `{"a":[]}`}, "{\n  \"a\": []\n}\n"},
		{"pretty invalid", "", []string{"pretty", `{"a":`}, "{\"a\":\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, tt.stdin, tt.args...)
			if code != 0 {
				t.Fatalf("expected exit 0, got %d: %s", code, stderr)
			}
			if stdout != tt.stdout {
				t.Fatalf("expected %q, got %q", tt.stdout, stdout)
			}
		})
	}
}

func TestDecodeTrace(t *testing.T) {
	code, stdout, stderr := runCLI(t, "", "decode", "--trace", "JTJGaGVsbG8=")
	if code != 0 || stdout != "/hello\n" {
		t.Fatalf("unexpected result %d %q", code, stdout)
	}
	for _, want := range []string{"pass 1: base64", "pass 2: percent", "passes: 3, converged: true"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("expected %q in trace, got %q", want, stderr)
		}
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(path, []byte("&lt;b&gt;\r\n"), 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	code, stdout, stderr := runCLI(t, "", "decode", "--file", path)
	if code != 0 || stdout != "<b>\n" {
		t.Fatalf("unexpected result %d %q %q", code, stdout, stderr)
	}

	if code, _, _ := runCLI(t, "", "decode", "--file", path, "extra"); code != 2 {
		t.Fatalf("expected usage error for --file with an argument, got %d", code)
	}
	if code, _, _ := runCLI(t, "", "decode", "--file", filepath.Join(t.TempDir(), "absent")); code != 1 {
		t.Fatalf("expected runtime error for a missing file, got %d", code)
	}
	if code, _, _ := runCLI(t, "", "decode", "--bogus"); code != 2 {
		t.Fatalf("expected usage error for unknown flag, got %d", code)
	}
}

func TestDetect(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "detect", "68656c6c6f")
	if code != 0 || !strings.Contains(stdout, "LAYER") || !strings.Contains(stdout, "hex_decode") {
		t.Fatalf("unexpected detect output %d %q", code, stdout)
	}
	code, stdout, _ = runCLI(t, "", "detect", "plain")
	if code != 0 || stdout != "no encoding layers detected\n" {
		t.Fatalf("unexpected detect output %d %q", code, stdout)
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		code   int
		stdout string
	}{
		{"hex", []string{"encode", "--ops", "hex_encode", "hi"}, 0, "6869\n"},
		{"chain", []string{"encode", "--ops", "url_encode, base64_encode", "a b"}, 0, "YSUyMGI=\n"},
		{"reverse", []string{"encode", "--reverse", "--ops", "url_encode,base64_encode", "YSUyMGI="}, 0, "a b\n"},
		{"missing ops", []string{"encode", "hi"}, 2, ""},
		{"unknown op", []string{"encode", "--ops", "rot13", "hi"}, 2, ""},
		{"failing op", []string{"encode", "--ops", "hex_decode", "zz"}, 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(t, "", tt.args...)
			if code != tt.code {
				t.Fatalf("expected exit %d, got %d: %s", tt.code, code, stderr)
			}
			if tt.code == 0 && stdout != tt.stdout {
				t.Fatalf("expected %q, got %q", tt.stdout, stdout)
			}
		})
	}
}

func TestEncodeBinaryOutput(t *testing.T) {
	code, stdout, stderr := runCLI(t, "", "encode", "--ops", "gzip_compress", "hello")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stderr, "base64") {
		t.Fatalf("expected binary note on stderr, got %q", stderr)
	}
	code, decoded, _ := runCLI(t, "", "decode", strings.TrimSpace(stdout))
	if code != 0 || decoded != "hello\n" {
		t.Fatalf("expected decode to undo gzip+base64, got %d %q", code, decoded)
	}
}

func TestOps(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "ops")
	if code != 0 || !strings.Contains(stdout, "url_encode") || !strings.Contains(stdout, "unicode_unescape") {
		t.Fatalf("unexpected ops output %d %q", code, stdout)
	}

	_, stdout, _ = runCLI(t, "", "ops", "--layer", "HEX")
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "hex_decode") || !strings.HasPrefix(lines[2], "hex_encode") {
		t.Fatalf("unexpected hex ops: %q", stdout)
	}

	_, stdout, _ = runCLI(t, "", "ops", "--type", "compress")
	lines = strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "gzip_compress") {
		t.Fatalf("unexpected compress ops: %q", stdout)
	}

	if code, _, _ := runCLI(t, "", "ops", "--layer", "hex", "--type", "encode"); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "", "version")
	if code != 0 || stdout != version+"\n" {
		t.Fatalf("unexpected version output %d %q", code, stdout)
	}
	if code, _, _ := runCLI(t, "", "version", "extra"); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}

func TestConfigPrint(t *testing.T) {
	dir := isolate(t)
	t.Setenv("AUTODECODE_AUTH_TOKEN", "super-secret")
	path := filepath.Join(dir, "extra.yml")
	if err := os.WriteFile(path, []byte("grpc_addr: 127.0.0.1:6000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	code, stdout, stderr := runCLI(t, "", "config", "print", "--file", path)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "grpc_addr: 127.0.0.1:6000") || !strings.Contains(stdout, "auth_token: (set)") {
		t.Fatalf("unexpected config output %q", stdout)
	}
	if strings.Contains(stdout, "super-secret") {
		t.Fatalf("token must not be printed: %q", stdout)
	}
	if code, _, _ := runCLI(t, "", "config"); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}

func TestSelfUpdateWithoutSource(t *testing.T) {
	isolate(t)

	code, _, stderr := runCLI(t, "", "self-update")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "AUTODECODE_UPDATE_URL") {
		t.Fatalf("expected configuration hint, got %q", stderr)
	}
	if code, _, _ := runCLI(t, "", "self-update", "--channel", "nightly"); code != 2 {
		t.Fatalf("expected usage error for unknown channel, got %d", code)
	}
	if code, _, _ := runCLI(t, "", "self-update", "--rollback"); code != 1 {
		t.Fatalf("expected rollback without backup to fail, got %d", code)
	}
}

func TestSelfUpdateChannel(t *testing.T) {
	isolate(t)

	code, stdout, _ := runCLI(t, "", "self-update", "channel")
	if code != 0 || stdout != "stable\n" {
		t.Fatalf("expected stable, got %d %q", code, stdout)
	}
	if code, _, _ := runCLI(t, "", "self-update", "channel", "Beta"); code != 0 {
		t.Fatalf("expected channel switch to succeed, got %d", code)
	}
	_, stdout, _ = runCLI(t, "", "self-update", "channel")
	if stdout != "beta\n" {
		t.Fatalf("expected persisted beta channel, got %q", stdout)
	}
	if code, _, _ := runCLI(t, "", "self-update", "channel", "a", "b"); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
}

func TestRemoteCommands(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := rpc.NewGRPCServer(rpc.Config{AuthToken: "cli-token"})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	addr := lis.Addr().String()

	code, stdout, stderr := runCLI(t, "", "decode", "--remote", addr, "--token", "cli-token", "--trace", "JTJGaGVsbG8=")
	if code != 0 || stdout != "/hello\n" {
		t.Fatalf("unexpected remote decode %d %q %q", code, stdout, stderr)
	}
	if !strings.Contains(stderr, "layers: base64, percent") {
		t.Fatalf("expected remote trace, got %q", stderr)
	}

	code, stdout, _ = runCLI(t, "", "json", "--remote", addr, "--token", "cli-token", "--compact", "eyJhIjogMX0=")
	if code != 0 || stdout != "{\"a\":1}\n" {
		t.Fatalf("unexpected remote json %d %q", code, stdout)
	}

	t.Setenv("AUTODECODE_AUTH_TOKEN", "cli-token")
	code, stdout, _ = runCLI(t, "", "pretty", "--remote", addr, "[1]")
	if code != 0 || stdout != "[\n  1\n]\n" {
		t.Fatalf("expected env token to be used, got %d %q", code, stdout)
	}

	if code, _, _ := runCLI(t, "", "repair", "--remote", addr, "--token", "wrong", "{}"); code != 1 {
		t.Fatalf("expected exit 1 for a rejected token, got %d", code)
	}
}
