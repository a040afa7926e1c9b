package main

import (
	"fmt"
	"io"

	"github.com/RowanDark/autodecode/internal/config"
)

func (c *cli) runConfig(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, "config subcommand required")
		return 2
	}

	switch args[0] {
	case "print":
		return c.runConfigPrint(args[1:])
	default:
		fmt.Fprintf(c.stderr, "unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func (c *cli) runConfigPrint(args []string) int {
	fs := c.flagSet("config print")
	file := fs.String("file", "", "apply this YAML file after the default locations and before the environment")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadWithFile(*file)
	if err != nil {
		fmt.Fprintf(c.stderr, "load config: %v\n", err)
		return 1
	}

	printResolvedConfig(c.stdout, cfg)
	return 0
}

func printResolvedConfig(out io.Writer, cfg config.Config) {
	fmt.Fprintf(out, "grpc_addr: %s\n", cfg.GRPCAddr)
	fmt.Fprintf(out, "http_addr: %s\n", cfg.HTTPAddr)
	fmt.Fprintf(out, "auth_token: %s\n", maskSecret(cfg.AuthToken))
	fmt.Fprintf(out, "max_input_bytes: %d\n", cfg.MaxInputBytes)
	fmt.Fprintf(out, "audit_log: %s\n", cfg.AuditLog)
	fmt.Fprintf(out, "audit_stdout: %t\n", cfg.AuditStdout)
	fmt.Fprintln(out, "update:")
	fmt.Fprintf(out, "  base_url: %s\n", cfg.Update.BaseURL)
	fmt.Fprintf(out, "  channel: %s\n", cfg.Update.Channel)
	fmt.Fprintf(out, "  public_key: %s\n", cfg.Update.PublicKey)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "(set)"
}
