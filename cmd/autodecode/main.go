package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

const usageText = `autodecode strips layered encodings from text and tidies JSON.

Usage:
  autodecode <command> [flags] [text]

Commands:
  decode       remove every recognised encoding layer
  json         decode, repair and pretty-print JSON
  repair       escape raw line breaks inside JSON strings
  pretty       pretty-print JSON with two-space indentation
  detect       list the layers the input looks like
  encode       run named operations over the input
  ops          list the available operations
  config       print the resolved configuration
  self-update  update or roll back the autodecode binary
  version      print the version

Input comes from the text argument, --file, or stdin.
`

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	switch args[0] {
	case "decode":
		return c.runDecode(args[1:])
	case "json":
		return c.runJSON(args[1:])
	case "repair":
		return c.runRepair(args[1:])
	case "pretty":
		return c.runPretty(args[1:])
	case "detect":
		return c.runDetect(args[1:])
	case "encode":
		return c.runEncode(args[1:])
	case "ops":
		return c.runOps(args[1:])
	case "config":
		return c.runConfig(args[1:])
	case "self-update":
		return c.runSelfUpdate(args[1:])
	case "version", "--version":
		return c.runVersion(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		fmt.Fprint(stderr, usageText)
		return 2
	}
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}
