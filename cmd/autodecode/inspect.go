package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/RowanDark/autodecode/internal/cipher"
)

func (c *cli) runDetect(args []string) int {
	fs := c.flagSet("detect")
	in := addInputFlags(fs, false)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text, err := c.readInput(fs, in)
	if err != nil {
		return c.fail("detect", err)
	}

	results, err := cipher.NewSmartDetector().Detect(context.Background(), []byte(text))
	if err != nil {
		return c.fail("detect", err)
	}
	if len(results) == 0 {
		fmt.Fprintln(c.stdout, "no encoding layers detected")
		return 0
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tCONFIDENCE\tOPERATION\tREASON")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\n", r.Layer, r.Confidence, r.Operation, r.Reasoning)
	}
	if err := tw.Flush(); err != nil {
		return c.fail("detect", err)
	}
	return 0
}

func (c *cli) runEncode(args []string) int {
	fs := c.flagSet("encode")
	in := addInputFlags(fs, false)
	opsFlag := fs.String("ops", "", "comma separated operation names, applied left to right")
	reverse := fs.Bool("reverse", false, "apply the inverse of each operation in reverse order")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	names := splitList(*opsFlag)
	if len(names) == 0 {
		fmt.Fprintln(c.stderr, "encode: --ops is required")
		return 2
	}
	text, err := c.readInput(fs, in)
	if err != nil {
		return c.fail("encode", err)
	}

	pipeline, err := cipher.ParsePipeline(names)
	if err != nil {
		fmt.Fprintf(c.stderr, "encode: %v\n", err)
		return 2
	}
	if *reverse {
		if pipeline, err = pipeline.Reverse(); err != nil {
			return c.fail("encode", err)
		}
	}

	out, err := pipeline.Execute(context.Background(), []byte(text))
	if err != nil {
		return c.fail("encode", err)
	}
	if !utf8.Valid(out) {
		fmt.Fprintln(c.stderr, "encode: output is binary, printing it as base64")
		fmt.Fprintln(c.stdout, base64.StdEncoding.EncodeToString(out))
		return 0
	}
	fmt.Fprintln(c.stdout, string(out))
	return 0
}

func (c *cli) runOps(args []string) int {
	fs := c.flagSet("ops")
	layer := fs.String("layer", "", "only list operations for this layer")
	opType := fs.String("type", "", "only list operations of this type (encode, decode, compress, decompress)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "ops takes no arguments")
		return 2
	}

	var ops []cipher.Operation
	switch {
	case *layer != "" && *opType != "":
		fmt.Fprintln(c.stderr, "ops: --layer and --type cannot be combined")
		return 2
	case *layer != "":
		ops = cipher.ListOperationsByLayer(cipher.Layer(strings.ToLower(*layer)))
	case *opType != "":
		ops = cipher.ListOperationsByType(cipher.OperationType(strings.ToLower(*opType)))
	default:
		ops = cipher.ListOperations()
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tLAYER\tREVERSE\tDESCRIPTION")
	for _, op := range ops {
		reverse := "-"
		if inv, ok := op.Reverse(); ok {
			reverse = inv.Name()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", op.Name(), op.Type(), op.Layer(), reverse, op.Description())
	}
	if err := tw.Flush(); err != nil {
		return c.fail("ops", err)
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
