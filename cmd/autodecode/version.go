package main

import "fmt"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func (c *cli) runVersion(args []string) int {
	fs := c.flagSet("version")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "version takes no arguments")
		return 2
	}
	fmt.Fprintln(c.stdout, version)
	return 0
}
