package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "render":
		cmdRender(args)
	case "check":
		cmdCheck(args)
	case "fmt":
		cmdFmt(args)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: cascada <command> [flags] <args>\n\nCommands:\n")
	_, _ = fmt.Fprintf(os.Stderr, "  render   render a template or script file to stdout\n")
	_, _ = fmt.Fprintf(os.Stderr, "  check    parse and compile a file without rendering (for CI)\n")
	_, _ = fmt.Fprintf(os.Stderr, "  fmt      reformat script source files\n")
}
