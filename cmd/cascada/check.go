package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btouchard/cascada/internal/compile"
	"github.com/btouchard/cascada/internal/compiler/parser"
	"github.com/btouchard/cascada/internal/compiler/script"
)

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: cascada check <files...>\n")
	}
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	exitCode := 0
	for _, file := range fs.Args() {
		if err := checkFile(file); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s: %v\n", file, err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func checkFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	source := string(data)
	if filepath.Ext(path) == ".gmxt" {
		res := script.Transpile(path, source)
		if res.Errors.HasErrors() {
			return fmt.Errorf("%s", res.Errors.String())
		}
		source = res.Template
	}

	root, perrs := parser.Parse(path, source)
	if perrs.HasErrors() {
		return fmt.Errorf("%s", perrs.String())
	}
	_, cerrs := compile.Compile(path, root)
	if cerrs.HasErrors() {
		return fmt.Errorf("%s", cerrs.String())
	}
	return nil
}
