package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btouchard/cascada/internal/environment"
)

func cmdRender(args []string) {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	outputFile := fs.String("o", "", "output file path (default: stdout)")
	ctxFile := fs.String("ctx", "", "path to a JSON file supplying the render context")
	configFile := fs.String("config", "", "path to a TOML engine config file")
	focus := fs.String("focus", "", "project the result down to this focus target")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: cascada render [-o out] [-ctx ctx.json] [-config cascada.toml] [-focus name] <input>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	inputFile := fs.Arg(0)

	cfg := environment.DefaultConfig()
	if *configFile != "" {
		loaded, err := environment.LoadConfig(*configFile)
		if err != nil {
			fail(err)
		}
		cfg = loaded
	}

	env := environment.New(cfg)
	env.SetLoader(environment.NewFileLoader(filepath.Dir(inputFile)))

	renderCtx := map[string]interface{}{}
	if *ctxFile != "" {
		data, err := os.ReadFile(*ctxFile)
		if err != nil {
			fail(fmt.Errorf("reading context file: %w", err))
		}
		if err := json.Unmarshal(data, &renderCtx); err != nil {
			fail(fmt.Errorf("parsing context JSON: %w", err))
		}
	}

	data, err := os.ReadFile(inputFile)
	if err != nil {
		fail(fmt.Errorf("reading input file: %w", err))
	}

	opts := environment.RenderOptions{Context: renderCtx, Focus: *focus}
	scriptMode := filepath.Ext(inputFile) == ".gmxt"

	var out environment.RenderOutput
	if scriptMode {
		out, err = env.RenderScriptString(context.Background(), string(data), opts)
	} else {
		out, err = env.RenderTemplateString(context.Background(), string(data), opts)
	}
	if err != nil {
		fail(err)
	}

	text := out.Result.Text
	if out.HasFocus {
		text = fmt.Sprintf("%v", out.Focused)
	}

	if *outputFile == "" {
		fmt.Print(text)
		return
	}
	if err := os.WriteFile(*outputFile, []byte(text), 0644); err != nil {
		fail(fmt.Errorf("writing output file: %w", err))
	}
}

func fail(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
