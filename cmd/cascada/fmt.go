package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// openers/middles/closers mirror script.reservedBlockWords' opening and
// closing halves (internal/compiler/script/transpiler.go) well enough to
// drive indentation without re-implementing the transpiler's own
// block-matching: a formatter only needs "does this line open or close a
// level", not whether the nesting is actually well-formed (Transpile
// already reports that).
var (
	openers = map[string]bool{
		"if": true, "for": true, "each": true, "while": true, "switch": true,
		"block": true, "macro": true, "filter": true, "call": true,
		"raw": true, "verbatim": true, "guard": true, "capture": true,
	}
	middles = map[string]bool{
		"elif": true, "else": true, "case": true, "default": true, "recover": true,
	}
	closers = map[string]bool{
		"endif": true, "endfor": true, "endeach": true, "endwhile": true,
		"endswitch": true, "endblock": true, "endmacro": true, "endfilter": true,
		"endcall": true, "endraw": true, "endverbatim": true, "endguard": true,
		"endcapture": true,
	}
)

func cmdFmt(args []string) {
	fs := flag.NewFlagSet("fmt", flag.ExitOnError)
	diff := fs.Bool("d", false, "list files that would change instead of writing")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: cascada fmt [-d] <files...>\n\nFlags:\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	exitCode := 0
	for _, file := range fs.Args() {
		if err := fmtFile(file, *diff); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error formatting %s: %v\n", file, err)
			exitCode = 1
		}
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func fmtFile(path string, showDiff bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	formatted := formatScript(string(data))

	if showDiff {
		if formatted != string(data) {
			fmt.Printf("--- %s (formatted)\n", path)
		}
		return nil
	}
	if formatted == string(data) {
		return nil
	}
	return os.WriteFile(path, []byte(formatted), 0644)
}

// formatScript reindents script-mode source two spaces per nesting level
// and trims trailing whitespace and runs of blank lines, the shorthand
// source's counterpart to gofmt — simpler than the teacher's fmt.go
// (no <script>/<template>/<style> sections to preserve, since this
// language has one surface syntax per file, not three).
func formatScript(src string) string {
	lines := strings.Split(src, "\n")
	var out []string
	depth := 0
	blankRun := 0

	for _, raw := range lines {
		trimmed := strings.TrimRight(raw, " \t\r")
		content := strings.TrimSpace(trimmed)

		if content == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blankRun = 0

		word := firstWord(content)
		lineDepth := depth
		if closers[word] {
			lineDepth--
			if lineDepth < 0 {
				lineDepth = 0
			}
			depth = lineDepth
		} else if middles[word] {
			lineDepth--
			if lineDepth < 0 {
				lineDepth = 0
			}
		}

		out = append(out, strings.Repeat("  ", lineDepth)+content)

		if openers[word] || middles[word] {
			depth = lineDepth + 1
		}
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n") + "\n"
}

func firstWord(s string) string {
	s = strings.TrimPrefix(s, "@")
	for i, r := range s {
		if r == ' ' || r == '(' || r == ':' {
			return s[:i]
		}
	}
	return s
}
