package environment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btouchard/cascada/internal/compile"
	"github.com/btouchard/cascada/internal/compiler/parser"
	"github.com/btouchard/cascada/internal/compiler/script"
	"github.com/btouchard/cascada/internal/runtime"
)

// compileSource parses and compiles one named template's source, routing
// script-mode sources (".gmxt") through the transpiler first (spec.md §1's
// two surface syntaxes share one compiled representation once lowered).
func compileSource(name, source string, scriptMode bool) (*compile.Program, error) {
	if scriptMode {
		res := script.Transpile(name, source)
		if res.Errors.HasErrors() {
			return nil, fmt.Errorf("%s", res.Errors.String())
		}
		source = res.Template
	}
	root, perrs := parser.Parse(name, source)
	if perrs.HasErrors() {
		return nil, fmt.Errorf("%s", perrs.String())
	}
	prog, cerrs := compile.Compile(name, root)
	if cerrs.HasErrors() {
		return nil, fmt.Errorf("%s", cerrs.String())
	}
	return prog, nil
}

// MemoryLoader resolves template names against an in-memory source map,
// compiling each entry once on first Load and caching the result. Tests
// wire it up for extends/include/import fixtures without touching a
// filesystem; the render-string entry points compile their source
// directly and do not go through it.
type MemoryLoader struct {
	mu       sync.Mutex
	sources  map[string]string
	script   map[string]bool
	compiled map[string]*compile.Program
}

// NewMemoryLoader builds a loader over sources, a map of template name to
// template-syntax source. Use Register to add script-mode (".gmxt") entries.
func NewMemoryLoader(sources map[string]string) *MemoryLoader {
	m := &MemoryLoader{
		sources:  map[string]string{},
		script:   map[string]bool{},
		compiled: map[string]*compile.Program{},
	}
	for name, src := range sources {
		m.sources[name] = src
	}
	return m
}

// Register adds or replaces one named source. scriptMode routes it through
// the script transpiler before parsing (spec.md §1's script-mode surface).
func (m *MemoryLoader) Register(name, source string, scriptMode bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
	m.script[name] = scriptMode
	delete(m.compiled, name)
}

func (m *MemoryLoader) Load(name string) (*compile.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prog, ok := m.compiled[name]; ok {
		return prog, nil
	}
	src, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("template %q is not registered", name)
	}
	prog, err := compileSource(name, src, m.script[name])
	if err != nil {
		return nil, err
	}
	m.compiled[name] = prog
	return prog, nil
}

// FileLoader resolves template names against files under Root, trying
// each of Extensions in order (".njk" for template-mode, ".gmxt" for
// script-mode) until one exists. Compiled programs are cached by the
// requested template name; callers that edit files on disk between renders
// should build a fresh FileLoader rather than expect hot-reload.
type FileLoader struct {
	Root       string
	Extensions []string

	mu       sync.Mutex
	compiled map[string]*compile.Program
}

// NewFileLoader builds a loader rooted at root, searching the given
// extensions in order. A nil/empty extensions list defaults to
// [".njk", ".gmxt"].
func NewFileLoader(root string, extensions ...string) *FileLoader {
	if len(extensions) == 0 {
		extensions = []string{".njk", ".gmxt"}
	}
	return &FileLoader{Root: root, Extensions: extensions, compiled: map[string]*compile.Program{}}
}

func (f *FileLoader) Load(name string) (*compile.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prog, ok := f.compiled[name]; ok {
		return prog, nil
	}
	var lastErr error
	for _, ext := range f.Extensions {
		path := filepath.Join(f.Root, name)
		if filepath.Ext(name) == "" {
			path += ext
		}
		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}
		prog, cerr := compileSource(name, string(data), filepath.Ext(path) == ".gmxt")
		if cerr != nil {
			return nil, cerr
		}
		f.compiled[name] = prog
		return prog, nil
	}
	return nil, fmt.Errorf("template %q: %w", name, lastErr)
}

// ChainLoader tries each Loader in order, returning the first successful
// Load and the last error if none resolve the name (spec.md §6.4's
// search-path loader composition).
type ChainLoader struct {
	Loaders []runtime.Loader
}

func NewChainLoader(loaders ...runtime.Loader) *ChainLoader {
	return &ChainLoader{Loaders: loaders}
}

func (c *ChainLoader) Load(name string) (*compile.Program, error) {
	var lastErr error
	for _, l := range c.Loaders {
		prog, err := l.Load(name)
		if err == nil {
			return prog, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no loaders configured")
	}
	return nil, fmt.Errorf("template %q not found: %w", name, lastErr)
}
