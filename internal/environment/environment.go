// Package environment is the engine's outer surface (spec.md §2, §6.3,
// §6.5): it owns template source resolution (Loader), engine-wide config,
// user-handler registration, and the render entry points
// (renderTemplateString, renderScriptString, renderTemplate) that wire a
// parsed/compiled Program into a fresh internal/runtime.Eval and project
// its handler.Result down to whatever focus the caller or template asked
// for. internal/runtime never imports this package (see Loader's
// one-way-dependency note in internal/runtime/eval.go) — only the other
// direction holds, which is why every render entry point lives here.
package environment

import (
	"context"
	"fmt"

	"github.com/btouchard/cascada/internal/builtin"
	"github.com/btouchard/cascada/internal/compile"
	"github.com/btouchard/cascada/internal/handler"
	"github.com/btouchard/cascada/internal/runtime"
)

// HandlerFactory produces one fresh CommandHandler per render, the way
// DataHandler/TextHandler are freshly constructed per handler.Scope
// (spec §4.6.3's Class/factory registration shape, generalized to any
// user handler an Environment wants live for every render it serves).
type HandlerFactory func() handler.CommandHandler

// Environment bundles everything a render needs beyond the template
// source itself: where to resolve extends/include/import targets, which
// user handlers are registered, and engine-wide defaults (spec.md §1's
// configuration layer).
type Environment struct {
	Config     *Config
	Loader     runtime.Loader
	Filters    map[string]runtime.FilterFunc
	Extensions map[string]runtime.ExtensionFunc
	handlers   map[string]HandlerFactory
	order      []string
}

// New builds an Environment seeded with the built-in filter catalogue
// (internal/builtin) and no extensions/handlers/loader. A nil cfg falls
// back to DefaultConfig.
func New(cfg *Config) *Environment {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Environment{
		Config:     cfg,
		Filters:    builtin.Filters(),
		Extensions: map[string]runtime.ExtensionFunc{},
		handlers:   map[string]HandlerFactory{},
	}
}

// SetLoader installs the Loader used by extends/include/import when a
// render doesn't supply its own (RenderOptions.Loader always wins).
func (e *Environment) SetLoader(l runtime.Loader) { e.Loader = l }

// RegisterFilter adds or replaces a filter, e.g. a caller's own
// domain-specific `| name(...)` pipe beyond the built-in catalogue.
func (e *Environment) RegisterFilter(name string, fn runtime.FilterFunc) {
	e.Filters[name] = fn
}

// RegisterExtension adds a call-extension hook (spec.md's escape hatch
// for capability the filter/handler surface doesn't cover).
func (e *Environment) RegisterExtension(name string, fn runtime.ExtensionFunc) {
	e.Extensions[name] = fn
}

// RegisterHandler adds a user command handler (spec §4.6.3's
// addCommandHandlerClass), live under name for every subsequent render.
// factory is called once per render, so state from one render never
// leaks into the next. Nested capture scopes do not call it again: they
// reach the render's instance through handler.Scope's parent fallback.
func (e *Environment) RegisterHandler(name string, factory HandlerFactory) {
	if _, exists := e.handlers[name]; !exists {
		e.order = append(e.order, name)
	}
	e.handlers[name] = factory
}

// RegisterObjectHandler registers the "Object" user-handler shape (spec
// §4.6.3): every render dispatches `{% @name.method(...) %}` against the
// same long-lived obj.
func (e *Environment) RegisterObjectHandler(name string, obj handler.MethodObject) {
	e.RegisterHandler(name, func() handler.CommandHandler { return handler.NewObjectHandler(obj) })
}

// RegisterFactoryHandler registers the "Class/factory" user-handler shape:
// f is called once per render to produce a fresh MethodObject; nested
// capture scopes share that render's instance.
func (e *Environment) RegisterFactoryHandler(name string, f handler.Factory) {
	e.RegisterHandler(name, func() handler.CommandHandler { return handler.NewFactoryHandler(f) })
}

// RegisterCallableHandler registers the "Callable" user-handler shape:
// `{% @name(args) %}` invokes fn directly with no method name.
func (e *Environment) RegisterCallableHandler(name string, fn func(args []interface{}) (interface{}, error)) {
	e.RegisterHandler(name, func() handler.CommandHandler { return handler.NewCallableHandler(fn) })
}

// RenderOptions parameterizes one render call.
type RenderOptions struct {
	// Context is the render's top-level bindings, checked against
	// ContextSchema (if set) before any frame is scheduled.
	Context map[string]interface{}
	// ContextSchema optionally validates Context up front (spec.md's
	// domain-stack extension, the schema-validated counterpart to the
	// sequence analyzer's `extern` checks).
	ContextSchema *ContextSchema
	// Focus overrides the template's own `{% option focus=NAME %}`, when
	// set. Empty means defer to whatever the template requested, if
	// anything.
	Focus string
	// Loader overrides the Environment's own Loader for this render only,
	// e.g. to scope include/import resolution to a caller-supplied set.
	Loader runtime.Loader
}

// RenderOutput is what a render entry point returns: the full,
// uniformly-shaped handler.Result, plus the Focused projection of it
// when a focus target was established (by RenderOptions.Focus or by the
// template's own `option focus=`).
type RenderOutput struct {
	Result   handler.Result
	Focused  interface{}
	HasFocus bool
}

// RenderTemplateString compiles source as template-mode syntax and
// renders it as a single anonymous template (spec.md §6.3's string
// entry point). extends/include/import inside source still resolve
// through opts.Loader or e.Loader, if either is set.
func (e *Environment) RenderTemplateString(ctx context.Context, source string, opts RenderOptions) (RenderOutput, error) {
	return e.renderSource(ctx, "<string>", source, false, opts)
}

// RenderScriptString compiles source as script-mode syntax (the
// line-oriented shorthand, spec.md §1) and renders it the same way
// RenderTemplateString does, after lowering it through script.Transpile.
func (e *Environment) RenderScriptString(ctx context.Context, source string, opts RenderOptions) (RenderOutput, error) {
	return e.renderSource(ctx, "<script>", source, true, opts)
}

// RenderTemplate resolves name through opts.Loader or e.Loader and
// renders it (spec.md §6.3's name-based entry point, what
// `cmd/cascada render` uses for on-disk templates).
func (e *Environment) RenderTemplate(ctx context.Context, name string, opts RenderOptions) (RenderOutput, error) {
	loader := opts.Loader
	if loader == nil {
		loader = e.Loader
	}
	if loader == nil {
		return RenderOutput{}, fmt.Errorf("no loader configured for RenderTemplate")
	}
	prog, err := loader.Load(name)
	if err != nil {
		return RenderOutput{}, err
	}
	return e.renderProgram(ctx, name, prog, loader, opts)
}

func (e *Environment) renderSource(ctx context.Context, name, source string, scriptMode bool, opts RenderOptions) (RenderOutput, error) {
	prog, err := compileSource(name, source, scriptMode)
	if err != nil {
		return RenderOutput{}, err
	}
	loader := opts.Loader
	if loader == nil {
		loader = e.Loader
	}
	return e.renderProgram(ctx, name, prog, loader, opts)
}

func (e *Environment) renderProgram(ctx context.Context, name string, prog *compile.Program, loader runtime.Loader, opts RenderOptions) (RenderOutput, error) {
	if opts.ContextSchema != nil {
		if err := opts.ContextSchema.Validate(opts.Context); err != nil {
			return RenderOutput{}, err
		}
	}

	frame := runtime.NewFrame(nil)
	for k, v := range opts.Context {
		frame.Declare(k, runtime.ResolvedSlot(v))
	}

	ev := runtime.NewEval(name, runtime.NewScheduler(ctx), runtime.NewLockManager())
	ev.Loader = loader
	ev.Filters = e.Filters
	ev.Extensions = e.Extensions
	ev.Autoescape = e.Config.Autoescape
	if ev.Autoescape {
		ev.Escape = builtin.HTMLEscape
	}

	// Registration order matters for RevertAll (spec §4.6.5), so walk
	// e.order rather than range the map.
	for _, n := range e.order {
		ev.Scope.Register(n, e.handlers[n]())
	}

	res, err := ev.RenderResult(prog.Root, frame)
	if err != nil {
		return RenderOutput{}, err
	}

	focus := opts.Focus
	if focus == "" {
		if f, ok := ev.Scope.FocusName(); ok {
			focus = f
		}
	}
	out := RenderOutput{Result: res}
	if focus != "" {
		out.Focused = res.Focus(focus)
		out.HasFocus = true
	}
	return out, nil
}
