package environment

import (
	"fmt"

	"github.com/BurntSushi/toml"
	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
)

// Config holds engine-wide defaults loaded from a TOML file (spec.md §1's
// ambient configuration layer), the way the teacher's cmd/gmx flags
// default a handful of knobs except sourced from a file instead of argv.
// Field names are snake_case on the wire per §4.1's reserved-word rules.
type Config struct {
	Autoescape      bool   `toml:"autoescape"`
	AsyncEachLimit  int    `toml:"async_each_limit"`
	LoaderRoot      string `toml:"loader_root"`
	TrimBlocks      bool   `toml:"trim_blocks"`
	LStripBlocks    bool   `toml:"lstrip_blocks"`
	DefaultTemplate string `toml:"default_template"`
}

// DefaultConfig returns the engine's built-in defaults, used when no
// config file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Autoescape:     true,
		AsyncEachLimit: 8,
	}
}

// LoadConfig reads and parses a TOML config file at path, starting from
// DefaultConfig so an omitted key keeps its built-in default rather than
// zeroing out.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, &cerrors.CompileError{
			Pos:     cerrors.Position{File: path},
			Message: err.Error(),
			Phase:   "config",
			Kind:    cerrors.KindTemplate,
		}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, &cerrors.CompileError{
			Pos:     cerrors.Position{File: path},
			Message: fmt.Sprintf("unknown config key(s): %v", undecoded),
			Phase:   "config",
			Kind:    cerrors.KindTemplate,
		}
	}
	return cfg, nil
}
