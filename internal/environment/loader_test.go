package environment

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryLoaderLoadsAndCaches(t *testing.T) {
	m := NewMemoryLoader(nil)
	m.Register("greet.njk", "hello {{ name }}", false)

	prog, err := m.Load("greet.njk")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if prog.TemplateName != "greet.njk" {
		t.Fatalf("TemplateName = %q", prog.TemplateName)
	}

	prog2, err := m.Load("greet.njk")
	if err != nil {
		t.Fatalf("load (cached): %v", err)
	}
	if prog != prog2 {
		t.Fatalf("expected cached program to be returned on second load")
	}
}

func TestMemoryLoaderUnregisteredNameErrors(t *testing.T) {
	m := NewMemoryLoader(nil)
	if _, err := m.Load("missing.njk"); err == nil {
		t.Fatalf("expected error for unregistered template")
	}
}

func TestMemoryLoaderRegisterInvalidatesCache(t *testing.T) {
	m := NewMemoryLoader(nil)
	m.Register("t.njk", "a", false)
	if _, err := m.Load("t.njk"); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.Register("t.njk", "b", false)
	prog, err := m.Load("t.njk")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if prog == nil {
		t.Fatalf("expected recompiled program")
	}
}

func TestFileLoaderLoadsFromDiskWithDefaultExtension(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page.njk"), []byte("hi {{ x }}"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	f := NewFileLoader(dir)
	prog, err := f.Load("page")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if prog.TemplateName != "page" {
		t.Fatalf("TemplateName = %q", prog.TemplateName)
	}
}

func TestFileLoaderMissingFileErrors(t *testing.T) {
	f := NewFileLoader(t.TempDir())
	if _, err := f.Load("nope"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestChainLoaderTriesEachInOrder(t *testing.T) {
	a := NewMemoryLoader(nil)
	b := NewMemoryLoader(nil)
	b.Register("only-in-b.njk", "from b", false)

	c := NewChainLoader(a, b)
	prog, err := c.Load("only-in-b.njk")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if prog.TemplateName != "only-in-b.njk" {
		t.Fatalf("TemplateName = %q", prog.TemplateName)
	}
}

func TestChainLoaderAllFailErrors(t *testing.T) {
	c := NewChainLoader(NewMemoryLoader(nil), NewMemoryLoader(nil))
	if _, err := c.Load("nowhere.njk"); err == nil {
		t.Fatalf("expected error when no loader has the template")
	}
}
