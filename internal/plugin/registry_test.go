package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/errkind"
)

// touch creates an empty placeholder file so LoadModule's existence check
// succeeds; the fake opener never reads its contents.
func touch(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// fakeModule is an in-memory stand-in for a loaded .so, letting tests drive
// Registry.LoadModule without ever invoking plugin.Open.
type fakeModule struct {
	symbols map[string]any
}

func (f *fakeModule) Lookup(name string) (moduleSymbol, error) {
	sym, ok := f.symbols[name]
	if !ok {
		return nil, errors.New("symbol not found: " + name)
	}
	return sym, nil
}

// fakeInstance implements Lifecycle plus whichever capabilities a test
// wants; embedding lets each test case opt into only the interfaces it needs.
type fakeInstance struct {
	asSource
	asSink
}

func (fakeInstance) Init() error { return nil }
func (fakeInstance) Pause()      {}
func (fakeInstance) Resume()     {}
func (fakeInstance) Shutdown()   {}
func (fakeInstance) Reset()      {}

type asSource struct{ enabled bool }

func (s asSource) WaitForSample(ctx context.Context, out *core.EyeSample) bool {
	return s.enabled
}
func (s asSource) Cancel() {}

type asSink struct{ enabled bool }

func (s asSink) Consume(data core.EyeSample) {}

func fullModule(name string, withSource bool) *fakeModule {
	return &fakeModule{symbols: map[string]any{
		"Create": func() Instance {
			return fakeInstance{asSource: asSource{enabled: withSource}}
		},
		"Name":        func() string { return name },
		"Author":      func() string { return "test-author" },
		"Description": func() string { return "a test plugin" },
		"Version":     func() uint32 { return EncodeVersion(1, 0, 0) },
	}}
}

func newTestRegistry(modules map[string]*fakeModule) *Registry {
	return newRegistryWithOpener(func(path string) (moduleOpener, error) {
		mod, ok := modules[path]
		if !ok {
			return nil, errors.New("no such module: " + path)
		}
		return mod, nil
	})
}

func TestRegistry_LoadModule(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, filepath.Join(dir, "source-a", "source-a.so"))
	r := newTestRegistry(map[string]*fakeModule{
		path: fullModule("source-a", true),
	})

	if err := r.LoadModule(path); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	h, err := r.Get("source-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.Author() != "test-author" {
		t.Fatalf("Author() = %q", h.Author())
	}
	if _, ok := h.AsSource(); !ok {
		t.Fatalf("expected source-a to expose the Source capability")
	}
}

func TestRegistry_LoadModule_MissingSymbol(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, filepath.Join(dir, "broken", "broken.so"))
	r := newTestRegistry(map[string]*fakeModule{
		path: {symbols: map[string]any{
			"Create": func() Instance { return fakeInstance{} },
		}},
	})

	err := r.LoadModule(path)
	if err == nil {
		t.Fatalf("expected an error from a module missing required symbols")
	}
	if errkind.Of(err) != errkind.ExecutableFormat {
		t.Fatalf("kind = %v, want ExecutableFormat", errkind.Of(err))
	}
}

func TestRegistry_LoadModule_PathNotFound(t *testing.T) {
	r := newTestRegistry(nil)

	err := r.LoadModule("/plugins/does-not-exist/missing.so")
	if errkind.Of(err) != errkind.NotFound {
		t.Fatalf("kind = %v, want NotFound", errkind.Of(err))
	}
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.Get("nope")
	if errkind.Of(err) != errkind.NotFound {
		t.Fatalf("kind = %v, want NotFound", errkind.Of(err))
	}
}

func TestRegistry_Sources_FiltersByCapability(t *testing.T) {
	dir := t.TempDir()
	pathA := touch(t, filepath.Join(dir, "a", "a.so"))
	pathB := touch(t, filepath.Join(dir, "b", "b.so"))
	pathC := touch(t, filepath.Join(dir, "c", "c.so"))

	r := newTestRegistry(map[string]*fakeModule{
		pathA: fullModule("source-a", true),
		pathB: fullModule("not-a-source", false),
	})
	// not-a-source has a WaitForSample method through asSource regardless of
	// enabled, since Go interfaces are structural. r2 holds one more module,
	// "bare", whose Create returns a plain fakeInstance.
	r2 := newTestRegistry(map[string]*fakeModule{
		pathC: {symbols: map[string]any{
			"Create":      func() Instance { return fakeInstance{} },
			"Name":        func() string { return "bare" },
			"Author":      func() string { return "x" },
			"Description": func() string { return "x" },
			"Version":     func() uint32 { return 0 },
		}},
	})

	if err := r.LoadModule(pathA); err != nil {
		t.Fatalf("LoadModule a: %v", err)
	}
	if err := r.LoadModule(pathB); err != nil {
		t.Fatalf("LoadModule b: %v", err)
	}
	if err := r2.LoadModule(pathC); err != nil {
		t.Fatalf("LoadModule c: %v", err)
	}

	sources := r.Sources()
	if len(sources) != 2 {
		t.Fatalf("Sources() = %v, want both a and b (asSource is embedded unconditionally)", sources)
	}

	// Every fakeInstance embeds both asSource and asSink, so bare is also
	// listed by the Sinks accessor.
	if len(r2.Sinks()) != 1 {
		t.Fatalf("Sinks() = %v, want [bare]", r2.Sinks())
	}
}

func TestRegistry_LoadModule_NameCollisionFirstWins(t *testing.T) {
	dir := t.TempDir()
	pathA := touch(t, filepath.Join(dir, "a", "dup.so"))
	pathB := touch(t, filepath.Join(dir, "b", "dup.so"))

	modA := fullModule("dup", true)
	modB := &fakeModule{symbols: map[string]any{
		"Create":      func() Instance { return fakeInstance{} },
		"Name":        func() string { return "dup" },
		"Author":      func() string { return "second" },
		"Description": func() string { return "second" },
		"Version":     func() uint32 { return 0 },
	}}
	r := newTestRegistry(map[string]*fakeModule{
		pathA: modA,
		pathB: modB,
	})

	if err := r.LoadModule(pathA); err != nil {
		t.Fatalf("LoadModule a: %v", err)
	}
	if err := r.LoadModule(pathB); err != nil {
		t.Fatalf("LoadModule b: %v", err)
	}

	h, err := r.Get("dup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if h.Author() != "test-author" {
		t.Fatalf("collision should keep the first load, got author %q", h.Author())
	}
}

func TestRegistry_UnloadModule_RefusesWhenBorrowed(t *testing.T) {
	dir := t.TempDir()
	path := touch(t, filepath.Join(dir, "a", "a.so"))
	r := newTestRegistry(map[string]*fakeModule{
		path: fullModule("source-a", true),
	})
	if err := r.LoadModule(path); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	h, err := r.Get("source-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	h.Acquire()

	if err := r.UnloadModule("source-a"); errkind.Of(err) != errkind.ResourceUnavailable {
		t.Fatalf("kind = %v, want ResourceUnavailable while borrowed", errkind.Of(err))
	}

	h.Release()
	if err := r.UnloadModule("source-a"); err != nil {
		t.Fatalf("UnloadModule after release: %v", err)
	}
	if _, err := r.Get("source-a"); errkind.Of(err) != errkind.NotFound {
		t.Fatalf("expected source-a to be gone after unload")
	}
}

func TestRegistry_ScanDirectories(t *testing.T) {
	dir := t.TempDir()
	pathGood := touch(t, filepath.Join(dir, "source-a", "source-a.so"))
	pathBad := touch(t, filepath.Join(dir, "broken", "broken.so"))
	// a non-directory entry at the top level must be skipped, not errored on.
	touch(t, filepath.Join(dir, "stray-file.txt"))

	r := newTestRegistry(map[string]*fakeModule{
		pathGood: fullModule("source-a", true),
		pathBad:  {symbols: map[string]any{"Create": func() Instance { return fakeInstance{} }}},
	})

	r.ScanDirectories([]string{dir})

	if _, err := r.Get("source-a"); err != nil {
		t.Fatalf("expected source-a to be loaded: %v", err)
	}
	errs := r.LoadErrors()
	if len(errs) != 1 {
		t.Fatalf("LoadErrors() = %v, want exactly one entry for broken.so", errs)
	}
	if errs[0].Path != pathBad {
		t.Fatalf("LoadErrors()[0].Path = %q, want %q", errs[0].Path, pathBad)
	}
}

func TestRegistry_ScanDirectories_MissingTopLevelDir(t *testing.T) {
	r := newTestRegistry(nil)
	r.ScanDirectories([]string{"/does/not/exist"})

	errs := r.LoadErrors()
	if len(errs) != 1 {
		t.Fatalf("LoadErrors() = %v, want one entry for the missing directory", errs)
	}
}

func TestEncodeDecodeVersion(t *testing.T) {
	v := EncodeVersion(2, 5, 9)
	major, minor, patch := DecodeVersion(v)
	if major != 2 || minor != 5 || patch != 9 {
		t.Fatalf("roundtrip = %d.%d.%d, want 2.5.9", major, minor, patch)
	}
}
