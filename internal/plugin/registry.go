package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"sync"

	"github.com/reyer-project/reyer-rt/internal/errkind"
)

// moduleSymbol is the subset of plugin.Symbol's behavior the registry needs:
// a name-indexed lookup returning an opaque value the caller asserts a
// concrete function type onto. plugin.Plugin satisfies this directly, which
// lets tests substitute a fake implementation without touching a real .so.
type moduleSymbol = plugin.Symbol

type moduleOpener interface {
	Lookup(symName string) (moduleSymbol, error)
}

// OpenFunc loads a module at path and returns a symbol table. The default,
// used in production, is plugin.Open from the standard library.
type OpenFunc func(path string) (moduleOpener, error)

func defaultOpen(path string) (moduleOpener, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LoadError records a single plugin module that failed to load, keyed by
// its file path, so a bad plugin never aborts the rest of the scan.
type LoadError struct {
	Path string
	Err  error
}

// Registry enumerates, loads, and hands out typed views of dynamically
// loaded plugin modules. Get and the capability lists (Sources, Stages,
// Sinks, Tasks, Calibrations) are shared readers;
// scanning/loading is an exclusive writer.
type Registry struct {
	mu         sync.RWMutex
	plugins    map[string]*Handle
	loadErrors []LoadError
	open       OpenFunc
}

// NewRegistry creates an empty Registry using the real dynamic loader.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Handle),
		open:    defaultOpen,
	}
}

// newRegistryWithOpener is used by tests to inject a fake module loader.
func newRegistryWithOpener(open OpenFunc) *Registry {
	r := NewRegistry()
	r.open = open
	return r
}

// ScanDirectories walks each directory two levels deep: the top level is a
// directory of plugin directories, and each plugin directory is expected to
// contain exactly one `.so` module. Per-path failures are recorded in
// LoadErrors and never abort the scan.
func (r *Registry) ScanDirectories(dirs []string) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			r.recordError(dir, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, entry.Name())
			modules, err := filepath.Glob(filepath.Join(pluginDir, "*.so"))
			if err != nil {
				r.recordError(pluginDir, err)
				continue
			}
			for _, module := range modules {
				if err := r.LoadModule(module); err != nil {
					r.recordError(module, err)
				}
			}
		}
	}
}

func (r *Registry) recordError(path string, err error) {
	r.mu.Lock()
	r.loadErrors = append(r.loadErrors, LoadError{Path: path, Err: err})
	r.mu.Unlock()
}

// LoadModule loads a single `.so` at path, resolves its entry symbols, and
// registers it. Name collisions are silently ignored (first load wins) so
// startup order stays deterministic.
func (r *Registry) LoadModule(path string) error {
	if _, err := os.Stat(path); err != nil {
		return errkind.Wrap(errkind.NotFound, fmt.Sprintf("plugin module %q", path), err)
	}

	mod, err := r.open(path)
	if err != nil {
		return errkind.Wrap(errkind.ExecutableFormat, fmt.Sprintf("open %q", path), err)
	}

	create, err := lookupFunc[func() Instance](mod, "Create")
	if err != nil {
		return errkind.Wrap(errkind.ExecutableFormat, "resolve Create", err)
	}
	name, err := lookupFunc[func() string](mod, "Name")
	if err != nil {
		return errkind.Wrap(errkind.ExecutableFormat, "resolve Name", err)
	}
	author, err := lookupFunc[func() string](mod, "Author")
	if err != nil {
		return errkind.Wrap(errkind.ExecutableFormat, "resolve Author", err)
	}
	description, err := lookupFunc[func() string](mod, "Description")
	if err != nil {
		return errkind.Wrap(errkind.ExecutableFormat, "resolve Description", err)
	}
	version, err := lookupFunc[func() uint32](mod, "Version")
	if err != nil {
		return errkind.Wrap(errkind.ExecutableFormat, "resolve Version", err)
	}

	instance := create()
	if instance == nil {
		return errkind.New(errkind.ExecutableFormat, fmt.Sprintf("%q: Create returned nil", path))
	}

	handle := NewHandle(name(), author(), description(), version(), path, instance)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[handle.name]; exists {
		return nil // first wins
	}
	r.plugins[handle.name] = handle
	return nil
}

// lookupFunc resolves a symbol and asserts it to the given function type.
func lookupFunc[F any](mod moduleOpener, symName string) (F, error) {
	var zero F
	sym, err := mod.Lookup(symName)
	if err != nil {
		return zero, err
	}
	fn, ok := sym.(F)
	if !ok {
		return zero, fmt.Errorf("symbol %q has unexpected type %T", symName, sym)
	}
	return fn, nil
}

// Register inserts an already-constructed Handle directly, bypassing
// dynamic loading. Used by tests and by in-process example plugins that
// aren't built as separate .so modules. First wins on a name collision,
// matching LoadModule.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[h.name]; exists {
		return
	}
	r.plugins[h.name] = h
}

// Get returns the named plugin, or a NotFound error.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[name]
	if !ok {
		return nil, errkind.New(errkind.NotFound, fmt.Sprintf("plugin %q", name))
	}
	return h, nil
}

// UnloadModule removes a plugin from the registry. It refuses while any
// Acquire is outstanding. Note Go's runtime never truly unloads a `.so`
// opened via plugin.Open; this only drops the registry's own reference so
// the Instance becomes eligible for GC once every borrower releases it.
func (r *Registry) UnloadModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.plugins[name]
	if !ok {
		return errkind.New(errkind.NotFound, fmt.Sprintf("plugin %q", name))
	}
	if h.Borrowed() {
		return errkind.New(errkind.ResourceUnavailable, fmt.Sprintf("plugin %q still borrowed", name))
	}
	delete(r.plugins, name)
	return nil
}

// LoadErrors returns every per-path failure recorded since the registry was
// created.
func (r *Registry) LoadErrors() []LoadError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LoadError, len(r.loadErrors))
	copy(out, r.loadErrors)
	return out
}

func (r *Registry) filterNames(predicate func(*Handle) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, h := range r.plugins {
		if predicate(h) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Sources lists every plugin advertising the Source capability.
func (r *Registry) Sources() []string {
	return r.filterNames(func(h *Handle) bool { _, ok := h.AsSource(); return ok })
}

// Stages lists every plugin advertising the Stage capability.
func (r *Registry) Stages() []string {
	return r.filterNames(func(h *Handle) bool { _, ok := h.AsStage(); return ok })
}

// Sinks lists every plugin advertising the Sink capability.
func (r *Registry) Sinks() []string {
	return r.filterNames(func(h *Handle) bool { _, ok := h.AsSink(); return ok })
}

// Tasks lists every plugin advertising the Render capability.
func (r *Registry) Tasks() []string {
	return r.filterNames(func(h *Handle) bool { _, ok := h.AsRender(); return ok })
}

// Calibrations lists every plugin advertising the Calibration capability.
func (r *Registry) Calibrations() []string {
	return r.filterNames(func(h *Handle) bool { _, ok := h.AsCalibration(); return ok })
}

// EncodeVersion packs a major/minor/patch triple into the wire version
// format 0xMMmmpppp.
func EncodeVersion(major, minor, patch uint8) uint32 {
	return uint32(major)<<24 | uint32(minor)<<16 | uint32(patch)
}

// DecodeVersion unpacks a 0xMMmmpppp version into major/minor/patch.
func DecodeVersion(v uint32) (major, minor uint8, patch uint16) {
	return uint8(v >> 24), uint8(v >> 16), uint16(v)
}
