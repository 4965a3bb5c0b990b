package plugin

import "sync/atomic"

// Handle is a shared-ownership view of a loaded plugin module. Copies of a
// Handle share the same underlying instance and refcount; Acquire/Release
// track how many goroutines currently hold interface pointers into it so
// the registry knows when it is safe to drop its last reference.
type Handle struct {
	name        string
	author      string
	description string
	version     uint32
	path        string
	instance    Instance
	refs        *int32
}

// NewHandle wraps a freshly constructed plugin instance. Exposed (rather
// than kept registry-internal) so tests in other packages can build a
// Handle around a fake Instance without loading a real module.
func NewHandle(name, author, description string, version uint32, path string, instance Instance) *Handle {
	var refs int32
	return &Handle{
		name:        name,
		author:      author,
		description: description,
		version:     version,
		path:        path,
		instance:    instance,
		refs:        &refs,
	}
}

func (h *Handle) Name() string        { return h.name }
func (h *Handle) Author() string      { return h.author }
func (h *Handle) Description() string { return h.description }
func (h *Handle) Version() uint32     { return h.version }
func (h *Handle) Path() string        { return h.path }

// Lifecycle exposes the instance's init/pause/resume/shutdown/reset hooks.
func (h *Handle) Lifecycle() Lifecycle { return h.instance }

// Acquire records that a goroutine now holds an interface pointer obtained
// from this handle. It must be paired with a later Release.
func (h *Handle) Acquire() { atomic.AddInt32(h.refs, 1) }

// Release records that a previously Acquired interface pointer has been
// dropped.
func (h *Handle) Release() { atomic.AddInt32(h.refs, -1) }

// Borrowed reports whether any Acquire is outstanding.
func (h *Handle) Borrowed() bool { return atomic.LoadInt32(h.refs) > 0 }

// QueryInterface resolves a capability by its stable interface identifier,
// mirroring the native ABI's vtable dispatch. Returns nil if the instance
// does not implement that capability.
func (h *Handle) QueryInterface(id InterfaceID) any {
	switch id {
	case IIDLifecycle:
		return h.instance
	case IIDConfigurable:
		if v, ok := h.instance.(Configurable); ok {
			return v
		}
	case IIDSource:
		if v, ok := h.instance.(Source); ok {
			return v
		}
	case IIDStage:
		if v, ok := h.instance.(Stage); ok {
			return v
		}
	case IIDSink:
		if v, ok := h.instance.(Sink); ok {
			return v
		}
	case IIDCalibration:
		if v, ok := h.instance.(Calibration); ok {
			return v
		}
	case IIDRender:
		if v, ok := h.instance.(Render); ok {
			return v
		}
	}
	return nil
}

// AsSource returns a typed Source view, or false if the plugin does not
// advertise that capability.
func (h *Handle) AsSource() (Source, bool) {
	v, ok := h.instance.(Source)
	return v, ok
}

// AsStage returns a typed Stage view.
func (h *Handle) AsStage() (Stage, bool) {
	v, ok := h.instance.(Stage)
	return v, ok
}

// AsSink returns a typed Sink view.
func (h *Handle) AsSink() (Sink, bool) {
	v, ok := h.instance.(Sink)
	return v, ok
}

// AsCalibration returns a typed Calibration view.
func (h *Handle) AsCalibration() (Calibration, bool) {
	v, ok := h.instance.(Calibration)
	return v, ok
}

// AsRender returns a typed Render view.
func (h *Handle) AsRender() (Render, bool) {
	v, ok := h.instance.(Render)
	return v, ok
}

// AsConfigurable returns a typed Configurable view.
func (h *Handle) AsConfigurable() (Configurable, bool) {
	v, ok := h.instance.(Configurable)
	return v, ok
}
