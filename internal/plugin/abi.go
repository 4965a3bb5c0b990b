// Package plugin implements the dynamically loaded plugin registry (the
// host side of the plugin ABI): scanning plugin directories, loading shared
// modules built with `go build -buildmode=plugin`, and handing out typed
// capability views of the loaded instances.
package plugin

import (
	"context"
	"hash/fnv"

	"github.com/reyer-project/reyer-rt/internal/core"
)

// InterfaceID is a stable 64-bit identifier for a capability interface,
// computed as the FNV-1a hash of its interface name. The hash function and
// the strings hashed below are fixed: changing either would silently break
// the binary identity of interface queries across plugin builds.
type InterfaceID uint64

func hashInterfaceName(name string) InterfaceID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return InterfaceID(h.Sum64())
}

// Well-known interface identifiers, one per capability a plugin may
// advertise.
var (
	IIDConfigurable = hashInterfaceName("IConfigurable")
	IIDLifecycle    = hashInterfaceName("ILifecycle")
	IIDSource       = hashInterfaceName("ISource<core::EyeData>")
	IIDStage        = hashInterfaceName("IStage<core::EyeData>")
	IIDSink         = hashInterfaceName("ISink<core::EyeData>")
	IIDCalibration  = hashInterfaceName("ICalibration")
	IIDRender       = hashInterfaceName("IRender")
)

// Lifecycle is implemented by any plugin instance that needs explicit
// init/pause/resume/shutdown hooks. Every Instance must implement it, even
// if every method is a no-op.
type Lifecycle interface {
	Init() error
	Pause()
	Resume()
	Shutdown()
	Reset()
}

// Configurable lets the host read a plugin's JSON config schema/defaults and
// push a new configuration string.
type Configurable interface {
	ConfigSchema() string
	DefaultConfig() string
	SetConfigStr(configJSON string) error
}

// Source produces EyeSample values. WaitForSample blocks until a sample is
// ready or ctx is cancelled, returning false in the latter case without
// populating out. Cancel unblocks any in-flight WaitForSample immediately;
// it may be called from a different goroutine than the one blocked in
// WaitForSample.
type Source interface {
	WaitForSample(ctx context.Context, out *core.EyeSample) bool
	Cancel()
}

// Stage mutates a sample in place.
type Stage interface {
	Process(data *core.EyeSample)
}

// Sink observes (but does not mutate) samples in pipeline order.
type Sink interface {
	Consume(data core.EyeSample)
}

// Calibration is the optional first pipeline transform. It receives
// calibration points collected by the active render task and applies the
// current correction to every sample that passes through.
type Calibration interface {
	PushCalibrationPoints(points []core.CalibrationPoint)
	Calibrate(data *core.EyeSample)
}

// Render is implemented by task plugins that draw to the active window.
// Render plugins typically also implement Sink[core.EyeSample] so they can
// consume samples while a calibration procedure is running.
type Render interface {
	Render()
	SetRenderContext(ctx core.RenderContext)
	IsFinished() bool
	// CalibrationPoints drains and returns any calibration points the task
	// has accumulated since the last call.
	CalibrationPoints() []core.CalibrationPoint
}

// Instance is the root object a plugin's Create function returns. The host
// never downcasts it directly; it queries capabilities through a Handle's
// As* accessors (or QueryInterface, for callers working from a raw
// InterfaceID).
type Instance interface {
	Lifecycle
}
