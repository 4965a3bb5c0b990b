package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/plugin"
)

// fakeSource emits one sample per WaitForSample call until closed, at which
// point every call (pending or future) returns false.
type fakeSource struct {
	mu     sync.Mutex
	closed bool
	seq    atomic.Uint64
	initN  atomic.Int32
	shutN  atomic.Int32
}

func (s *fakeSource) Init() error  { s.initN.Add(1); return nil }
func (s *fakeSource) Pause()       {}
func (s *fakeSource) Resume()      {}
func (s *fakeSource) Shutdown()    { s.shutN.Add(1) }
func (s *fakeSource) Reset()       {}
func (s *fakeSource) Cancel() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSource) WaitForSample(ctx context.Context, out *core.EyeSample) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	out.Timestamp = s.seq.Add(1)
	return true
}

type countingStage struct {
	n atomic.Int32
}

func (s *countingStage) Init() error  { return nil }
func (s *countingStage) Pause()       {}
func (s *countingStage) Resume()      {}
func (s *countingStage) Shutdown()    {}
func (s *countingStage) Reset()       {}
func (s *countingStage) Process(d *core.EyeSample) {
	s.n.Add(1)
	d.Left.IsValid = true
}

type panicStage struct{}

func (panicStage) Init() error  { return nil }
func (panicStage) Pause()       {}
func (panicStage) Resume()      {}
func (panicStage) Shutdown()    {}
func (panicStage) Reset()       {}
func (panicStage) Process(d *core.EyeSample) {
	panic("stage exploded")
}

type recordingSink struct {
	mu      sync.Mutex
	samples []core.EyeSample
}

func (s *recordingSink) Consume(d core.EyeSample) {
	s.mu.Lock()
	s.samples = append(s.samples, d)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// testHandle wraps a fake plugin instance in a Handle the same way the
// registry would.
func testHandle(instance plugin.Instance) *plugin.Handle {
	return plugin.NewHandle("test-plugin", "test", "test", 0, "/test", instance)
}

func sourceHandle(t *testing.T, src *fakeSource) *plugin.Handle {
	t.Helper()
	return testHandle(src)
}

func stageHandle(t *testing.T, st plugin.Stage) *plugin.Handle {
	t.Helper()
	return testHandle(struct {
		plugin.Lifecycle
		plugin.Stage
	}{noopLifecycle{}, st})
}

type noopLifecycle struct{}

func (noopLifecycle) Init() error { return nil }
func (noopLifecycle) Pause()      {}
func (noopLifecycle) Resume()     {}
func (noopLifecycle) Shutdown()   {}
func (noopLifecycle) Reset()      {}

func TestPipeline_PumpsSamplesThroughStagesAndSinks(t *testing.T) {
	src := &fakeSource{}
	stage := &countingStage{}
	sink := &recordingSink{}

	p := New(Config{})
	if err := p.Configure(sourceHandle(t, src), nil, []*plugin.Handle{stageHandle(t, stage)}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	p.AddSink("test-sink", sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 50 && sink.count() < 5; i++ {
		p.RunOnce(ctx)
	}

	if sink.count() == 0 {
		t.Fatalf("sink received no samples")
	}
	if stage.n.Load() == 0 {
		t.Fatalf("stage never ran")
	}
	if src.initN.Load() != 1 {
		t.Fatalf("source Init called %d times, want 1", src.initN.Load())
	}
}

func TestPipeline_NoSourceSleepsAndReturns(t *testing.T) {
	p := New(Config{})
	start := time.Now()
	p.RunOnce(context.Background())
	if time.Since(start) < noSourceRetryInterval {
		t.Fatalf("expected RunOnce to sleep when no source is configured")
	}
}

func TestPipeline_PanicInStageIsRecovered(t *testing.T) {
	src := &fakeSource{}
	p := New(Config{})
	if err := p.Configure(sourceHandle(t, src), nil, []*plugin.Handle{stageHandle(t, panicStage{})}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		p.RunOnce(ctx) // must not panic the test
	}
}

func TestPipeline_Configure_ShutsDownPreviousTopology(t *testing.T) {
	src1 := &fakeSource{}
	src2 := &fakeSource{}
	p := New(Config{})

	if err := p.Configure(sourceHandle(t, src1), nil, nil); err != nil {
		t.Fatalf("Configure 1: %v", err)
	}
	p.RunOnce(context.Background()) // drives lazy Init of src1

	if err := p.Configure(sourceHandle(t, src2), nil, nil); err != nil {
		t.Fatalf("Configure 2: %v", err)
	}

	if src1.shutN.Load() != 1 {
		t.Fatalf("previous source Shutdown called %d times, want 1", src1.shutN.Load())
	}
}

func TestPipeline_RemoveSink(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	p := New(Config{})
	if err := p.Configure(sourceHandle(t, src), nil, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	p.AddSink("s", sink, nil)
	p.RunOnce(context.Background())
	if sink.count() == 0 {
		t.Fatalf("expected at least one sample before removal")
	}

	p.RemoveSink("s")
	countAfterRemoval := sink.count()
	for i := 0; i < 5; i++ {
		p.RunOnce(context.Background())
	}
	if sink.count() != countAfterRemoval {
		t.Fatalf("sink kept receiving samples after removal: %d -> %d", countAfterRemoval, sink.count())
	}
}

func TestPipeline_Configure_RejectsHandleWithoutSourceCapability(t *testing.T) {
	p := New(Config{})
	notASource := testHandle(noopLifecycle{})
	if err := p.Configure(notASource, nil, nil); err == nil {
		t.Fatalf("expected an error configuring a non-source handle as the source")
	}
}
