// Package writer implements the data writer sink (C5): a pipeline sink
// backed by a bounded queue and a background worker, so disk writes happen
// off the pipeline's pump goroutine. Consume blocks only while 4096 samples
// are already queued.
package writer

import (
	"context"
	"log"

	"github.com/reyer-project/reyer-rt/internal/core"
	"github.com/reyer-project/reyer-rt/internal/dataset"
	"github.com/reyer-project/reyer-rt/internal/queue"
	"github.com/reyer-project/reyer-rt/internal/worker"
)

const queueCapacity = 4096

// Sink is a plugin.Sink that appends every sample it receives to one task
// of an open dataset.Run. Consume never touches disk directly: it only
// pushes onto an internal queue the background worker drains.
type Sink struct {
	log       *log.Logger
	run       *dataset.Run
	taskIndex int
	queue     *queue.Queue[core.EyeSample]
	loop      *worker.Loop
}

// New constructs a Sink bound to taskIndex inside run. The caller is
// responsible for having already called run.OpenTask(taskIndex).
func New(run *dataset.Run, taskIndex int, l *log.Logger) *Sink {
	if l == nil {
		l = log.New(log.Writer(), "[writer] ", log.LstdFlags)
	}
	return &Sink{
		log:       l,
		run:       run,
		taskIndex: taskIndex,
		queue:     queue.New[core.EyeSample](queueCapacity),
	}
}

// Start spawns the background drain worker.
func (s *Sink) Start(ctx context.Context) {
	s.loop = worker.Spawn(ctx, s)
}

// Consume implements plugin.Sink. Called from the pipeline goroutine; must
// never block on disk I/O.
func (s *Sink) Consume(sample core.EyeSample) {
	s.queue.Push(sample)
}

// Init satisfies worker.Runner.
func (s *Sink) Init(ctx context.Context) error { return nil }

// RunOnce satisfies worker.Runner: drains and writes one queued sample.
func (s *Sink) RunOnce(ctx context.Context) {
	sample, ok := s.queue.WaitAndPop(ctx)
	if !ok {
		return
	}
	if err := s.run.WriteSample(s.taskIndex, sample); err != nil {
		s.log.Printf("task %d: write sample: %v", s.taskIndex, err)
	}
}

// Shutdown satisfies worker.Runner: drains whatever is left in the queue
// before returning, so no buffered sample is lost on task end.
func (s *Sink) Shutdown(ctx context.Context) {
	for {
		sample, ok := s.queue.TryPop()
		if !ok {
			return
		}
		if err := s.run.WriteSample(s.taskIndex, sample); err != nil {
			s.log.Printf("task %d: flush sample: %v", s.taskIndex, err)
		}
	}
}

// Stop requests the background worker to stop and blocks until it has
// flushed and exited.
func (s *Sink) Stop() {
	if s.loop != nil {
		s.loop.Stop()
	}
}
