// Package app wires together every component into the running host (C10):
// construction order, worker spawn/join, and the graphics loop pinned to
// the process's start-up OS thread.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/reyer-project/reyer-rt/internal/broadcast"
	"github.com/reyer-project/reyer-rt/internal/graphics"
	"github.com/reyer-project/reyer-rt/internal/history"
	"github.com/reyer-project/reyer-rt/internal/pipeline"
	"github.com/reyer-project/reyer-rt/internal/plugin"
	"github.com/reyer-project/reyer-rt/internal/protocol"
	"github.com/reyer-project/reyer-rt/internal/server"
	"github.com/reyer-project/reyer-rt/internal/transport"
	"github.com/reyer-project/reyer-rt/internal/worker"
)

// Config holds everything needed to stand up a host.
type Config struct {
	PluginDirs    []string
	DatasetDir    string
	HistoryDBPath string
	ReplyAddr     string
	BroadcastAddr string
	Surface       graphics.Surface
	Log           *log.Logger
}

// App owns every long-lived component and the worker loops driving them.
type App struct {
	log *log.Logger

	history   *history.Store
	registry  *plugin.Registry
	replySock *transport.ReplySocket
	pubSock   *transport.BroadcastSocket

	broadcaster *broadcast.Publisher
	pipeline    *pipeline.Pipeline
	graphics    *graphics.Graphics
	protocol    *protocol.Controller
	server      *server.Server

	loops []*worker.Loop
}

// New constructs every component in dependency order: Run History Store ->
// Registry -> Broadcast -> Pipeline -> Graphics -> Protocol -> Reply. Spawns
// none of them; call Run to start.
func New(cfg Config) (*App, error) {
	l := cfg.Log
	if l == nil {
		l = log.New(log.Writer(), "[app] ", log.LstdFlags)
	}

	hist, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("open run history store: %w", err)
	}

	registry := plugin.NewRegistry()
	registry.ScanDirectories(cfg.PluginDirs)
	for _, le := range registry.LoadErrors() {
		l.Printf("plugin load error: %s: %v", le.Path, le.Err)
	}

	pubSock, err := transport.ListenBroadcast(cfg.BroadcastAddr)
	if err != nil {
		hist.Close()
		return nil, fmt.Errorf("listen broadcast socket: %w", err)
	}
	pub := broadcast.New(broadcast.Config{Sink: pubSock, Log: l})

	pl := pipeline.New(pipeline.Config{Log: l})

	g := graphics.New(graphics.Config{Surface: cfg.Surface, Pipeline: pl, Log: l})

	replySock, err := transport.ListenReply(cfg.ReplyAddr)
	if err != nil {
		pubSock.Close()
		hist.Close()
		return nil, fmt.Errorf("listen reply socket: %w", err)
	}

	a := &App{
		log:       l,
		history:   hist,
		registry:  registry,
		replySock: replySock,
		pubSock:   pubSock,

		broadcaster: pub,
		pipeline:    pl,
		graphics:    g,
	}

	ctrl := protocol.New(protocol.Config{
		Registry:    registry,
		Pipeline:    pl,
		Graphics:    g,
		Broadcaster: pub,
		History:     hist,
		DatasetDir:  cfg.DatasetDir,
		Log:         l,
		RequestStop: a.requestStop,
	})
	a.protocol = ctrl

	a.server = server.New(server.Config{
		Socket:      replySock,
		Registry:    registry,
		Pipeline:    pl,
		Graphics:    g,
		Protocol:    ctrl,
		History:     hist,
		Broadcaster: pub,
		Log:         l,
	})

	return a, nil
}

// Registry exposes the loaded plugin registry, mainly for diagnostics.
func (a *App) Registry() *plugin.Registry { return a.registry }

// requestStop is handed to the Protocol Controller as its Command::EXIT
// callback; it tells the graphics loop to fall through to shutdown.
func (a *App) requestStop() {
	a.graphics.RequestStop()
}

// Run spawns every worker except Graphics, runs Graphics' loop on the
// calling goroutine (which MUST already be locked to the process's start-up
// OS thread via runtime.LockOSThread), and on its return stops every worker
// in reverse order before closing the run history store.
func (a *App) Run(ctx context.Context) error {
	if err := a.graphics.Init(ctx); err != nil {
		return fmt.Errorf("graphics init: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.spawn(runCtx, a.broadcaster)
	a.spawn(runCtx, a.pipeline)
	a.spawn(runCtx, a.protocol)
	a.spawn(runCtx, a.server)

	a.graphics.Run(runCtx)

	a.stopAll()
	a.replySock.Close()
	a.pubSock.Close()
	return a.history.Close()
}

func (a *App) spawn(ctx context.Context, r worker.Runner) {
	a.loops = append(a.loops, worker.Spawn(ctx, r))
}

// stopAll stops every spawned worker in reverse of its spawn order, joining
// each before moving to the next.
func (a *App) stopAll() {
	for i := len(a.loops) - 1; i >= 0; i-- {
		a.loops[i].Stop()
	}
}
