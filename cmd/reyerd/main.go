package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/reyer-project/reyer-rt/internal/app"
)

func main() {
	runtime.LockOSThread()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("find home directory: %v", err)
	}
	dataDir := filepath.Join(homeDir, ".reyer-rt")

	pluginDir := flag.String("plugins", filepath.Join(dataDir, "plugins"), "directory to scan for runtime plugins")
	datasetDir := flag.String("datasets", filepath.Join(dataDir, "datasets"), "directory runs write their parquet datasets into")
	historyPath := flag.String("history-db", filepath.Join(dataDir, "runs.db"), "sqlite database recording run history")
	replyAddr := flag.String("reply-addr", "ipc:///tmp/reyer-rep.sock", "ipc address the reply server listens on")
	broadcastAddr := flag.String("broadcast-addr", "ipc:///tmp/reyer-pub.sock", "ipc address the broadcast publisher listens on")
	monitorWidth := flag.Int("monitor-width", 1920, "pixel width reported for the headless virtual monitor")
	monitorHeight := flag.Int("monitor-height", 1080, "pixel height reported for the headless virtual monitor")
	flag.Parse()

	if err := os.MkdirAll(*pluginDir, 0755); err != nil {
		log.Fatalf("create plugin directory: %v", err)
	}
	if err := os.MkdirAll(*datasetDir, 0755); err != nil {
		log.Fatalf("create dataset directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*historyPath), 0755); err != nil {
		log.Fatalf("create history directory: %v", err)
	}

	surface := app.NewHeadlessSurface(*monitorWidth, *monitorHeight)

	logger := log.New(os.Stderr, "[reyerd] ", log.LstdFlags)

	a, err := app.New(app.Config{
		PluginDirs:    []string{*pluginDir},
		DatasetDir:    *datasetDir,
		HistoryDBPath: *historyPath,
		ReplyAddr:     *replyAddr,
		BroadcastAddr: *broadcastAddr,
		Surface:       surface,
		Log:           logger,
	})
	if err != nil {
		log.Fatalf("construct host: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Print("shutdown signal received")
		surface.RequestClose()
		cancel()
	}()

	fmt.Printf("reyer-rt host listening: reply=%s broadcast=%s\n", *replyAddr, *broadcastAddr)
	if err := a.Run(ctx); err != nil {
		log.Fatalf("host exited with error: %v", err)
	}
}
