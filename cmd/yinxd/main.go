// Command yinxd runs the yinx core pipeline daemon: it loads config,
// wires storage/reducer/index/retriever components, and serves
// Capture/Query/Status/Shutdown requests over a local Unix domain
// socket until it receives a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/neur0map/yinx/internal/config"
	"github.com/neur0map/yinx/internal/daemon"
	"github.com/neur0map/yinx/internal/ipc"
	"github.com/neur0map/yinx/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, overlays defaults)")
	socketPath := flag.String("socket", "./yinx.sock", "path to the Unix domain socket to serve on")
	flag.Parse()

	if err := run(*configPath, *socketPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, socketPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := levelFromString(cfg.Logging.Level)
	log := logging.New(level).WithComponent("yinxd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("construct daemon: %w", err)
	}

	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	go d.Run(pipelineCtx)

	_ = os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		cancelPipeline()
		return fmt.Errorf("prepare socket dir: %w", err)
	}

	shutdown := func() { stop() }
	server, err := ipc.Listen(socketPath, d, shutdown, log)
	if err != nil {
		cancelPipeline()
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("yinxd listening", "socket", socketPath)
	go server.Serve(ctx)

	<-ctx.Done()
	log.Info("shutting down")

	_ = server.Close()
	cancelPipeline()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := d.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func levelFromString(s string) logging.Level {
	switch s {
	case "debug":
		return logging.Debug
	case "warn":
		return logging.Warn
	case "error":
		return logging.Error
	default:
		return logging.Info
	}
}
