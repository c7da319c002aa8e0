package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"influx-mirror/pkg/config"
	"influx-mirror/pkg/guard"
	"influx-mirror/pkg/mirror"
	"influx-mirror/pkg/oplog"
	"influx-mirror/pkg/store"
	"influx-mirror/pkg/syncer"
	"influx-mirror/pkg/version"
)

// Exit codes. Refusing to start because another instance holds the flag is
// distinguished from a bad configuration so supervisors can tell them apart.
const (
	exitOK             = 0
	exitStartupError   = 1
	exitAlreadyRunning = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the settings file (default: search for settings.yaml)")
	force := flag.Bool("force", false, "start even if the instance flag says a mirror is already running")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		info := version.Info()
		fmt.Printf("mirror version %s, commit %s, built %s\n", info.Version, info.Commit, info.Built)
		return exitOK
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("Error loading configuration: %v", err)
		return exitStartupError
	}

	g, err := guard.Open(cfg.StatePath)
	if err != nil {
		logger.Printf("Error opening instance state: %v", err)
		return exitStartupError
	}
	defer g.Close()

	if err := g.Acquire(*force); err != nil {
		if errors.Is(err, guard.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "This program is already running on this device, or exited due to an error.")
			fmt.Fprintln(os.Stderr, "It can be forcibly started regardless of other instances with 'mirror -force'.")
			return exitAlreadyRunning
		}
		logger.Printf("Error acquiring instance flag: %v", err)
		return exitStartupError
	}

	local := store.NewInflux(cfg.Local.URL, cfg.Local.Token, cfg.Local.Org)
	defer local.Close()
	remote := store.NewInflux(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.Org)
	defer remote.Close()

	olog := oplog.New(local)

	series := make([]syncer.SeriesSpec, 0, len(cfg.Buckets))
	for _, bucket := range cfg.Buckets {
		series = append(series, syncer.SeriesSpec{Bucket: bucket, Source: remote, Dest: local})
	}

	engine := syncer.NewEngine(cfg.RecoverSince)
	m := mirror.New(remote, series, engine, olog, logger, cfg.RefreshRate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("mirroring %d buckets from %s every %s", len(cfg.Buckets), cfg.Remote.URL, cfg.RefreshRate)
	olog.Debugf(ctx, "started mirror service")

	err = m.Run(ctx)
	stop()

	// The run context is done by now; the shutdown record and the guard
	// release get a fresh one.
	olog.Debugf(context.Background(), "mirror service shutdown manually")
	if rerr := g.Release(); rerr != nil {
		logger.Printf("Error releasing instance flag: %v", rerr)
	}

	if errors.Is(err, context.Canceled) {
		logger.Printf("mirror service shutdown")
		return exitOK
	}
	logger.Printf("mirror stopped: %v", err)
	return exitStartupError
}
