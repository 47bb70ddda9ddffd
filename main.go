package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/replistream/replistream/internal/app"
	"github.com/replistream/replistream/internal/config"
	"github.com/replistream/replistream/internal/primary"
	"github.com/replistream/replistream/internal/txlog"
)

var cli struct {
	Config  string `help:"Path to a key=value config file." type:"path"`
	Address string `help:"Listen address, overrides the config file."`
	Port    int    `help:"Listen port, overrides the config file."`
	DataDir string `help:"Directory for the transaction journal." type:"path"`
	Blobs   bool   `help:"Serve blob-backed changes (requires zrs2.1 replicas)."`
	Debug   bool   `help:"Enable debug logging."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("replistream"),
		kong.Description("Primary side of the transaction-log replication protocol."))

	application, err := initialize()
	kctx.FatalIfErrorf(err)

	if err = application.Run(context.Background()); err != nil {
		kctx.FatalIfErrorf(err)
	}
}

func initialize() (*app.App, error) {
	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cli.Address != "" {
		cfg.ListenAddress = cli.Address
	}
	if cli.Port != 0 {
		cfg.ListenPort = cli.Port
	}
	if cli.DataDir != "" {
		cfg.DataDir = cli.DataDir
	}
	if cli.Blobs {
		cfg.Blobs = true
	}
	if cli.Debug {
		cfg.Debug = true
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dataDir := cfg.DataDir
	if !filepath.IsAbs(dataDir) {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dataDir = filepath.Join(homeDir, dataDir)
	}

	// The journal keeps the log durable across restarts; the store replays
	// it on Start.
	journal, err := txlog.NewJournal(&txlog.JournalConfig{
		Path: dataDir,
	})
	if err != nil {
		return nil, err
	}

	store, err := txlog.New(&txlog.Config{
		Blobs:   cfg.Blobs,
		Journal: journal,
	})
	if err != nil {
		return nil, err
	}

	srv, err := primary.New(&primary.Config{
		Address:         cfg.ListenAddress,
		Port:            cfg.ListenPort,
		Source:          store,
		KeepalivePeriod: cfg.Keepalive,
	})
	if err != nil {
		return nil, err
	}

	return app.New(&app.Config{
		ServiceName: "replistream primary",
		StopTimeout: 5 * time.Second,
	}, store, srv)
}
