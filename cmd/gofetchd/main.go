package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/slicingmelon/gofetchd/download"
	"github.com/slicingmelon/gofetchd/driver"
	"github.com/slicingmelon/gofetchd/fetch"
	GB403Logger "github.com/slicingmelon/gofetchd/internal/gflog"
	"github.com/slicingmelon/gofetchd/internal/config"
	"github.com/slicingmelon/gofetchd/netpolicy"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		GB403Logger.Error().Msgf("%v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		GB403Logger.EnableDebug()
	}
	if cfg.Verbose {
		GB403Logger.EnableVerbose()
	}

	engine, err := download.NewEngine(cfg.Proxy, cfg.Timeout, cfg.Workers)
	if err != nil {
		GB403Logger.Error().Msgf("building download engine: %v", err)
		os.Exit(1)
	}
	defer engine.Shutdown()

	gate, err := netpolicy.New(netpolicy.Parse(cfg.NetworkUse))
	if err != nil {
		GB403Logger.Error().Msgf("building network policy: %v", err)
		os.Exit(1)
	}

	fetcher := fetch.New(engine)
	d := driver.New(
		driver.Requirements{
			Root:    cfg.Root,
			Command: cfg.Command,
			Arch:    cfg.Arch,
			Source:  cfg.Source,
		},
		newStubSolver(cfg.Root),
		newStubIfaceCache(),
		newStubStores(),
		fetcher,
		newLoggingHandler(),
		gate,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	GB403Logger.Info().Msgf("solving %s for command %q, arch %q", cfg.Root, cfg.Command, cfg.Arch)

	if cfg.UpdateLocal {
		if err := d.SolveWithDownloads(ctx, false, true); err != nil {
			GB403Logger.Error().Msgf("refreshing local feeds failed: %v", err)
			os.Exit(1)
		}
	}

	if err := d.SolveAndDownloadImpls(ctx, cfg.ForceRefresh, cfg.SelectOnly); err != nil {
		GB403Logger.Error().Msgf("solve_and_download_impls failed: %v", err)
		os.Exit(1)
	}

	uncached := d.GetUncachedImplementations()
	GB403Logger.Success().Msgf("done: %d implementations still uncached", len(uncached))
}
