// Package config holds gofetchd's process configuration: the root feed
// to solve for, network-use mode, worker/timeout tuning, and proxy
// settings, parsed from CLI flags via github.com/projectdiscovery/goflags.
package config

import (
	"fmt"
	"time"

	"github.com/projectdiscovery/goflags"

	"github.com/slicingmelon/gofetchd/download"
)

// Config is the fully parsed process configuration.
type Config struct {
	Root       string
	Command    string
	Arch       string
	Source     bool
	NetworkUse string

	Workers int
	Proxy   string
	Timeout time.Duration

	ForceRefresh bool
	UpdateLocal  bool
	SelectOnly   bool

	Debug   bool
	Verbose bool
}

// Parse builds a Config from os.Args.
func Parse() (*Config, error) {
	cfg := &Config{}
	var timeoutSeconds int

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription("gofetchd drives a solve-and-fetch cycle against a root feed URL.")

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&cfg.Root, "root", "u", "", "root feed URL to solve for"),
		flagSet.StringVarP(&cfg.Command, "command", "c", "run", "command name the solver selects for"),
		flagSet.StringVarP(&cfg.Arch, "arch", "a", "", "target architecture (empty: host architecture)"),
		flagSet.StringVarP(&cfg.NetworkUse, "network-use", "n", "full", "network use mode (offline, minimal, full)"),
	)

	flagSet.CreateGroup("engine", "Engine",
		flagSet.IntVarP(&cfg.Workers, "workers", "w", download.DefaultPoolSize, "maximum concurrent download workers"),
		flagSet.StringVarP(&cfg.Proxy, "proxy", "x", "", "HTTP proxy URL"),
		flagSet.IntVarP(&timeoutSeconds, "timeout", "timeout", 10, "per-dial timeout in seconds"),
	)

	flagSet.CreateGroup("solve", "Solve",
		flagSet.BoolVarP(&cfg.Source, "source", "s", false, "require source implementations"),
		flagSet.BoolVarP(&cfg.ForceRefresh, "force-refresh", "force", false, "refresh every feed, ignoring cache freshness"),
		flagSet.BoolVarP(&cfg.UpdateLocal, "update-local", "update-local", false, "refresh local package-manager feeds in the background"),
		flagSet.BoolVarP(&cfg.SelectOnly, "select-only", "select-only", false, "solve and select without downloading implementations"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.BoolVarP(&cfg.Debug, "debug", "d", false, "enable debug logging"),
		flagSet.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable verbose logging"),
	)

	if err := flagSet.Parse(); err != nil {
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}
	cfg.Timeout = time.Duration(timeoutSeconds) * time.Second

	if cfg.Root == "" {
		return nil, fmt.Errorf("config: -root is required")
	}
	switch cfg.NetworkUse {
	case "offline", "minimal", "full":
	default:
		return nil, fmt.Errorf("config: invalid -network-use %q", cfg.NetworkUse)
	}

	return cfg, nil
}
