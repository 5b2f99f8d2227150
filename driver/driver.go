// Package driver implements the iterative solve/fetch loop: it
// interleaves solver invocations with parallel feed fetches, computes
// uncached implementations, and schedules their downloads.
package driver

import (
	"context"
	"strings"

	"github.com/slicingmelon/gofetchd/blocker"
	"github.com/slicingmelon/gofetchd/download"
	"github.com/slicingmelon/gofetchd/fetch"
	"github.com/slicingmelon/gofetchd/internal/gferr"
	"github.com/slicingmelon/gofetchd/internal/gflog"
	"github.com/slicingmelon/gofetchd/netpolicy"
)

const distributionScheme = "distribution:"

// offlineWarnKey is the single Tracker key every blocked fetch is recorded
// under, so the warned state is shared by the whole Driver.
const offlineWarnKey = "network-policy"

// Requirements identifies what the Driver is solving for: the root
// interface URI, the command to run, the target architecture, and
// whether only source implementations are acceptable.
type Requirements struct {
	Root    string
	Command string
	Arch    string
	Source  bool
}

// HostArch returns Arch, suffixed with "-src" when Source is set, the
// convention source-only solves use to select build-from-source
// implementations instead of binaries.
func (r Requirements) HostArch() string {
	if r.Source {
		return r.Arch + "-src"
	}
	return r.Arch
}

// Solver is the external collaborator the Driver drives: given
// requirements it attempts a solution and reports readiness, the set of
// feed URLs it consulted, and the chosen implementations.
type Solver interface {
	Solve(ctx context.Context, root, hostArch, command string) error
	Ready() bool
	FeedsUsed() []string
	Selections() []fetch.Implementation
	// Reason explains why Ready is false, for SolverNotReady errors.
	Reason() string
}

// ErrorReporter receives recoverable per-feed errors so solving can
// continue with partial information, and is notified after every solver
// invocation so a caller can report loop progress.
type ErrorReporter interface {
	ReportError(url string, err error)
	ReportProgress(root string, feedsInProgress int)
}

// FeedKind classifies a feed URL by the scheme-specific handling the
// driver loop gives it.
type FeedKind int

const (
	FeedLocal FeedKind = iota
	FeedDistribution
	FeedNetwork
)

// ClassifyFeed reports which FeedKind a feed URL belongs to.
func ClassifyFeed(url string) FeedKind {
	switch {
	case strings.HasPrefix(url, distributionScheme):
		return FeedDistribution
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return FeedNetwork
	default:
		return FeedLocal
	}
}

// Driver holds the requirements being solved for, the solver and its
// collaborators, the fetcher, the error handler, the network policy, and
// the failure tracker behind the offline single-warn policy.
type Driver struct {
	Requirements Requirements

	solver  Solver
	iface   fetch.IfaceCache
	stores  fetch.Stores
	fetcher *fetch.Fetcher
	handler ErrorReporter
	gate    *netpolicy.Gate
	errs    *gferr.Tracker
}

// New builds a Driver over its collaborators.
func New(req Requirements, solver Solver, iface fetch.IfaceCache, stores fetch.Stores, fetcher *fetch.Fetcher, handler ErrorReporter, gate *netpolicy.Gate) *Driver {
	return &Driver{
		Requirements: req,
		solver:       solver,
		iface:        iface,
		stores:       stores,
		fetcher:      fetcher,
		handler:      handler,
		gate:         gate,
		errs:         gferr.New(),
	}
}

// SolveWithDownloads runs the fixed-point loop: solve, report progress,
// and for every feed the solver consulted that isn't yet finished or in
// progress, decide whether to fetch it based on its scheme and the
// current force/updateLocal state, then await any in-progress fetch and
// loop until the solver is ready (quick mode) or no further fetch is
// possible.
func (d *Driver) SolveWithDownloads(ctx context.Context, force, updateLocal bool) error {
	finished := make(map[string]bool)
	inProgress := make(map[string]*blocker.Blocker)
	hostArch := d.Requirements.HostArch()

	tryQuick := !force && !updateLocal

	for {
		if err := d.solver.Solve(ctx, d.Requirements.Root, hostArch, d.Requirements.Command); err != nil {
			return err
		}
		d.handler.ReportProgress(d.Requirements.Root, len(inProgress))

		if tryQuick && d.solver.Ready() {
			return nil
		}
		tryQuick = false
		if !d.solver.Ready() {
			force = true
		}

		for _, f := range d.solver.FeedsUsed() {
			if finished[f] || inProgress[f] != nil {
				continue
			}

			switch ClassifyFeed(f) {
			case FeedLocal:
				if force {
					inProgress[f] = blocker.Idle()
				}
			case FeedDistribution:
				if force || updateLocal {
					inProgress[f] = d.fetcher.DownloadAndImportFeed(f, d.iface)
				}
			case FeedNetwork:
				if force {
					if !d.allowFetch(f) {
						continue
					}
					inProgress[f] = d.fetcher.DownloadAndImportFeed(f, d.iface)
					// Having committed to the network, force stays true
					// for the remainder of the loop.
				}
			}
		}

		if len(inProgress) == 0 {
			return nil
		}

		pending := make([]*blocker.Blocker, 0, len(inProgress))
		urls := make([]string, 0, len(inProgress))
		for url, b := range inProgress {
			pending = append(pending, b)
			urls = append(urls, url)
		}

		if _, err := blocker.AwaitAny(ctx, pending...); err != nil {
			return err
		}
		blocker.CheckAll(pending, func(b *blocker.Blocker, err error) {
			d.handler.ReportError(b.Label(), err)
		})

		for i, url := range urls {
			b := pending[i]
			if !b.Happened() {
				continue
			}
			delete(inProgress, url)
			finished[url] = true
			if b.Check() == nil {
				d.errs.Forget(hostOf(url))
			}

			// A feed fetch invalidates any cached distribution: lookup
			// for the same URL, so it gets re-consulted on the next pass.
			distro := distributionScheme + url
			delete(finished, distro)
			delete(inProgress, distro)
		}
	}
}

// allowFetch applies the NetworkUse gate, logging a warning only on the
// first blocked attempt in this Driver's lifetime and debug-logging every
// subsequent one, whatever its host, so an offline run doesn't spam the
// log on every re-solve.
func (d *Driver) allowFetch(url string) bool {
	if d.gate.Allowed(url) {
		return true
	}

	warn := d.errs.Record(offlineWarnKey, download.KindOfflineBlocked)
	err := download.OfflineBlocked(url)
	if warn {
		gflog.Warning().Feed(url).Driver("solve").Msgf("%v", err)
	} else {
		gflog.Debug().Feed(url).Driver("solve").Msgf("%v", err)
	}
	return false
}

func hostOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

// SolveAndDownloadImpls solves (fetching feeds as needed), fails if the
// solver didn't become ready, otherwise fetches every selected
// implementation the Stores don't already have, unless selectOnly.
func (d *Driver) SolveAndDownloadImpls(ctx context.Context, refresh, selectOnly bool) error {
	if err := d.SolveWithDownloads(ctx, refresh, false); err != nil {
		return err
	}
	if !d.solver.Ready() {
		return download.SolverNotReady(d.solver.Reason())
	}
	if selectOnly {
		return nil
	}

	uncached := d.GetUncachedImplementations()
	if len(uncached) == 0 {
		return nil
	}

	b := d.fetcher.DownloadImpls(uncached, d.stores)
	if b == nil {
		return nil
	}
	if err := b.Await(ctx); err != nil {
		return err
	}
	return b.Check()
}

// GetUncachedImplementations returns every solver selection the Stores do
// not already have.
func (d *Driver) GetUncachedImplementations() []fetch.Implementation {
	var missing []fetch.Implementation
	for _, impl := range d.solver.Selections() {
		if !d.stores.Has(impl) {
			missing = append(missing, impl)
		}
	}
	return missing
}

// NeedDownload solves once without fetching and reports whether either
// the solver isn't ready or any selection is uncached.
func (d *Driver) NeedDownload(ctx context.Context) (bool, error) {
	if err := d.solver.Solve(ctx, d.Requirements.Root, d.Requirements.HostArch(), d.Requirements.Command); err != nil {
		return false, err
	}
	if !d.solver.Ready() {
		return true, nil
	}
	return len(d.GetUncachedImplementations()) > 0, nil
}
