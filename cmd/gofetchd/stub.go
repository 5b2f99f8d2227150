package main

import (
	"context"
	"sync"

	"github.com/slicingmelon/gofetchd/fetch"
	GB403Logger "github.com/slicingmelon/gofetchd/internal/gflog"
)

// stubSolver is a minimal in-memory Solver: it considers itself ready as
// soon as Solve has been called once, with a single feed (the root itself) and no implementations to select. It
// exists to exercise the Driver end to end without depending on a real
// dependency solver.
type stubSolver struct {
	root string

	mu      sync.Mutex
	calls   int
	reason  string
}

func newStubSolver(root string) *stubSolver {
	return &stubSolver{root: root, reason: "not yet solved"}
}

func (s *stubSolver) Solve(_ context.Context, root, hostArch, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	GB403Logger.Debug().Driver("solve").Msgf("solve #%d: root=%s arch=%s command=%s", s.calls, root, hostArch, command)
	return nil
}

func (s *stubSolver) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls > 0
}

func (s *stubSolver) FeedsUsed() []string {
	return []string{s.root}
}

func (s *stubSolver) Selections() []fetch.Implementation {
	return nil
}

func (s *stubSolver) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// stubIfaceCache starts empty: a feed counts as fresh only once Import has
// stored it. Because stubSolver is ready after its first solve, the demo
// CLI only fetches a feed when -force-refresh (or, for distribution:
// feeds, -update-local) makes the Driver refresh.
type stubIfaceCache struct {
	mu        sync.Mutex
	fresh     map[string]bool
	modTimes  map[string]string
}

func newStubIfaceCache() *stubIfaceCache {
	return &stubIfaceCache{fresh: make(map[string]bool), modTimes: make(map[string]string)}
}

func (c *stubIfaceCache) IsFresh(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh, ok := c.fresh[url]
	return ok && fresh
}

func (c *stubIfaceCache) ModTime(url string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modTimes[url]
}

func (c *stubIfaceCache) Import(url string, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh[url] = true
	GB403Logger.Info().Feed(url).Msgf("imported feed from %s", path)
	return nil
}

// stubStores reports every implementation as uncached. stubSolver selects
// no implementations, so the demo never reaches DownloadImpls.
type stubStores struct{}

func newStubStores() *stubStores { return &stubStores{} }

func (s *stubStores) Has(fetch.Implementation) bool { return false }

func (s *stubStores) Add(impl fetch.Implementation, path string) error {
	GB403Logger.Info().Msgf("stored implementation %s from %s", impl.ID, path)
	return nil
}

// loggingHandler is an ErrorReporter that simply logs, standing in for a
// real GUI/preference-aware handler.
type loggingHandler struct{}

func newLoggingHandler() *loggingHandler { return &loggingHandler{} }

func (h *loggingHandler) ReportError(url string, err error) {
	GB403Logger.Error().Feed(url).Msgf("%v", err)
}

func (h *loggingHandler) ReportProgress(root string, feedsInProgress int) {
	GB403Logger.Debug().Driver("solve").Msgf("root=%s feeds_in_progress=%d", root, feedsInProgress)
}
