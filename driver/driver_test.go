package driver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slicingmelon/gofetchd/download"
	"github.com/slicingmelon/gofetchd/fetch"
	"github.com/slicingmelon/gofetchd/netpolicy"
)

type fakeSolver struct {
	mu         sync.Mutex
	calls      int
	readyAfter int
	feeds      []string
	selections []fetch.Implementation
	reason     string
}

func (s *fakeSolver) Solve(ctx context.Context, root, hostArch, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func (s *fakeSolver) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls >= s.readyAfter
}

func (s *fakeSolver) FeedsUsed() []string                { return s.feeds }
func (s *fakeSolver) Selections() []fetch.Implementation { return s.selections }
func (s *fakeSolver) Reason() string                     { return s.reason }

func (s *fakeSolver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeHandler struct {
	mu             sync.Mutex
	errs           []string
	progressCalled int
}

func (h *fakeHandler) ReportError(url string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, url)
}

func (h *fakeHandler) ReportProgress(root string, feedsInProgress int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progressCalled++
}

type fakeIfaceCache struct {
	mu    sync.Mutex
	fresh map[string]bool
}

func newFakeIfaceCache() *fakeIfaceCache {
	return &fakeIfaceCache{fresh: make(map[string]bool)}
}

func (c *fakeIfaceCache) IsFresh(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fresh[url]
}

func (c *fakeIfaceCache) ModTime(url string) string { return "" }

func (c *fakeIfaceCache) Import(url string, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fresh[url] = true
	return nil
}

type fakeStores struct {
	mu  sync.Mutex
	has map[string]bool
}

func newFakeStores() *fakeStores {
	return &fakeStores{has: make(map[string]bool)}
}

func (s *fakeStores) Has(impl fetch.Implementation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.has[impl.ID]
}

func (s *fakeStores) Add(impl fetch.Implementation, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.has[impl.ID] = true
	return nil
}

func newTestFetcher(t *testing.T) *fetch.Fetcher {
	t.Helper()
	engine, err := download.NewEngine("", 5*time.Second, 0)
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)
	return fetch.New(engine)
}

func TestClassifyFeed(t *testing.T) {
	require.Equal(t, FeedNetwork, ClassifyFeed("http://example.com/feed.xml"))
	require.Equal(t, FeedNetwork, ClassifyFeed("https://example.com/feed.xml"))
	require.Equal(t, FeedDistribution, ClassifyFeed("distribution:apt:libfoo"))
	require.Equal(t, FeedLocal, ClassifyFeed("/usr/share/feeds/local.xml"))
}

func TestRequirementsHostArchAppendsSrc(t *testing.T) {
	req := Requirements{Arch: "x86_64", Source: true}
	require.Equal(t, "x86_64-src", req.HostArch())

	req.Source = false
	require.Equal(t, "x86_64", req.HostArch())
}

func TestSolveWithDownloadsQuickPathStopsOnFirstReady(t *testing.T) {
	solver := &fakeSolver{readyAfter: 1}
	handler := &fakeHandler{}
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)

	d := New(Requirements{Root: "http://example.com/root.xml"}, solver, newFakeIfaceCache(), newFakeStores(), newTestFetcher(t), handler, gate)

	err = d.SolveWithDownloads(context.Background(), false, false)
	require.NoError(t, err)
	require.Equal(t, 1, solver.callCount())
	require.Equal(t, 1, handler.progressCalled)
}

func TestSolveWithDownloadsLocalFeedUnderForceReachesFixedPoint(t *testing.T) {
	solver := &fakeSolver{readyAfter: 2, feeds: []string{"/usr/share/feeds/local.xml"}}
	handler := &fakeHandler{}
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)

	d := New(Requirements{Root: "http://example.com/root.xml"}, solver, newFakeIfaceCache(), newFakeStores(), newTestFetcher(t), handler, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = d.SolveWithDownloads(ctx, true, false)
	require.NoError(t, err)
	require.True(t, solver.Ready())
	require.GreaterOrEqual(t, solver.callCount(), 2)
}

func TestSolveWithDownloadsNetworkFeedImportsThroughFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<interface/>"))
	}))
	defer server.Close()

	solver := &fakeSolver{readyAfter: 2, feeds: []string{server.URL}}
	handler := &fakeHandler{}
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)
	iface := newFakeIfaceCache()

	d := New(Requirements{Root: server.URL}, solver, iface, newFakeStores(), newTestFetcher(t), handler, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = d.SolveWithDownloads(ctx, true, false)
	require.NoError(t, err)
	require.True(t, iface.IsFresh(server.URL))
}

func TestSolveWithDownloadsOfflineSkipsNetworkFeedWithoutHanging(t *testing.T) {
	solver := &fakeSolver{readyAfter: 1, feeds: []string{"http://example.invalid/feed.xml"}}
	handler := &fakeHandler{}
	gate, err := netpolicy.New(netpolicy.Offline)
	require.NoError(t, err)

	d := New(Requirements{Root: "http://example.invalid/feed.xml"}, solver, newFakeIfaceCache(), newFakeStores(), newTestFetcher(t), handler, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = d.SolveWithDownloads(ctx, true, false)
	require.NoError(t, err)
	require.Empty(t, handler.errs)
}

func TestAllowFetchOfflineWarnsOnceThenDebug(t *testing.T) {
	solver := &fakeSolver{readyAfter: 1}
	gate, err := netpolicy.New(netpolicy.Offline)
	require.NoError(t, err)

	d := New(Requirements{}, solver, newFakeIfaceCache(), newFakeStores(), newTestFetcher(t), &fakeHandler{}, gate)

	require.False(t, d.allowFetch("http://example.invalid/feed.xml"))
	require.False(t, d.allowFetch("http://example.invalid/feed.xml"))
	require.False(t, d.allowFetch("http://other.invalid/feed.xml"))

	// The first blocked fetch used up the Driver's one warning; every
	// later one, on any host, is debug-only.
	require.False(t, d.errs.Record(offlineWarnKey, download.KindOfflineBlocked))
}

func TestGetUncachedImplementations(t *testing.T) {
	impls := []fetch.Implementation{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	solver := &fakeSolver{readyAfter: 1, selections: impls}
	stores := newFakeStores()
	stores.has["b"] = true
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)

	d := New(Requirements{}, solver, newFakeIfaceCache(), stores, newTestFetcher(t), &fakeHandler{}, gate)

	missing := d.GetUncachedImplementations()
	require.Len(t, missing, 2)
	require.ElementsMatch(t, []string{"a", "c"}, []string{missing[0].ID, missing[1].ID})
}

func TestNeedDownloadReportsTrueWhenSelectionUncached(t *testing.T) {
	impls := []fetch.Implementation{{ID: "a"}}
	solver := &fakeSolver{readyAfter: 1, selections: impls}
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)

	d := New(Requirements{}, solver, newFakeIfaceCache(), newFakeStores(), newTestFetcher(t), &fakeHandler{}, gate)

	need, err := d.NeedDownload(context.Background())
	require.NoError(t, err)
	require.True(t, need)
}

func TestNeedDownloadReportsFalseWhenEverythingCached(t *testing.T) {
	impls := []fetch.Implementation{{ID: "a"}}
	solver := &fakeSolver{readyAfter: 1, selections: impls}
	stores := newFakeStores()
	stores.has["a"] = true
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)

	d := New(Requirements{}, solver, newFakeIfaceCache(), stores, newTestFetcher(t), &fakeHandler{}, gate)

	need, err := d.NeedDownload(context.Background())
	require.NoError(t, err)
	require.False(t, need)
}

func TestSolveAndDownloadImplsFailsWhenSolverNotReady(t *testing.T) {
	solver := &fakeSolver{readyAfter: 1000, reason: "no candidates"}
	gate, err := netpolicy.New(netpolicy.Full)
	require.NoError(t, err)

	d := New(Requirements{}, solver, newFakeIfaceCache(), newFakeStores(), newTestFetcher(t), &fakeHandler{}, gate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = d.SolveAndDownloadImpls(ctx, false, false)
	require.Error(t, err)

	var derr *download.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, download.KindSolverNotReady, derr.Kind)
}
