package download

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine("", 5*time.Second, 0)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func awaitDownload(t *testing.T, d *Download) error {
	t.Helper()
	b, err := d.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Await(ctx), "download did not complete in time")
	return b.Check()
}

func TestDownloadSimpleGet(t *testing.T) {
	const body = "hello, gofetchd"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	e := newTestEngine(t)
	size := int64(len(body))
	d := e.NewDownload(server.URL, &size, "", nil)

	err := awaitDownload(t, d)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, d.Status())
	require.Equal(t, size, d.BytesSoFar())

	data, rerr := os.ReadFile(d.SinkPath())
	require.NoError(t, rerr)
	require.Equal(t, body, string(data))
}

func TestDownloadSizeMismatchFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("short"))
	}))
	defer server.Close()

	e := newTestEngine(t)
	expected := int64(9999)
	d := e.NewDownload(server.URL, &expected, "", nil)

	err := awaitDownload(t, d)
	require.Error(t, err)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, KindSizeMismatch, derr.Kind)
	require.Equal(t, StatusFailed, d.Status())
}

func TestDownloadConditionalGetNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	e := newTestEngine(t)
	d := e.NewDownload(server.URL, nil, "Wed, 21 Oct 2015 07:28:00 GMT", nil)

	err := awaitDownload(t, d)
	require.NoError(t, err)
	require.True(t, d.Unmodified())
	require.Equal(t, StatusComplete, d.Status())
	require.Zero(t, d.BytesSoFar())
}

func TestDownloadRedirectChainFollowsToFinalBody(t *testing.T) {
	const body = "final resource"
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	defer final.Close()

	middle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer middle.Close()

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, middle.URL, http.StatusMovedPermanently)
	}))
	defer first.Close()

	e := newTestEngine(t)
	size := int64(len(body))
	d := e.NewDownload(first.URL, &size, "", nil)

	err := awaitDownload(t, d)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, d.Status())

	data, rerr := os.ReadFile(d.SinkPath())
	require.NoError(t, rerr)
	require.Equal(t, body, string(data))
}

func TestDownloadTooManyRedirectsFails(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL, http.StatusFound)
	}))
	defer server.Close()

	e := newTestEngine(t)
	d := e.NewDownload(server.URL, nil, "", nil)

	err := awaitDownload(t, d)
	require.Error(t, err)
	require.Equal(t, StatusFailed, d.Status())
}

func TestDownloadAbortMidFlightTriggersAborted(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 1<<20))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	e := newTestEngine(t)
	d := e.NewDownload(server.URL, nil, "", nil)
	b, err := d.Start()
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	d.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Await(ctx), "abort did not complete in time")

	var derr *Error
	require.ErrorAs(t, b.Check(), &derr)
	require.Equal(t, KindAborted, derr.Kind)
	require.Equal(t, StatusFailed, d.Status())
}

func TestConnectionPoolBound(t *testing.T) {
	pool := NewConnectionPool(DefaultPoolSize)
	ep := Endpoint{Scheme: "http", Host: "example.com", Port: "80"}

	for i := 0; i < DefaultPoolSize; i++ {
		client, _ := net.Pipe()
		pool.Release(newConnection(ep, client))
	}
	require.Equal(t, DefaultPoolSize, pool.Size(ep))

	require.Panics(t, func() {
		client, _ := net.Pipe()
		pool.Release(newConnection(ep, client))
	})
}
