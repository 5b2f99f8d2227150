package download

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/slicingmelon/gofetchd/blocker"
)

// Status is a Download's lifecycle stage. Transitions are totally ordered:
// Starting -> Fetching -> {Complete | Failed}, or Starting -> Failed if
// aborted before starting.
type Status int32

const (
	StatusStarting Status = iota
	StatusFetching
	StatusComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusFetching:
		return "fetching"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Download represents one URL fetch: its temp sink, its Blocker, and the
// bookkeeping needed to decide the terminal outcome (expected size,
// conditional-GET token, an opaque caller hint, abort/unmodified flags).
type Download struct {
	URL          string
	Hint         any
	ExpectedSize *int64
	ModTime      string

	status       atomic.Int32
	blocker      *blocker.Blocker
	sink         *os.File
	abortedByUsr atomic.Bool
	unmodified   atomic.Bool
	finalSize    atomic.Int64
	doneOnce     sync.Once

	queue *RequestsQueue
}

// NewDownload creates a Download in the Starting state. hint is an opaque
// value the caller associates with this Download (e.g. the Implementation
// it belongs to) purely for progress reporting.
func NewDownload(queue *RequestsQueue, url string, expectedSize *int64, modTime string, hint any) *Download {
	d := &Download{
		URL:          url,
		Hint:         hint,
		ExpectedSize: expectedSize,
		ModTime:      modTime,
		queue:        queue,
	}
	d.status.Store(int32(StatusStarting))
	return d
}

func (d *Download) Status() Status { return Status(d.status.Load()) }

// Start allocates the temp sink, creates the Blocker, transitions to
// Fetching, and enqueues the underlying request. Precondition: status is
// Starting. Postcondition: status is Fetching and Blocker() is non-nil.
func (d *Download) Start() (*blocker.Blocker, error) {
	if d.Status() != StatusStarting {
		return nil, fmt.Errorf("download: Start called from status %s", d.Status())
	}

	sink, err := os.CreateTemp("", "gofetchd-download-*")
	if err != nil {
		d.status.Store(int32(StatusFailed))
		return nil, err
	}
	d.sink = sink
	d.blocker = blocker.New(d.URL)
	d.status.Store(int32(StatusFetching))

	req := newRequest(d.URL, d.ModTime, sink)
	d.queue.Push(req)
	go d.await(req)

	return d.blocker, nil
}

// Blocker returns the Blocker created at Start, or nil before Start runs.
func (d *Download) Blocker() *blocker.Blocker { return d.blocker }

func (d *Download) await(req *Request) {
	ev := <-req.done
	d.onDone(ev.Status, ev.Reason, ev.Err)
}

// onDone decides the terminal status and error from a wire-level outcome,
// with the aborted-by-user check strictly first so an abort always wins
// over whatever the worker observed concurrently. It may be called twice
// for the same Download — once by Abort and once by the worker's delivery
// racing it — so the actual state transition happens in finish, which is
// idempotent.
func (d *Download) onDone(status int, reason string, err error) {
	defer d.sink.Close()

	switch {
	case d.abortedByUsr.Load():
		d.finish(StatusFailed, Aborted(d.URL))

	case status == 304:
		d.unmodified.Store(true)
		d.finalSize.Store(0)
		d.finish(StatusComplete, nil)

	case status == 200:
		size := d.bytesInSink()
		d.finalSize.Store(size)
		if d.ExpectedSize != nil && *d.ExpectedSize != size {
			d.finish(StatusFailed, SizeMismatch(d.URL, *d.ExpectedSize, size))
			return
		}
		d.finish(StatusComplete, nil)

	case err == nil:
		d.finish(StatusFailed, HTTPStatus(d.URL, status, reason))

	default:
		d.finish(StatusFailed, Transport(d.URL, err))
	}
}

// finish applies the terminal status and triggers the Blocker exactly
// once. Whichever caller — Abort or the worker's completion delivery —
// reaches this first wins; a second arrival (the close triggered by Abort
// racing the worker's own in-flight failure, for instance) is dropped
// silently instead of double-triggering the Blocker.
func (d *Download) finish(status Status, err *Error) {
	d.doneOnce.Do(func() {
		d.status.Store(int32(status))
		if err != nil {
			d.blocker.TriggerErr(err)
		} else {
			d.blocker.Trigger()
		}
	})
}

// Abort cancels a Fetching Download: it records the abort (via the same
// onDone path the worker event would take), asks the queue to abort the
// URL so the in-flight connection is torn down, and marks aborted-by-user.
// If the Download never started, it is simply marked Failed. Idempotent:
// a second call on an already-terminal Download is a no-op.
func (d *Download) Abort() {
	switch d.Status() {
	case StatusFetching:
		d.abortedByUsr.Store(true)
		d.queue.Abort(d.URL)
		d.onDone(0, "", nil)
	case StatusStarting:
		d.status.Store(int32(StatusFailed))
	default:
		// already terminal
	}
}

// Unmodified reports whether the server answered 304 for this Download.
func (d *Download) Unmodified() bool { return d.unmodified.Load() }

func (d *Download) bytesInSink() int64 {
	if d.sink == nil {
		return 0
	}
	info, err := d.sink.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// BytesSoFar returns 0 before Start, the live size of the temp sink while
// Fetching (safe to read concurrently with the writer via Stat), and the
// recorded final size once terminal.
func (d *Download) BytesSoFar() int64 {
	switch d.Status() {
	case StatusStarting:
		return 0
	case StatusFetching:
		return d.bytesInSink()
	default:
		return d.finalSize.Load()
	}
}

// ProgressFraction returns 0 while Starting, 1 once there is no sink left
// to measure against (terminal states collapse to "done"), nil if the
// expected size is unknown, or bytes-so-far/expected otherwise.
func (d *Download) ProgressFraction() *float64 {
	switch d.Status() {
	case StatusStarting:
		f := 0.0
		return &f
	case StatusComplete, StatusFailed:
		f := 1.0
		return &f
	}
	if d.ExpectedSize == nil || *d.ExpectedSize == 0 {
		return nil
	}
	f := float64(d.BytesSoFar()) / float64(*d.ExpectedSize)
	return &f
}

// SinkPath returns the temp file path backing this Download, valid once
// Start has run.
func (d *Download) SinkPath() string {
	if d.sink == nil {
		return ""
	}
	return d.sink.Name()
}
