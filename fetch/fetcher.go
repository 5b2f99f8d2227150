// Package fetch implements the higher-level operations a Driver
// consumes — download a feed into the interface cache, or download a set
// of implementations into the stores — each returning a Blocker the
// caller awaits.
package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/slicingmelon/gofetchd/blocker"
	"github.com/slicingmelon/gofetchd/download"
)

// IfaceCache is the external collaborator backing an on-disk cache of
// feed documents, addressed by feed URL.
type IfaceCache interface {
	// IsFresh reports whether the cached copy of url is fresh enough that
	// no fetch is needed.
	IsFresh(url string) bool
	// ModTime returns the opaque If-Modified-Since token for url, or ""
	// if none is cached.
	ModTime(url string) string
	// Import stores the feed document read from path under url.
	Import(url string, path string) error
}

// Implementation is the minimal shape the Driver and Stores need: an
// identity and a download location with an expected size.
type Implementation struct {
	ID           string
	URL          string
	ExpectedSize *int64
}

// Stores is the external collaborator reporting and accepting cached
// implementations.
type Stores interface {
	Has(impl Implementation) bool
	Add(impl Implementation, path string) error
}

// Fetcher wraps a download.Engine with conditional-GET and redirect
// handling for feeds and implementations.
type Fetcher struct {
	engine *download.Engine
}

// New builds a Fetcher over engine.
func New(engine *download.Engine) *Fetcher {
	return &Fetcher{engine: engine}
}

// DownloadAndImportFeed resolves to success once url's feed document is
// present in iface, no-oping if iface already reports it fresh.
func (f *Fetcher) DownloadAndImportFeed(url string, iface IfaceCache) *blocker.Blocker {
	if iface.IsFresh(url) {
		return blocker.Idle()
	}

	modTime := iface.ModTime(url)
	dl := f.engine.NewDownload(url, nil, modTime, url)
	inner, err := dl.Start()
	if err != nil {
		b := blocker.New(url)
		b.TriggerErr(err)
		return b
	}

	out := blocker.New(url)
	go func() {
		if err := inner.Await(context.Background()); err != nil {
			out.TriggerErr(err)
			return
		}
		if err := inner.Check(); err != nil {
			out.TriggerErr(err)
			return
		}
		if dl.Unmodified() {
			out.Trigger()
			return
		}
		if err := iface.Import(url, dl.SinkPath()); err != nil {
			out.TriggerErr(fmt.Errorf("importing feed %s: %w", url, err))
			return
		}
		out.Trigger()
	}()
	return out
}

// DownloadImpls resolves to success once every implementation in impls is
// present in stores. Returns nil if every implementation is already
// cached, so a caller never has to await a Blocker for work that wasn't
// needed.
func (f *Fetcher) DownloadImpls(impls []Implementation, stores Stores) *blocker.Blocker {
	var missing []Implementation
	for _, impl := range impls {
		if !stores.Has(impl) {
			missing = append(missing, impl)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	out := blocker.New(joinIDs(missing))

	type result struct {
		impl Implementation
		err  error
		path string
	}
	results := make(chan result, len(missing))

	for _, impl := range missing {
		impl := impl
		dl := f.engine.NewDownload(impl.URL, impl.ExpectedSize, "", impl.ID)
		inner, err := dl.Start()
		if err != nil {
			results <- result{impl: impl, err: err}
			continue
		}
		go func() {
			err := inner.Await(context.Background())
			if err == nil {
				err = inner.Check()
			}
			results <- result{impl: impl, err: err, path: dl.SinkPath()}
		}()
	}

	go func() {
		var firstErr error
		for range missing {
			r := <-results
			if r.err != nil {
				if firstErr == nil {
					firstErr = r.err
				}
				continue
			}
			if err := stores.Add(r.impl, r.path); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			out.TriggerErr(firstErr)
			return
		}
		out.Trigger()
	}()

	return out
}

func joinIDs(impls []Implementation) string {
	ids := make([]string, len(impls))
	for i, impl := range impls {
		ids[i] = impl.ID
	}
	return strings.Join(ids, ",")
}
