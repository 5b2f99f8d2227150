// Package gferr tracks download failures per host, backing a
// single-warn-then-debug policy: the first failure for a host is
// surfaced to the caller as a warning, every subsequent failure for the
// same host within the process lifetime is only logged at debug level,
// until a later success clears the warned state.
package gferr

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"

	"github.com/slicingmelon/gofetchd/download"
)

// Tracker counts download failures by host and decides whether a given
// failure is the first the caller has seen for that host.
type Tracker struct {
	cache *fastcache.Cache

	mu   sync.Mutex
	warn map[string]bool
}

// New creates a Tracker with a 32MB fastcache, the package's documented
// minimum cache size.
func New() *Tracker {
	return &Tracker{
		cache: fastcache.New(32 * 1024 * 1024),
		warn:  make(map[string]bool),
	}
}

// Record stores one failure for host and returns true if this is the
// first failure recorded for that host since it was created or last
// Forgotten (the caller should warn), false if the host has already been
// warned about (the caller should only debug-log).
func (t *Tracker) Record(host string, kind download.Kind) bool {
	t.bumpCount(host)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.warn[host] {
		return false
	}
	t.warn[host] = true
	return true
}

func (t *Tracker) bumpCount(host string) {
	key := []byte(host)
	buf := make([]byte, 4)
	if v := t.cache.Get(buf[:0], key); len(v) == 4 {
		count := binary.LittleEndian.Uint32(v) + 1
		binary.LittleEndian.PutUint32(buf, count)
		t.cache.Set(key, buf)
		return
	}
	binary.LittleEndian.PutUint32(buf, 1)
	t.cache.Set(key, buf)
}

// Forget clears the warned state for host, so its next failure will warn
// again. Called once a host's fetch succeeds, so a host that recovers
// after being offline-blocked doesn't stay permanently suppressed to
// debug level.
func (t *Tracker) Forget(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.warn, host)
	t.cache.Del([]byte(host))
}

// Close releases the tracker's cache.
func (t *Tracker) Close() {
	if t.cache != nil {
		t.cache.Reset()
	}
}
