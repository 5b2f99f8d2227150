// Package blocker implements the one-shot awaitable primitive the fetch
// engine suspends on: a Blocker collects a single success-or-failure result
// and wakes every awaiter exactly once.
package blocker

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Blocker is a single-shot future. It is triggered exactly once, either
// with success or with an error, and any number of goroutines may await it
// concurrently; all observe the same result.
type Blocker struct {
	label string

	mu       sync.Mutex
	happened bool
	err      error
	done     chan struct{}
}

// New creates a Blocker in the not-yet-happened state. label is carried
// purely for diagnostics (it shows up in panic messages and logs).
func New(label string) *Blocker {
	return &Blocker{
		label: label,
		done:  make(chan struct{}),
	}
}

// Idle returns a Blocker that has already happened successfully. It is used
// for the local-only "refresh" case in the driver loop, where a feed needs
// no network round trip but the loop still wants something to await.
func Idle() *Blocker {
	b := New("idle")
	b.Trigger()
	return b
}

// Trigger marks the Blocker as successfully happened and wakes all
// awaiters. Triggering a Blocker twice is a programming error and panics,
// mirroring the source's assertion that trigger is single-delivery.
func (b *Blocker) Trigger() {
	b.trigger(nil)
}

// TriggerErr marks the Blocker as happened with a failure. Awaiters that
// call Check after this will observe err.
func (b *Blocker) TriggerErr(err error) {
	b.trigger(err)
}

func (b *Blocker) trigger(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.happened {
		panic(fmt.Sprintf("blocker %q triggered more than once", b.label))
	}
	b.happened = true
	b.err = err
	close(b.done)
}

// Happened reports whether the Blocker has been triggered yet.
func (b *Blocker) Happened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.happened
}

// Check returns the stored failure, if any. It must only be called after
// Happened is true (or after Await/AwaitAny has returned for this Blocker).
func (b *Blocker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Label returns the diagnostic label this Blocker was created with.
func (b *Blocker) Label() string {
	return b.label
}

// Await suspends until this Blocker happens or ctx is done.
func (b *Blocker) Await(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitAny suspends the calling goroutine until at least one of blockers
// has happened, or ctx is done. It returns the index of a Blocker that is
// known to have happened; the caller is expected to inspect every Blocker
// in the set afterwards, since others may have happened too, concurrently.
func AwaitAny(ctx context.Context, blockers ...*Blocker) (int, error) {
	if len(blockers) == 0 {
		return -1, fmt.Errorf("blocker: AwaitAny called with no blockers")
	}

	// Fast path: something has already happened.
	for i, b := range blockers {
		if b.Happened() {
			return i, nil
		}
	}

	cases := make([]reflect.SelectCase, 0, len(blockers)+1)
	for _, b := range blockers {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(b.done),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, _, _ := reflect.Select(cases)
	if chosen == len(blockers) {
		return -1, ctx.Err()
	}
	return chosen, nil
}

// CheckAll calls onErr for every happened Blocker in blockers that failed, continuing
// through the whole set instead of stopping at the first failure, so a
// caller forwarding errors to a reporter observes every one of them.
func CheckAll(blockers []*Blocker, onErr func(b *Blocker, err error)) {
	for _, b := range blockers {
		if !b.Happened() {
			continue
		}
		if err := b.Check(); err != nil && onErr != nil {
			onErr(b, err)
		}
	}
}
