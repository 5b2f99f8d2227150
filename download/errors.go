package download

import "fmt"

// MaxRedirects bounds a single Request's redirect chain so a misbehaving
// server can't spin a worker forever chasing redirects.
const MaxRedirects = 10

// Kind tags the category of a download failure. Kind is not a Go error
// type hierarchy on its own; it rides alongside the wrapped cause inside
// Error so handlers can switch on it without type assertions on the
// underlying transport error.
type Kind int

const (
	// KindAborted marks a Download that was cancelled by the caller while
	// it was Fetching. Terminal, not surfaced as a user-visible error
	// unless something explicitly awaits the Blocker.
	KindAborted Kind = iota
	// KindSizeMismatch marks a 200 response whose final byte count did
	// not match the Download's declared ExpectedSize.
	KindSizeMismatch
	// KindHTTPStatus marks any response outside {200, 304, redirect}.
	KindHTTPStatus
	// KindTransport marks a socket/dial/parse failure below the HTTP
	// status layer.
	KindTransport
	// KindSolverNotReady marks solve_and_download_impls failing because
	// the solver could not produce a ready selection after exhausting
	// fetchable feeds.
	KindSolverNotReady
	// KindOfflineBlocked marks a feed that was needed but could not be
	// fetched because NetworkUse is Offline.
	KindOfflineBlocked
)

func (k Kind) String() string {
	switch k {
	case KindAborted:
		return "aborted"
	case KindSizeMismatch:
		return "size-mismatch"
	case KindHTTPStatus:
		return "http-status"
	case KindTransport:
		return "transport"
	case KindSolverNotReady:
		return "solver-not-ready"
	case KindOfflineBlocked:
		return "offline-blocked"
	default:
		return "unknown"
	}
}

// Error is the error type every terminal Download failure and every
// Driver-level failure is reported as.
type Error struct {
	Kind   Kind
	URL    string
	Status int // HTTP status, 0 if none was obtained
	Reason string
	Err    error // underlying cause, may be nil
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAborted:
		return fmt.Sprintf("download %s aborted", e.URL)
	case KindSizeMismatch:
		return fmt.Sprintf("download %s failed: %s", e.URL, e.Reason)
	case KindHTTPStatus:
		return fmt.Sprintf("download %s failed: %s", e.URL, e.Reason)
	case KindOfflineBlocked:
		return fmt.Sprintf("feed %s not fetched: offline", e.URL)
	case KindSolverNotReady:
		return fmt.Sprintf("solver not ready: %s", e.Reason)
	default:
		if e.Err != nil {
			return fmt.Sprintf("download %s failed: %s: %v", e.URL, e.Reason, e.Err)
		}
		return fmt.Sprintf("download %s failed: %s", e.URL, e.Reason)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Aborted constructs a KindAborted Error for url.
func Aborted(url string) *Error {
	return &Error{Kind: KindAborted, URL: url, Reason: "aborted by user"}
}

// SizeMismatch constructs a KindSizeMismatch Error reporting the expected
// and actual byte counts.
func SizeMismatch(url string, expected, actual int64) *Error {
	return &Error{
		Kind:   KindSizeMismatch,
		URL:    url,
		Reason: fmt.Sprintf("wrong size: downloaded %d bytes, expected %d bytes", actual, expected),
	}
}

// HTTPStatus constructs a KindHTTPStatus Error.
func HTTPStatus(url string, status int, reason string) *Error {
	return &Error{Kind: KindHTTPStatus, URL: url, Status: status, Reason: reason}
}

// Transport constructs a KindTransport Error wrapping the underlying cause.
func Transport(url string, cause error) *Error {
	return &Error{Kind: KindTransport, URL: url, Reason: cause.Error(), Err: cause}
}

// OfflineBlocked constructs a KindOfflineBlocked Error.
func OfflineBlocked(url string) *Error {
	return &Error{Kind: KindOfflineBlocked, URL: url}
}

// SolverNotReady constructs a KindSolverNotReady Error carrying the
// solver-provided reason.
func SolverNotReady(reason string) *Error {
	return &Error{Kind: KindSolverNotReady, Reason: reason}
}
