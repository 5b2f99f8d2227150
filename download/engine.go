package download

import "time"

// Engine is the application-owned object holding a single RequestsQueue
// (and the ConnectionPool/Dialer it owns), constructed once per process
// and handed to every Fetcher by dependency injection, rather than each
// Download building its own worker pool.
type Engine struct {
	queue *RequestsQueue
}

// NewEngine builds an Engine whose RequestsQueue dials through proxyURL
// (empty for direct connections) with the given per-dial timeout,
// spawning at most maxWorkers worker goroutines (DefaultPoolSize if
// maxWorkers <= 0).
func NewEngine(proxyURL string, dialTimeout time.Duration, maxWorkers int) (*Engine, error) {
	q, err := NewRequestsQueue(proxyURL, dialTimeout, maxWorkers)
	if err != nil {
		return nil, err
	}
	return &Engine{queue: q}, nil
}

// NewDownload creates a Download bound to this Engine's queue.
func (e *Engine) NewDownload(url string, expectedSize *int64, modTime string, hint any) *Download {
	return NewDownload(e.queue, url, expectedSize, modTime, hint)
}

// Shutdown tears down the engine's worker pool and connection pool. Safe
// to call once at process exit.
func (e *Engine) Shutdown() {
	e.queue.Clear()
}
