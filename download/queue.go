package download

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/projectdiscovery/retryablehttp-go"

	GB403Logger "github.com/slicingmelon/gofetchd/internal/gflog"
)

// RequestsQueue is a bounded worker pool: a mutex-guarded set of
// pending/in-flight requests, a condition variable workers wait on, and
// lazily spawned worker goroutines up to maxWorkers.
type RequestsQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending    map[string]*Request
	inflight   map[string]*Connection
	workers    int
	maxWorkers int
	waiting    int
	exiting    bool

	pool     *ConnectionPool
	dialer   *Dialer
	proxyURL string
	generic  *retryablehttp.Client
}

// NewRequestsQueue builds a queue with its own connection pool and
// dialer, spawning at most maxWorkers worker goroutines (DefaultPoolSize
// if maxWorkers <= 0). proxyURL, if non-empty, is the HTTP proxy every
// plain-HTTP dial routes through.
func NewRequestsQueue(proxyURL string, dialTimeout time.Duration, maxWorkers int) (*RequestsQueue, error) {
	if maxWorkers <= 0 {
		maxWorkers = DefaultPoolSize
	}

	dialer, err := NewDialer(dialTimeout)
	if err != nil {
		return nil, err
	}

	genericOpts := retryablehttp.DefaultOptionsSingle
	genericOpts.RetryMax = 0
	generic := retryablehttp.NewClient(genericOpts)
	if proxyURL != "" {
		if proxy, perr := url.Parse(proxyURL); perr == nil {
			generic.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
		}
	}

	q := &RequestsQueue{
		pending:    make(map[string]*Request),
		inflight:   make(map[string]*Connection),
		maxWorkers: maxWorkers,
		pool:       NewConnectionPool(maxWorkers),
		dialer:     dialer,
		proxyURL:   proxyURL,
		generic:    generic,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Push enqueues req. If a worker is idle it is woken; otherwise, if the
// queue has not yet reached maxWorkers, a new worker is spawned — outside
// the lock, so spawning never happens while holding q.mu.
func (q *RequestsQueue) Push(req *Request) {
	q.mu.Lock()
	q.pending[req.URL] = req
	spawn := false
	if q.waiting > 0 {
		q.cond.Signal()
	} else if q.workers < q.maxWorkers {
		q.workers++
		spawn = true
	}
	q.mu.Unlock()

	if spawn {
		go q.runWorker()
	}
}

// Abort removes url from pending if it hasn't been picked up yet, or
// closes its in-flight connection so the worker's read fails with an I/O
// error.
func (q *RequestsQueue) Abort(url string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.pending, url)
	if conn, ok := q.inflight[url]; ok && conn != nil {
		conn.Close()
	}
}

// Clear puts the queue into the exiting state, drops all pending work and
// closes all in-flight connections, then wakes every waiting worker so
// they observe exiting and return. Idempotent; intended to be registered
// for process shutdown.
func (q *RequestsQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.exiting {
		return
	}
	q.exiting = true
	q.pending = make(map[string]*Request)
	for _, conn := range q.inflight {
		if conn != nil {
			conn.Close()
		}
	}
	q.inflight = make(map[string]*Connection)
	q.pool.CloseAll()
	q.cond.Broadcast()
}

type openerKind int

const (
	openerPooled openerKind = iota
	openerGeneric
)

// pop selects the next piece of work for a worker. prevConn is the
// connection the calling worker held for its previous request, if any;
// pending is the redirect continuation the worker may be carrying from
// its own last opener call. It returns the next Request to service, the
// Connection to use (nil if the caller must use the generic opener),
// which opener to use, and false if the queue is exiting with nothing
// left to do.
func (q *RequestsQueue) pop(prevConn *Connection, pending *PendingRedirect) (*Request, *Connection, openerKind, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pending != nil {
		// A redirect to another endpoint cannot reuse prevConn: it goes back
		// to the pool, and the redirect continues on a pooled connection to
		// the new endpoint if one is idle, else through the generic opener.
		if prevConn != nil {
			if ep, err := pending.Req.resolveEndpoint(q.proxyURL); err == nil && ep != prevConn.Endpoint {
				q.pool.Release(prevConn)
				prevConn, _ = q.pool.Take(ep)
			}
		}
		q.inflight[pending.Req.URL] = prevConn
		kind := openerPooled
		if prevConn == nil {
			kind = openerGeneric
		}
		return pending.Req, prevConn, kind, true
	}

	if prevConn != nil {
		q.pool.Release(prevConn)
	}

	for {
		for len(q.pending) == 0 && !q.exiting {
			q.waiting++
			q.cond.Wait()
			q.waiting--
		}

		if len(q.pending) == 0 && q.exiting {
			return nil, nil, openerPooled, false
		}

		var req *Request
		for _, r := range q.pending {
			req = r
			break
		}
		delete(q.pending, req.URL)

		ep, err := req.resolveEndpoint(q.proxyURL)
		if err != nil {
			req.complete(0, "", err)
			continue
		}

		if ep.Scheme != "http" {
			q.inflight[req.URL] = nil
			return req, nil, openerGeneric, true
		}

		conn, ok := q.pool.Take(ep)
		if !ok {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			fresh, derr := q.dialer.Dial(ctx, ep)
			cancel()
			if derr != nil {
				req.complete(0, "", derr)
				continue
			}
			conn = newConnection(ep, fresh)
		}

		q.inflight[req.URL] = conn
		return req, conn, openerPooled, true
	}
}

// runWorker is the worker loop: pop, open, handle redirects by stashing a
// PendingRedirect and looping, deliver completion on success or failure,
// repeat until pop signals exit.
func (q *RequestsQueue) runWorker() {
	var prevConn *Connection
	var pending *PendingRedirect
	redirects := 0

	for {
		req, conn, kind, ok := q.pop(prevConn, pending)
		prevConn = nil
		pending = nil
		if !ok {
			q.mu.Lock()
			q.workers--
			q.mu.Unlock()
			return
		}

		var status int
		var reason string
		var err error

		switch kind {
		case openerGeneric:
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			status, reason, err = genericOpen(ctx, q.generic, req)
			cancel()
		default:
			status, reason, err = pooledOpen(conn, req, conn.Endpoint)
		}

		if rerr, isRedirect := err.(*redirectError); isRedirect {
			redirects++
			if redirects > MaxRedirects {
				q.mu.Lock()
				delete(q.inflight, req.URL)
				q.mu.Unlock()
				if conn != nil {
					conn.Close()
				}
				req.complete(status, "too many redirects", nil)
				redirects = 0
				continue
			}

			req.Location = rerr.location
			pending = &PendingRedirect{Location: rerr.location, Req: req}
			if kind == openerPooled {
				prevConn = conn
			}
			GB403Logger.Debug().Msgf("redirecting %s -> %s", req.URL, rerr.location)
			continue
		}

		redirects = 0

		q.mu.Lock()
		delete(q.inflight, req.URL)
		q.mu.Unlock()

		req.complete(status, reason, err)

		if kind == openerPooled && conn != nil {
			prevConn = conn
		}
	}
}
