package download

import (
	"context"
	"io"
	"net/http"

	"github.com/VictoriaMetrics/VictoriaMetrics/lib/bytesutil"
	"github.com/projectdiscovery/retryablehttp-go"
)

const chunkSize = 4096

var (
	bConnectionKeep = []byte("Connection: keep-alive\r\n")
	bIfModSince     = []byte("If-Modified-Since: ")
	bAccept         = []byte("Accept: */*\r\n")
	bHostColon      = []byte("Host: ")
	bCRLF           = []byte("\r\n")
)

var requestBufPool bytesutil.ByteBufferPool

// redirectError signals the opener observed a 301/302/303/307 response
// with a Location header. The worker catches this, stashes a
// PendingRedirect, and keeps the connection alive for the next pop to
// consume.
type redirectError struct {
	location string
}

func (e *redirectError) Error() string { return "redirect to " + e.location }

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		return true
	default:
		return false
	}
}

// pooledOpen sends req.Location over conn with a manually written request
// line and headers (Connection: keep-alive, optional If-Modified-Since),
// then parses the response with the standard library's HTTP/1.1 response
// reader (no pack library exposes header/status parsing independent of
// owning the whole connection lifecycle, so this one piece stays on
// net/http — see DESIGN.md). On 200 it streams the body to req.Sink in
// 4096-byte chunks.
func pooledOpen(conn *Connection, req *Request, ep Endpoint) (status int, reason string, err error) {
	buf := requestBufPool.Get()
	defer requestBufPool.Put(buf)

	path := req.Location
	buf.B = append(buf.B, "GET "...)
	buf.B = append(buf.B, path...)
	buf.B = append(buf.B, " HTTP/1.1\r\n"...)
	buf.B = append(buf.B, bHostColon...)
	if (ep.Scheme == "https" && ep.Port == "443") || (ep.Scheme != "https" && ep.Port == "80") {
		buf.B = append(buf.B, ep.Host...)
	} else {
		buf.B = append(buf.B, ep.Addr()...)
	}
	buf.B = append(buf.B, bCRLF...)
	buf.B = append(buf.B, bConnectionKeep...)
	buf.B = append(buf.B, bAccept...)
	if req.ModTime != "" {
		buf.B = append(buf.B, bIfModSince...)
		buf.B = append(buf.B, req.ModTime...)
		buf.B = append(buf.B, bCRLF...)
	}
	buf.B = append(buf.B, bCRLF...)

	if _, err := conn.conn.Write(buf.B); err != nil {
		return 0, "", err
	}

	resp, err := http.ReadResponse(conn.reader, nil)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return resp.StatusCode, resp.Status, nil
	}

	if isRedirectStatus(resp.StatusCode) {
		location := resp.Header.Get("Location")
		if location != "" {
			// Drain any body so the connection stays reusable.
			io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, resp.Status, &redirectError{location: location}
		}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, resp.Status, nil
	}

	chunk := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(req.Sink, resp.Body, chunk); err != nil {
		return resp.StatusCode, resp.Status, err
	}

	return resp.StatusCode, resp.Status, nil
}

// genericOpen is the fallback opener for when the scheme is not plain
// HTTP or no pooled connection is available (notably distribution: feeds
// and https). It reads the whole response into req.Sink and reports
// (200, "") on success; any other final status is returned with its
// status line and no error.
func genericOpen(ctx context.Context, client *retryablehttp.Client, req *Request) (status int, reason string, err error) {
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.Location, nil)
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Connection", "keep-alive")
	if req.ModTime != "" {
		httpReq.Header.Set("If-Modified-Since", req.ModTime)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return resp.StatusCode, resp.Status, nil
	}

	if isRedirectStatus(resp.StatusCode) {
		if location := resp.Header.Get("Location"); location != "" {
			io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, resp.Status, &redirectError{location: location}
		}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, resp.Status, nil
	}

	if _, err := io.Copy(req.Sink, resp.Body); err != nil {
		return resp.StatusCode, resp.Status, err
	}
	return http.StatusOK, "", nil
}
