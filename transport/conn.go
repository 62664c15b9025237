package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	maxIdleConnsPerHost = 16
	idleConnTimeout     = 90 * time.Second
	keepAlive           = 30 * time.Second
)

// ErrIdleTimeout is returned by a response body that received no data for
// longer than the configured timeout.
var ErrIdleTimeout = errors.New("transport: response body idle timeout")

// NewHTTPClient constructs the pooled HTTP client shared by every call of a run.
// The timeout bounds each phase separately (connect, TLS handshake, waiting
// for response headers, and every body read) so a large document that keeps
// streaming is never cut off.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("transport: non-positive timeout %s", timeout)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: keepAlive}).DialContext
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	tr.MaxIdleConnsPerHost = maxIdleConnsPerHost
	tr.MaxIdleConns = maxIdleConnsPerHost * 2
	tr.IdleConnTimeout = idleConnTimeout

	return &http.Client{
		Transport: &idleTimeoutTransport{base: tr, idle: timeout},
	}, nil
}

// idleTimeoutTransport aborts a response whose body stalls for longer than idle.
type idleTimeoutTransport struct {
	base http.RoundTripper
	idle time.Duration
}

func (t *idleTimeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	body := &idleReader{rc: resp.Body, idle: t.idle, cancel: cancel}
	body.timer = time.AfterFunc(t.idle, body.expire)
	body.timer.Stop()
	resp.Body = body
	return resp, nil
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the pool.
func (t *idleTimeoutTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// idleReader arms its timer only while a Read is blocked.
type idleReader struct {
	rc      io.ReadCloser
	idle    time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func (r *idleReader) expire() {
	r.expired.Store(true)
	r.cancel()
}

func (r *idleReader) Read(p []byte) (int, error) {
	r.timer.Reset(r.idle)
	n, err := r.rc.Read(p)
	r.timer.Stop()
	if err != nil && err != io.EOF && r.expired.Load() {
		return n, fmt.Errorf("%w after %s: %v", ErrIdleTimeout, r.idle, err)
	}
	return n, err
}

func (r *idleReader) Close() error {
	r.timer.Stop()
	err := r.rc.Close()
	r.cancel()
	return err
}
