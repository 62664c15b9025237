package chaos

import (
	"net/http"
	"strings"
	"sync"
)

// Faults makes the first requests to every data endpoint path fail, alternating
// between a 503 with Retry-After and a dropped connection. Each path fails
// exactly PerPath times, so a client that retries at least PerPath+1 times
// always gets through regardless of how requests interleave.
type Faults struct {
	PerPath int

	mu       sync.Mutex
	seen     map[string]int
	injected int
}

func NewFaults(perPath int) *Faults {
	return &Faults{PerPath: perPath, seen: map[string]int{}}
}

// Injected returns how many faults were served.
func (f *Faults) Injected() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected
}

func (f *Faults) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/restapi/") {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Path + "?" + r.URL.RawQuery
		f.mu.Lock()
		n := f.seen[key]
		f.seen[key] = n + 1
		inject := n < f.PerPath
		if inject {
			f.injected++
		}
		f.mu.Unlock()

		switch {
		case !inject:
			next.ServeHTTP(w, r)
		case n%2 == 0:
			w.Header().Set("Retry-After", "0")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		default:
			dropConnection(w)
		}
	})
}

// dropConnection closes the TCP connection without writing a response.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

// InterruptOn calls cancel when a request for path arrives, before serving it.
func InterruptOn(path string, cancel func()) func(http.Handler) http.Handler {
	var once sync.Once
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				once.Do(cancel)
			}
			next.ServeHTTP(w, r)
		})
	}
}
