package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Throttle parameters. The first throttleFreeRequests requests in a
// window are served immediately; each request beyond that is delayed by
// one more throttleDelayStep.
const (
	throttleWindow       = 2 * time.Minute
	throttleFreeRequests = 5
	throttleDelayStep    = 10 * time.Second

	throttleCleanupInterval = 5 * time.Minute
	throttleStaleThreshold  = 10 * time.Minute
)

// unknownClient is the bucket for requests whose client identity cannot
// be determined. They share one throttle record.
const unknownClient = "unknown"

// usage tracks one client's request count inside the current window.
type usage struct {
	count       int
	windowStart time.Time
}

// throttle slows down chatty clients instead of rejecting them: requests
// past the free allowance are admitted after a growing delay. State is a
// mutex-guarded map; stale entries are evicted inline during admit.
type throttle struct {
	mu          sync.Mutex
	clients     map[string]*usage
	lastCleanup time.Time
}

func newThrottle() *throttle {
	return &throttle{
		clients:     make(map[string]*usage),
		lastCleanup: time.Now(),
	}
}

// admit records one request for clientID at time now and returns how
// long the caller should wait before serving it. The delay is zero for
// the first throttleFreeRequests requests in a window and grows by
// throttleDelayStep for each request after that. A window older than
// throttleWindow resets the client, counting the current request as the
// first.
func (t *throttle) admit(clientID string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastCleanup) > throttleCleanupInterval {
		for k, u := range t.clients {
			if now.Sub(u.windowStart) > throttleStaleThreshold {
				delete(t.clients, k)
			}
		}
		t.lastCleanup = now
	}

	u, ok := t.clients[clientID]
	if !ok {
		u = &usage{windowStart: now}
		t.clients[clientID] = u
	} else if now.Sub(u.windowStart) > throttleWindow {
		u.count = 0
		u.windowStart = now
	}

	u.count++
	if u.count <= throttleFreeRequests {
		return 0
	}
	return time.Duration(u.count-throttleFreeRequests) * throttleDelayStep
}

// throttleMiddleware delays requests per the throttle policy. The wait
// is cancellable: a client that disconnects while queued is dropped
// without consuming upstream resources.
func throttleMiddleware(t *throttle, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientID(r, trustProxy)
			delay := t.admit(client, time.Now())
			if delay > 0 {
				logger.Info("throttling request",
					"client", client,
					"delay", delay,
					"path", r.URL.Path,
				)
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-timer.C:
				case <-r.Context().Done():
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientID extracts the client identifier from the request.
//
// When trustProxy is true, the first X-Forwarded-For hop is used if it
// parses as an IP; header values are validated with net.ParseIP to keep
// arbitrary strings out of the throttle map. Otherwise the RemoteAddr
// host is used. Falls back to the shared "unknown" bucket.
func clientID(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(strings.TrimSpace(host)); ip != nil {
		return ip.String()
	}
	return unknownClient
}
