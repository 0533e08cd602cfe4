package preview

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"
)

// authLimiter counts failed bearer checks per client IP. A client over the
// limit is refused until its window ends.
type authLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	fails map[string]*failCount
}

type failCount struct {
	n     int
	start time.Time
}

func newAuthLimiter(limit int, window time.Duration) *authLimiter {
	return &authLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		fails:  make(map[string]*failCount),
	}
}

func (a *authLimiter) blocked(ip string) bool {
	if a.limit <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fails[ip]
	if !ok {
		return false
	}
	if a.now().Sub(f.start) >= a.window {
		delete(a.fails, ip)
		return false
	}
	return f.n >= a.limit
}

func (a *authLimiter) fail(ip string) {
	if a.limit <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.sweepLocked(now)
	f, ok := a.fails[ip]
	if !ok || now.Sub(f.start) >= a.window {
		a.fails[ip] = &failCount{n: 1, start: now}
		return
	}
	f.n++
}

// sweepLocked forgets clients whose window has ended.
func (a *authLimiter) sweepLocked(now time.Time) {
	for ip, f := range a.fails {
		if now.Sub(f.start) >= a.window {
			delete(a.fails, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkAuth verifies the bearer token and writes the error reply when it
// does not match.
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r)
	if s.auth.blocked(ip) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return false
	}
	want := "Bearer " + s.cfg.Token
	got := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1 {
		return true
	}
	s.auth.fail(ip)
	s.log.WithField("ip", ip).Debug("preview: auth failed")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}
