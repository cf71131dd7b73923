package transport

import (
	"net"
	"sync"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

// maxTrackedSources bounds the per-source table. When it fills, the table is
// reset, which only ever makes the limiter more permissive.
const maxTrackedSources = 4096

// sourceLimiter applies a token bucket to handshakes from each source IP.
type sourceLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	sources map[string]*rate.Limiter
}

// newSourceLimiter returns nil when limit is not positive, which disables
// limiting.
func newSourceLimiter(limit rate.Limit, burst int) *sourceLimiter {
	if limit <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &sourceLimiter{
		limit:   limit,
		burst:   burst,
		sources: make(map[string]*rate.Limiter),
	}
}

// allow consumes one token for the host of addr.
func (s *sourceLimiter) allow(addr net.Addr) bool {
	if s == nil {
		return true
	}
	host := sourceHost(addr)

	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.sources[host]
	if !ok {
		if len(s.sources) >= maxTrackedSources {
			log.WithFields(logger.Fields{
				"at":      "(sourceLimiter) allow",
				"tracked": len(s.sources),
			}).Warn("source table full; resetting handshake limits")
			s.sources = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.sources[host] = limiter
	}
	return limiter.Allow()
}

func sourceHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
