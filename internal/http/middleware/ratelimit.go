package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientSet tracks one token bucket per caller IP, sweeping buckets that
// have been quiet long enough to be forgotten.
type clientSet struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (s *clientSet) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[ip]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[ip] = bucket
	}
	bucket.lastSeen = time.Now()
	return bucket.limiter
}

func (s *clientSet) sweep(olderThan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, bucket := range s.buckets {
		if time.Since(bucket.lastSeen) > olderThan {
			delete(s.buckets, ip)
		}
	}
}

// RateLimit bounds how fast any single IP can hit the operator API.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}

	clients := &clientSet{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			clients.sweep(3 * time.Minute)
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !clients.get(clientIP(r.RemoteAddr)).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
