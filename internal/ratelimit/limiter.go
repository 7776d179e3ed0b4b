// Package ratelimit implements the per-client fixed-window request limiter.
//
// Each client IP gets one counter per wall-clock minute, stored in the shared
// cache under rl:md5(ip):floor(now/60). The counter lives 70 seconds: the
// 60-second window plus slack so a bucket straddling a minute boundary is
// still readable. The read-increment-write sequence is not atomic; under
// concurrent bursts a few extra requests may slip through, which is accepted.
package ratelimit

import (
	"context"
	"crypto/md5"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parsegate/parsegate/internal/cache"
)

const (
	windowSeconds = 60
	bucketTTL     = 70 * time.Second
)

type Limiter struct {
	store cache.Store
	limit int
}

// New creates a limiter allowing limit requests per client per minute.
func New(store cache.Store, limit int) *Limiter {
	return &Limiter{store: store, limit: limit}
}

// Limit returns the configured per-minute limit.
func (l *Limiter) Limit() int {
	return l.limit
}

// Allow records one request for ip at now and reports whether it is within
// the limit. The returned count includes the current request.
func (l *Limiter) Allow(ctx context.Context, ip string, now time.Time) (count int, allowed bool) {
	key := bucketKey(ip, now)

	if raw, ok := l.store.Get(ctx, key); ok {
		count, _ = strconv.Atoi(raw)
	}
	count++

	l.store.Set(ctx, key, strconv.Itoa(count), bucketTTL)

	return count, count <= l.limit
}

func bucketKey(ip string, now time.Time) string {
	return fmt.Sprintf("rl:%x:%d", md5.Sum([]byte(ip)), now.Unix()/windowSeconds)
}

// ClientIP resolves the caller's address from proxy headers, falling back to
// the transport peer. Resolution order: CF-Connecting-IP, X-Real-IP, the
// first entry of X-Forwarded-For, then RemoteAddr. Returns "unknown" when
// nothing resolves.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}

	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0]); first != "" {
			return first
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
