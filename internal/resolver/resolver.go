// Package resolver implements the resolving dialer: a DialContext hook
// installed on the HTTPS transport that resolves hostnames itself (instead
// of letting the transport resolve-and-dial opaquely), caches successful
// resolutions for 60 seconds per host, and rejects any resolved address
// that falls in the private-address table — on every dial, cached or not,
// since a hostname trusted as public at construction time can still rebind
// to a private address later (DNS rebinding).
//
// Grounded on the habit of wrapping a client in a small composable hook
// object (internal/worker/s3_uploader.go's S3Uploader wrapping *s3.Client)
// and on a pluggable Dialer interface defaulting to *net.Dialer for
// testability.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/estat-sh/telemetry-go/internal/privaterange"
)

// SSRFError is returned when every address a hostname resolved to falls in
// the private-address table.
type SSRFError struct {
	Host string
	Addr string
}

func (e *SSRFError) Error() string {
	return fmt.Sprintf("resolver: refusing to dial %q: resolved address %s is in a private range", e.Host, e.Addr)
}

const cacheTTL = 60 * time.Second

type cacheEntry struct {
	addrs  []netip.Addr
	expiry time.Time
}

// Dialer is the subset of *net.Dialer the resolving dialer needs, so tests
// can substitute a fake without opening real sockets.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolving wraps the system resolver with a per-host TTL cache and
// installs the private-address check on every dial.
type Resolving struct {
	mu    sync.Mutex
	cache map[string]cacheEntry

	lookup func(ctx context.Context, host string) ([]netip.Addr, error)
	dialer Dialer
	now    func() time.Time
}

// New creates a Resolving dialer using the system resolver and a plain
// *net.Dialer for the actual connection.
func New() *Resolving {
	return &Resolving{
		cache: make(map[string]cacheEntry),
		lookup: func(ctx context.Context, host string) ([]netip.Addr, error) {
			ipAddrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			return ipAddrs, nil
		},
		dialer: &net.Dialer{},
		now:    time.Now,
	}
}

// DialContext implements the http.Transport.DialContext hook shape.
func (r *Resolving) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("resolver: invalid address %q: %w", address, err)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		// Already a literal address — no resolution to cache, but still
		// subject to the private-range check.
		if privaterange.IsPrivateAddr(addr) {
			return nil, &SSRFError{Host: host, Addr: addr.String()}
		}
		return r.dialer.DialContext(ctx, network, address)
	}

	addrs, err := r.resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, addr := range addrs {
		if privaterange.IsPrivateAddr(addr) {
			lastErr = &SSRFError{Host: host, Addr: addr.String()}
			continue
		}
		dialAddr := net.JoinHostPort(addr.String(), port)
		conn, err := r.dialer.DialContext(ctx, network, dialAddr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("resolver: no addresses resolved for %q", host)
	}
	return nil, lastErr
}

func (r *Resolving) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	r.mu.Lock()
	entry, ok := r.cache[host]
	if ok && r.now().Before(entry.expiry) {
		r.mu.Unlock()
		return entry.addrs, nil
	}
	r.mu.Unlock()

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup %q: %w", host, err)
	}

	r.mu.Lock()
	r.cache[host] = cacheEntry{addrs: addrs, expiry: r.now().Add(cacheTTL)}
	r.mu.Unlock()

	return addrs, nil
}
