package resolver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"
)

type fakeDialer struct {
	calls []string
}

func (f *fakeDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	f.calls = append(f.calls, address)
	return &net.TCPConn{}, nil
}

func newTestResolver(addrs []netip.Addr, dialer Dialer, now func() time.Time) *Resolving {
	lookups := 0
	r := &Resolving{
		cache: make(map[string]cacheEntry),
		dialer: dialer,
		now:    now,
	}
	r.lookup = func(_ context.Context, _ string) ([]netip.Addr, error) {
		lookups++
		return addrs, nil
	}
	return r
}

func TestDialContext_RejectsPrivateResolvedAddress(t *testing.T) {
	addrs := []netip.Addr{netip.MustParseAddr("10.0.0.5")}
	r := newTestResolver(addrs, &fakeDialer{}, time.Now)

	_, err := r.DialContext(context.Background(), "tcp", "attacker.example:443")
	if err == nil {
		t.Fatal("expected SSRF error for private resolved address")
	}
	var ssrfErr *SSRFError
	if !asSSRFError(err, &ssrfErr) {
		t.Fatalf("expected *SSRFError, got %T: %v", err, err)
	}
}

func asSSRFError(err error, target **SSRFError) bool {
	if e, ok := err.(*SSRFError); ok {
		*target = e
		return true
	}
	return false
}

func TestDialContext_AllowsPublicResolvedAddress(t *testing.T) {
	addrs := []netip.Addr{netip.MustParseAddr("1.1.1.1")}
	fd := &fakeDialer{}
	r := newTestResolver(addrs, fd, time.Now)

	_, err := r.DialContext(context.Background(), "tcp", "example.com:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fd.calls) != 1 {
		t.Fatalf("expected exactly one dial, got %d", len(fd.calls))
	}
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	lookups := 0

	r := &Resolving{
		cache: make(map[string]cacheEntry),
		dialer: &fakeDialer{},
		now:    clock,
	}
	r.lookup = func(_ context.Context, _ string) ([]netip.Addr, error) {
		lookups++
		return []netip.Addr{netip.MustParseAddr("1.1.1.1")}, nil
	}

	if _, err := r.resolve(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.resolve(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}
	if lookups != 1 {
		t.Fatalf("expected 1 lookup (cached second call), got %d", lookups)
	}

	now = now.Add(61 * time.Second)
	if _, err := r.resolve(context.Background(), "example.com"); err != nil {
		t.Fatal(err)
	}
	if lookups != 2 {
		t.Fatalf("expected 2 lookups after TTL expiry, got %d", lookups)
	}
}

func TestDialContext_RejectsLiteralPrivateAddress(t *testing.T) {
	r := newTestResolver(nil, &fakeDialer{}, time.Now)
	_, err := r.DialContext(context.Background(), "tcp", "127.0.0.1:443")
	if err == nil {
		t.Fatal("expected literal private address to be rejected")
	}
}
