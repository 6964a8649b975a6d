// Package privaterange implements the predicate used to reject SSRF-capable
// targets: both at endpoint construction time and on every DNS resolution
// performed by the resolving dialer, since a hostname that resolves to a
// public address at construction time is free to rebind to a private one
// later.
//
// Grounded on internal/server's isPublicIP (which answers the opposite
// question — "is this safe to log as a real client IP" — for an ingest
// server sitting behind an ALB) but reworked around net/netip and extended
// to the full private/reserved table an outbound SSRF check needs (CGNAT,
// IPv6 ULA and link-local, and the IPv4-mapped-IPv6 unwrap rule).
package privaterange

import "net/netip"

var ipv4Ranges = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT, not to be confused with 100.128.0.0/9
	netip.MustParsePrefix("0.0.0.0/8"),
}

var ipv6Ranges = []netip.Prefix{
	netip.MustParsePrefix("fc00::/7"), // ULA
	netip.MustParsePrefix("fe80::/10"), // link-local
}

// IsPrivate reports whether the textual address s denotes a private,
// loopback, link-local, CGNAT, or otherwise non-publicly-routable address.
// Non-IP strings (bare hostnames that have not yet been resolved) return
// false — a hostname is not private by virtue of its name alone.
func IsPrivate(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return IsPrivateAddr(addr)
}

// IsPrivateAddr is the netip.Addr-typed form of IsPrivate, used by callers
// that already hold a parsed address (e.g. the resolving dialer, which
// resolves a hostname to a netip.Addr before dialing it).
func IsPrivateAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}

	if addr.Is4() {
		for _, r := range ipv4Ranges {
			if r.Contains(addr) {
				return true
			}
		}
		return false
	}

	if addr == netip.IPv6Loopback() {
		return true
	}
	for _, r := range ipv6Ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}
