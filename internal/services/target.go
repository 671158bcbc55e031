package services

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// blockedHosts are rejected by exact hostname match
var blockedHosts = map[string]struct{}{
	"localhost":       {},
	"127.0.0.1":       {},
	"0.0.0.0":         {},
	"169.254.169.254": {}, // cloud metadata service
	"::1":             {},
	"[::1]":           {},
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// ErrBlockedAddress is returned by the dial guard for private destinations
var ErrBlockedAddress = errors.New("destination address is not allowed")

// TargetValidator classifies endpoint target URLs against the SSRF blocklist.
// Matching is done on the hostname only; DialGuard covers addresses that a
// public hostname resolves to.
type TargetValidator struct{}

// NewTargetValidator creates a new target validator
func NewTargetValidator() *TargetValidator {
	return &TargetValidator{}
}

// Validate returns nil for a safe URL, a KindMalformedTarget error when the URL
// cannot be used, and a KindUnsafeTarget error when it points at a blocked host.
func (v *TargetValidator) Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrMalformedTarget(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrMalformedTarget(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ErrMalformedTarget(errors.New("missing host"))
	}

	if _, ok := blockedHosts[host]; ok {
		return ErrUnsafeTarget(host + " is blocked")
	}
	if _, ok := blockedHosts["["+host+"]"]; ok {
		return ErrUnsafeTarget(host + " is blocked")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedIP(addr) {
			return ErrUnsafeTarget(host + " is a private IP address")
		}
		return nil
	}

	// Resolvers accept shorthand forms like 127.1 or 0x7f.1 that netip rejects.
	if looksNumeric(host) {
		return ErrUnsafeTarget(host + " is not a canonical IP address")
	}

	return nil
}

// IsBlockedIP reports whether addr is loopback, unspecified, private or link-local
func IsBlockedIP(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	if addr.IsUnspecified() || addr.IsLoopback() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func looksNumeric(host string) bool {
	if strings.HasPrefix(host, "0x") {
		return true
	}
	for _, r := range host {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// DialGuard is a net.Dialer Control function that refuses connections to
// blocked addresses after DNS resolution.
func DialGuard(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if IsBlockedIP(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}
