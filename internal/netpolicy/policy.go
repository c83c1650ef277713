// Package netpolicy implements the Network Policy (C12): host-mediated
// TCP/TLS egress for the guest, with allow/block host matching,
// connection-count limits, and per-connection timeouts.
//
// Host filtering is by the TCP connect target only, never by any
// higher-level protocol header a guest might present after connecting —
// the guest cannot talk its way past a block by spoofing an HTTP Host
// header (spec.md §4.12).
package netpolicy

import (
	"net"
	"strings"
	"time"
)

// Policy is the caller-supplied configuration described in spec.md §3.
// A nil *Policy means networking is disabled entirely for the Sandbox
// (spec.md §4.12: "Networking is disabled unless a policy is attached").
type Policy struct {
	MaxConnections int
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	AllowedHosts   []string // glob set; empty means "allow anything not blocked"
	BlockedHosts   []string // glob set; defaults to loopback + RFC1918 if nil
	RootCAs        []byte   // PEM bundle for TLS verification, or nil for system roots
}

// DefaultBlockedHosts matches spec.md §4.12's "Default-blocked set
// includes loopback and RFC1918 ranges; callers must opt in to allow
// them."
var DefaultBlockedHosts = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"localhost",
}

// WithDefaults fills BlockedHosts with DefaultBlockedHosts if the caller
// left it nil, preserving an explicit empty slice as "no host is
// blocked by default".
func (p *Policy) WithDefaults() *Policy {
	if p == nil {
		return nil
	}
	cp := *p
	if cp.BlockedHosts == nil {
		cp.BlockedHosts = DefaultBlockedHosts
	}
	if cp.ConnectTimeout <= 0 {
		cp.ConnectTimeout = 10 * time.Second
	}
	if cp.IOTimeout <= 0 {
		cp.IOTimeout = 30 * time.Second
	}
	return &cp
}

func (p *Policy) allows(host string) bool {
	if matchesAnyHost(p.BlockedHosts, host) {
		return false
	}
	if len(p.AllowedHosts) == 0 {
		return true
	}
	return matchesAnyHost(p.AllowedHosts, host)
}

func matchesAnyHost(patterns []string, host string) bool {
	for _, pattern := range patterns {
		if matchesHost(pattern, host) {
			return true
		}
	}
	return false
}

// matchesHost implements exact, IP, CIDR, and "*.suffix" wildcard
// matching, grounded directly on the host-matching rules used by the
// control-plane egress policy this package generalizes.
func matchesHost(pattern, host string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.EqualFold(pattern, host) {
		return true
	}

	targetIP := net.ParseIP(host)
	if patternIP := net.ParseIP(pattern); patternIP != nil && targetIP != nil {
		return patternIP.Equal(targetIP)
	}
	if _, cidr, err := net.ParseCIDR(pattern); err == nil && targetIP != nil {
		return cidr.Contains(targetIP)
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix))
	}
	return false
}
