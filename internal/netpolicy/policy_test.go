package netpolicy

import "testing"

func TestPolicy_DefaultBlocksLoopback(t *testing.T) {
	p := (&Policy{}).WithDefaults()
	if p.allows("127.0.0.1") {
		t.Fatal("expected loopback blocked by default")
	}
	if p.allows("localhost") {
		t.Fatal("expected localhost blocked by default")
	}
	if p.allows("10.1.2.3") {
		t.Fatal("expected RFC1918 range blocked by default")
	}
}

func TestPolicy_AllowListRestrictsToNamedHosts(t *testing.T) {
	p := (&Policy{AllowedHosts: []string{"api.example.com", "*.trusted.io"}}).WithDefaults()

	if !p.allows("api.example.com") {
		t.Fatal("expected exact allow-listed host to be allowed")
	}
	if !p.allows("sub.trusted.io") {
		t.Fatal("expected wildcard suffix match to be allowed")
	}
	if p.allows("evil.example.com") {
		t.Fatal("expected host outside allow list to be blocked")
	}
}

func TestPolicy_BlockListOverridesAllowList(t *testing.T) {
	p := (&Policy{
		AllowedHosts: []string{"*"},
		BlockedHosts: []string{"blocked.example.com"},
	}).WithDefaults()

	if p.allows("blocked.example.com") {
		t.Fatal("expected explicit block to win over a wildcard allow")
	}
	if !p.allows("other.example.com") {
		t.Fatal("expected wildcard allow to cover everything else")
	}
}

func TestPolicy_CIDRMatch(t *testing.T) {
	p := (&Policy{BlockedHosts: []string{"203.0.113.0/24"}}).WithDefaults()
	if p.allows("203.0.113.42") {
		t.Fatal("expected CIDR-blocked IP to be blocked")
	}
	if !p.allows("203.0.114.1") {
		t.Fatal("expected IP outside CIDR to be allowed")
	}
}

func TestPolicy_NilDisablesNetworkingIsCallerResponsibility(t *testing.T) {
	var p *Policy
	if p.WithDefaults() != nil {
		t.Fatal("expected WithDefaults on a nil policy to stay nil")
	}
}
