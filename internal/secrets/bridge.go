package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

const placeholderPrefix = "SECRET_PLACEHOLDER_"

// Bound is one secret bound into a single Sandbox: its real value, the
// hosts it may travel to on egress, and the random placeholder the guest
// is allowed to see (spec.md §3 "Secret", §4.13).
type Bound struct {
	Name         string
	Value        string
	AllowedHosts []string
	Placeholder  string
}

// Bridge holds the per-sandbox secret bindings and performs the two
// crossings spec.md §4.13 defines: exposing placeholders into the guest
// environment, and rewriting placeholders back to real values on egress
// writes to an allowed host. It never hands a real value to anything but
// EgressRewrite for an explicitly allowed destination.
type Bridge struct {
	mu     sync.RWMutex
	byName map[string]*Bound
	// byPlaceholder lets Scrubber and EgressRewrite find a binding from
	// bytes observed on the wire or in output without a linear scan.
	byPlaceholder map[string]*Bound
}

// NewBridge builds a Bridge by minting one unguessable placeholder per
// secret. Each Bridge (and therefore each Sandbox) gets independently
// random placeholders, so a guest cannot predict another sandbox's
// placeholder even if it somehow observed this sandbox's values.
func NewBridge(secrets []Secret) (*Bridge, error) {
	b := &Bridge{
		byName:        make(map[string]*Bound, len(secrets)),
		byPlaceholder: make(map[string]*Bound, len(secrets)),
	}
	for _, s := range secrets {
		placeholder, err := randomPlaceholder()
		if err != nil {
			return nil, fmt.Errorf("mint placeholder for %q: %w", s.Name, err)
		}
		bound := &Bound{
			Name:         s.Name,
			Value:        s.Value,
			AllowedHosts: s.AllowedHosts,
			Placeholder:  placeholder,
		}
		b.byName[s.Name] = bound
		b.byPlaceholder[placeholder] = bound
	}
	return b, nil
}

func randomPlaceholder() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return placeholderPrefix + hex.EncodeToString(nonce), nil
}

// Secret is the caller-supplied definition a Builder attaches to a
// Sandbox before execution (spec.md §3).
type Secret struct {
	Name         string
	Value        string
	AllowedHosts []string
}

// GuestEnv returns the name=placeholder pairs the guest's environment
// should be populated with. Real values never appear here.
func (b *Bridge) GuestEnv() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env := make(map[string]string, len(b.byName))
	for name, bound := range b.byName {
		env[name] = bound.Placeholder
	}
	return env
}

// EgressRewrite scans outgoing bytes for any known placeholder. If found
// and destHost matches that secret's AllowedHosts, the placeholder is
// replaced with the real value before the bytes reach the network;
// otherwise the placeholder is passed through unchanged (spec.md §4.13
// step 3, scenario 7 in spec.md §8).
func (b *Bridge) EgressRewrite(destHost string, data []byte) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.byPlaceholder) == 0 {
		return data
	}
	out := string(data)
	for placeholder, bound := range b.byPlaceholder {
		if !containsHost(bound.AllowedHosts, destHost) {
			continue
		}
		out = strings.ReplaceAll(out, placeholder, bound.Value)
	}
	return []byte(out)
}

// Placeholders returns every placeholder string currently bound, for use
// by Scrubber when redacting captured output and VFS writes.
func (b *Bridge) Placeholders() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.byPlaceholder))
	for p := range b.byPlaceholder {
		out = append(out, p)
	}
	return out
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if h == host {
			return true
		}
	}
	return false
}
