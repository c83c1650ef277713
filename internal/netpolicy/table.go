package netpolicy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/oriys/eryx/internal/metrics"
)

// Handle is the opaque per-sandbox connection identifier the guest sees
// (spec.md §3 "Connection Handle"). It is only meaningful to the Table
// that issued it.
type Handle uint32

// Table tracks every open connection for one Sandbox/Session, enforcing
// the operations in spec.md §4.12. It is the host-side implementation
// behind the guest's typed net.tcp.*/net.tls.* imports (spec.md §6).
type Table struct {
	policy *Policy

	mu      sync.Mutex
	conns   map[Handle]net.Conn
	hosts   map[Handle]string
	nextH   atomic.Uint32
	rootCAs *x509.CertPool
}

// NewTable creates a connection table enforcing policy. policy.WithDefaults()
// should already have been applied by the caller (sandboxrt.ExecuteOn).
func NewTable(policy *Policy) *Table {
	t := &Table{policy: policy, conns: make(map[Handle]net.Conn), hosts: make(map[Handle]string)}
	if len(policy.RootCAs) > 0 {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM(policy.RootCAs) {
			t.rootCAs = pool
		}
	}
	return t
}

// Connect opens a TCP connection to host:port, subject to the policy's
// allow/block lists and connection-count cap (spec.md §4.12 "connect").
func (t *Table) Connect(ctx context.Context, host string, port int) (Handle, error) {
	if !t.policy.allows(host) {
		metrics.Global().RecordNetworkConnection("denied")
		return 0, fmt.Errorf("%w: %s", ErrHostBlocked, host)
	}

	t.mu.Lock()
	if t.policy.MaxConnections > 0 && len(t.conns) >= t.policy.MaxConnections {
		t.mu.Unlock()
		metrics.Global().RecordNetworkConnection("denied")
		return 0, ErrTooManyConnections
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, t.policy.ConnectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		metrics.Global().RecordNetworkConnection("failed")
		if dialCtx.Err() != nil {
			return 0, ErrConnectTimeout
		}
		if _, ok := err.(*net.DNSError); ok {
			return 0, fmt.Errorf("%w: %v", ErrNameResolution, err)
		}
		return 0, fmt.Errorf("connect: %w", err)
	}

	metrics.Global().RecordNetworkConnection("allowed")
	return t.register(conn, host), nil
}

func (t *Table) register(conn net.Conn, host string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := Handle(t.nextH.Add(1))
	t.conns[h] = conn
	t.hosts[h] = host
	return h
}

// HostFor returns the connect target host for handle (empty if handle
// is unknown), so the secrets Bridge's egress rewrite (spec.md §4.13
// step 3) can test it against a secret's allowed-hosts without the
// network host-import layer needing to track that mapping itself.
func (t *Table) HostFor(h Handle) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hosts[h]
}

// Read reads up to len(buf) bytes from handle. A short read is not an
// error (spec.md §4.12 "read").
func (t *Table) Read(ctx context.Context, h Handle, buf []byte) (int, error) {
	conn, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(deadlineFrom(t.policy.IOTimeout))
	}
	n, err := conn.Read(buf)
	if isTimeout(err) {
		return n, ErrIOTimeout
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return n, nil
}

// Write writes data to handle, returning the number of bytes actually
// written (spec.md §4.12 "write").
func (t *Table) Write(ctx context.Context, h Handle, data []byte) (int, error) {
	conn, err := t.lookup(h)
	if err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(deadlineFrom(t.policy.IOTimeout))
	}
	n, err := conn.Write(data)
	if isTimeout(err) {
		return n, ErrIOTimeout
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return n, nil
}

// TLSUpgrade performs a client TLS handshake over an existing TCP handle
// and returns a new handle for the TLS stream; the underlying TCP handle
// is retained internally, not exposed again (spec.md §4.12 "tls-upgrade").
func (t *Table) TLSUpgrade(ctx context.Context, h Handle, sni string) (Handle, error) {
	conn, err := t.lookup(h)
	if err != nil {
		return 0, err
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: sni,
		RootCAs:    t.rootCAs,
		MinVersion: tls.VersionTLS12,
	})
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		if _, ok := err.(*tls.CertificateVerificationError); ok {
			return 0, fmt.Errorf("%w: %v", ErrCertVerify, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrTLSHandshake, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, h)
	newH := Handle(t.nextH.Add(1))
	t.conns[newH] = tlsConn
	t.hosts[newH] = t.hosts[h]
	delete(t.hosts, h)
	return newH, nil
}

// Close closes handle and removes it from the table. Closing an unknown
// or already-closed handle is a no-op, matching the teacher's
// Delete-is-idempotent convention elsewhere in this codebase.
func (t *Table) Close(h Handle) {
	t.mu.Lock()
	conn, ok := t.conns[h]
	delete(t.conns, h)
	delete(t.hosts, h)
	t.mu.Unlock()
	if ok {
		_ = conn.Close()
	}
}

// CloseAll closes every open connection; called at the end of execute()
// so no connection handle outlives the call that opened it (spec.md §4.7
// guarantee 2).
func (t *Table) CloseAll() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[Handle]net.Conn)
	t.hosts = make(map[Handle]string)
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Count reports the number of open handles, for Stats/metrics.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Table) lookup(h Handle) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[h]
	if !ok {
		return nil, ErrNotOwned
	}
	return conn, nil
}
