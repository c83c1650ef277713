package netpolicy

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func startEchoServer(t *testing.T) (host string, port int, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	h, p, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return h, portNum, func() { ln.Close() }
}

func TestTable_ConnectReadWriteClose(t *testing.T) {
	host, port, stop := startEchoServer(t)
	defer stop()

	p := (&Policy{AllowedHosts: []string{host}, BlockedHosts: []string{}}).WithDefaults()
	table := NewTable(p)

	h, err := table.Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if table.Count() != 1 {
		t.Fatalf("expected 1 open connection, got %d", table.Count())
	}

	n, err := table.Write(context.Background(), h, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	n, err = table.Read(context.Background(), h, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected echo of 'hello', got %q", buf[:n])
	}

	table.Close(h)
	if table.Count() != 0 {
		t.Fatal("expected connection table empty after close")
	}
}

func TestTable_HostForTracksConnectTarget(t *testing.T) {
	host, port, stop := startEchoServer(t)
	defer stop()

	p := (&Policy{AllowedHosts: []string{host}, BlockedHosts: []string{}}).WithDefaults()
	table := NewTable(p)

	h, err := table.Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := table.HostFor(h); got != host {
		t.Fatalf("HostFor: expected %q, got %q", host, got)
	}

	table.Close(h)
	if got := table.HostFor(h); got != "" {
		t.Fatalf("HostFor after Close: expected empty, got %q", got)
	}
}

func TestTable_ConnectBlockedHost(t *testing.T) {
	p := (&Policy{}).WithDefaults()
	table := NewTable(p)

	_, err := table.Connect(context.Background(), "127.0.0.1", 9)
	if !errors.Is(err, ErrHostBlocked) {
		t.Fatalf("expected ErrHostBlocked, got %v", err)
	}
}

func TestTable_ReadOnUnownedHandleFails(t *testing.T) {
	p := (&Policy{}).WithDefaults()
	table := NewTable(p)
	_, err := table.Read(context.Background(), Handle(999), make([]byte, 1))
	if !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
}

func TestTable_MaxConnectionsEnforced(t *testing.T) {
	host, port, stop := startEchoServer(t)
	defer stop()

	p := (&Policy{AllowedHosts: []string{host}, BlockedHosts: []string{}, MaxConnections: 1}).WithDefaults()
	table := NewTable(p)

	if _, err := table.Connect(context.Background(), host, port); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	_, err := table.Connect(context.Background(), host, port)
	if !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
}

func TestTable_ConnectTimeout(t *testing.T) {
	p := (&Policy{AllowedHosts: []string{"203.0.113.1"}, BlockedHosts: []string{}, ConnectTimeout: 50 * time.Millisecond}).WithDefaults()
	table := NewTable(p)
	_, err := table.Connect(context.Background(), "203.0.113.1", 81)
	if err == nil {
		t.Fatal("expected an error connecting to a non-routable test address")
	}
}
