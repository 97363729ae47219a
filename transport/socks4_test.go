package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

// fakeSocks4Server accepts one connection, reads a CONNECT request, and
// replies with the given status byte.
func fakeSocks4Server(t *testing.T, status byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 256)
		n, err := conn.Read(buf)
		if err != nil || n < 8 || buf[0] != 0x04 || buf[1] != 0x01 {
			return
		}
		conn.Write([]byte{0x00, status, 0, 0, 0, 0, 0, 0})
	}()

	return ln.Addr().String()
}

func TestSocks4Dialer_ConnectGranted(t *testing.T) {
	addr := fakeSocks4Server(t, 0x5a)
	d := &socks4Dialer{addr: addr, forward: &net.Dialer{Timeout: time.Second}}

	conn, err := d.DialContext(context.Background(), "tcp", "93.184.216.34:80")
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	conn.Close()
}

func TestSocks4Dialer_ConnectRejected(t *testing.T) {
	addr := fakeSocks4Server(t, 0x5b)
	d := &socks4Dialer{addr: addr, forward: &net.Dialer{Timeout: time.Second}}

	_, err := d.DialContext(context.Background(), "tcp", "93.184.216.34:80")
	if err == nil {
		t.Fatal("expected error for rejected SOCKS4 connect")
	}
}

func TestSocks4Dialer_RejectsIPv6WithoutSocks4a(t *testing.T) {
	addr := fakeSocks4Server(t, 0x5a)
	d := &socks4Dialer{addr: addr, forward: &net.Dialer{Timeout: time.Second}}
	_, err := d.DialContext(context.Background(), "tcp", "[::1]:80")
	if err == nil {
		t.Fatal("expected error dialing an IPv6 target without socks4a")
	}
}
