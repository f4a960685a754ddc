// Package transport establishes the byte-duplex connection the HTTP engine
// speaks over: plain TCP for http://, a TLS 1.2/1.3 client handshake for
// https://, and an optional SOCKS5 CONNECT hop in front of either.
//
// This deliberately bypasses net/http's own dialer. The HTTP engine needs
// to know exactly how many bytes were handed to its sink so it can resume a
// dropped connection mid-segment (see pkg/httpengine); net/http's
// RoundTripper abstraction does not expose that, so the dial/handshake
// logic lives here instead.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/llhls/client/pkg/hlsurl"
)

// Config controls how a Conn is established.
type Config struct {
	ForceIPv4 bool
	Timeout   time.Duration

	// Socks5Addr, if non-empty, routes the connection through a SOCKS5
	// proxy at this "host:port" before the TLS handshake (if any).
	Socks5Addr string

	// TLSConfig is used for https:// connections. A nil value causes
	// Dial to construct one with the system root pool.
	TLSConfig *tls.Config
}

// Conn is a byte-duplex pipe to one host, either plain TCP or TLS-wrapped.
type Conn interface {
	io.ReadWriteCloser
}

// Dial connects to the host:port named by u, applying cfg's IPv4/timeout
// policy, optional SOCKS5 hop, and TLS handshake for https.
func Dial(ctx context.Context, u hlsurl.URL, cfg Config) (Conn, error) {
	host, err := u.Host()
	if err != nil {
		return nil, err
	}
	port, err := u.Port()
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sock, err := dialTCP(ctx, host, port, cfg)
	if err != nil {
		return nil, err
	}

	if tcp, ok := sock.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			sock.Close()
			return nil, err
		}
	}
	deadline := time.Now().Add(timeout)
	if err := sock.SetReadDeadline(deadline); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetWriteDeadline(deadline); err != nil {
		sock.Close()
		return nil, err
	}

	switch u.Scheme {
	case hlsurl.SchemeHTTP:
		return sock, nil
	case hlsurl.SchemeHTTPS:
		tlsCfg := cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		} else if tlsCfg.ServerName == "" {
			clone := tlsCfg.Clone()
			clone.ServerName = host
			tlsCfg = clone
		}
		tlsConn := tls.Client(sock, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			sock.Close()
			return nil, fmt.Errorf("transport: TLS handshake to %s: %w", host, err)
		}
		return tlsConn, nil
	default:
		sock.Close()
		return nil, fmt.Errorf("transport: unsupported scheme for %s", u.String())
	}
}

func dialTCP(ctx context.Context, host string, port uint16, cfg Config) (net.Conn, error) {
	network := "tcp"
	if cfg.ForceIPv4 {
		network = "tcp4"
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	if cfg.Socks5Addr == "" {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}
		return conn, nil
	}

	proxyConn, err := dialer.DialContext(ctx, network, cfg.Socks5Addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial SOCKS5 proxy %s: %w", cfg.Socks5Addr, err)
	}
	conn, err := socks5Connect(proxyConn, host, port)
	if err != nil {
		proxyConn.Close()
		return nil, err
	}
	return conn, nil
}
