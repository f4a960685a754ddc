package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	socks5Version      = 0x05
	socks5NoAuth       = 0x00
	socks5Connect      = 0x01
	socks5AddrDomain   = 0x03
	socks5Reserved     = 0x00
	socks5Success      = 0x00
	handshakeRespLen   = 2
	connectRequestRespLen = 10
)

// socks5Connect performs the SOCKS5 no-auth CONNECT handshake over conn,
// asking the proxy to open a connection to host:port. conn is returned
// unchanged on success; the proxy relays raw bytes over it from this point
// on (the caller layers TLS on top for https targets).
func socks5Connect(conn net.Conn, host string, port uint16) (net.Conn, error) {
	if _, err := conn.Write([]byte{socks5Version, 0x01, socks5NoAuth}); err != nil {
		return nil, fmt.Errorf("transport: SOCKS5 handshake write: %w", err)
	}

	handshakeResp := make([]byte, handshakeRespLen)
	if _, err := io.ReadFull(conn, handshakeResp); err != nil {
		return nil, fmt.Errorf("transport: SOCKS5 handshake read: %w", err)
	}
	if handshakeResp[0] != socks5Version || handshakeResp[1] != socks5NoAuth {
		return nil, fmt.Errorf("transport: invalid SOCKS5 handshake response %x", handshakeResp)
	}

	if len(host) > 0xff {
		return nil, fmt.Errorf("transport: SOCKS5 target host too long: %q", host)
	}

	req := make([]byte, 0, 5+len(host)+2)
	req = append(req, socks5Version, socks5Connect, socks5Reserved, socks5AddrDomain, byte(len(host)))
	req = append(req, host...)
	req = binary.BigEndian.AppendUint16(req, port)

	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("transport: SOCKS5 request write: %w", err)
	}

	resp := make([]byte, connectRequestRespLen)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return nil, fmt.Errorf("transport: SOCKS5 request read: %w", err)
	}
	if resp[0] != socks5Version || resp[1] != socks5Success {
		return nil, fmt.Errorf("transport: SOCKS5 CONNECT failed, reply code %#x", resp[1])
	}

	return conn, nil
}
