package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llhls/client/pkg/hlsurl"
)

func TestDial_Plain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("hello"))
	}()

	u := hlsurl.New("http://" + ln.Addr().String() + "/path")
	conn, err := Dial(context.Background(), u, Config{Timeout: time.Second})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hi!!!"))
	require.NoError(t, err)

	resp := make([]byte, 5)
	_, err = conn.Read(resp)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp))
}

func TestDial_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(nil)
	defer srv.Close()

	host := srv.Listener.Addr().String()
	u := hlsurl.New("https://" + host + "/")

	conn, err := Dial(context.Background(), u, Config{
		Timeout:   time.Second,
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
	})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "HTTP/1.1")
}

func TestDial_UnsupportedScheme(t *testing.T) {
	u := hlsurl.New("ftp://example.com/path")
	_, err := Dial(context.Background(), u, Config{Timeout: time.Second})
	assert.Error(t, err)
}

func TestDial_Socks5(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer target.Close()
	go func() {
		conn, err := target.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("via-proxy"))
	}()

	proxy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer proxy.Close()

	targetHost, targetPortStr, _ := net.SplitHostPort(target.Addr().String())
	_ = targetHost

	go serveFakeSocks5(t, proxy, target.Addr().String())

	u := hlsurl.New("http://" + targetHost + ":" + targetPortStr + "/")
	conn, err := Dial(context.Background(), u, Config{
		Timeout:    time.Second,
		Socks5Addr: proxy.Addr().String(),
	})
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, len("via-proxy"))
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "via-proxy", string(buf))
}

// serveFakeSocks5 accepts one connection, performs the no-auth handshake and
// CONNECT reply, then pipes bytes from relayTo, standing in for a real
// SOCKS5 server for the purpose of exercising socks5Connect's wire format.
func serveFakeSocks5(t *testing.T, ln net.Listener, relayTo string) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	handshake := make([]byte, 3)
	if _, err := conn.Read(handshake); err != nil {
		return
	}
	if _, err := conn.Write([]byte{socks5Version, socks5NoAuth}); err != nil {
		return
	}

	header := make([]byte, 5)
	if _, err := conn.Read(header); err != nil {
		return
	}
	domainLen := int(header[4])
	domain := make([]byte, domainLen+2)
	if _, err := conn.Read(domain); err != nil {
		return
	}

	reply := make([]byte, connectRequestRespLen)
	reply[0] = socks5Version
	reply[1] = socks5Success
	if _, err := conn.Write(reply); err != nil {
		return
	}

	upstream, err := net.Dial("tcp", relayTo)
	if err != nil {
		return
	}
	defer upstream.Close()

	buf := make([]byte, 256)
	n, err := upstream.Read(buf)
	if err != nil {
		return
	}
	_, _ = conn.Write(buf[:n])
}
