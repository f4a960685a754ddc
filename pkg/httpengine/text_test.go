package httpengine

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llhls/client/pkg/hlsurl"
)

func TestTextRequest_ReloadsOnEachCall(t *testing.T) {
	// NewTextRequest performs the first fetch itself and consumes bodies[0];
	// the server closes every connection after one response.
	bodies := []string{"#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n", "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:1\n", "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:2\n"}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for i := 0; i < len(bodies); i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			readRequest(t, conn)
			body := bodies[i]
			fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
			conn.Close()
		}
	}()

	agent := NewAgent(Config{Retries: 1, Timeout: 2 * time.Second, UserAgent: "x"})
	tr, err := NewTextRequest(context.Background(), agent, hlsurl.New("http://"+ln.Addr().String()+"/playlist.m3u8"))
	require.NoError(t, err)
	defer tr.Close()

	tr.req.closeConn()
	require.NoError(t, tr.req.connect(context.Background()))
	first, err := tr.Text(context.Background())
	require.NoError(t, err)
	assert.Contains(t, first, "SEQUENCE:1")

	tr.req.closeConn()
	require.NoError(t, tr.req.connect(context.Background()))
	second, err := tr.Text(context.Background())
	require.NoError(t, err)
	assert.Contains(t, second, "SEQUENCE:2")
}
