package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerSinkWritesToChildStdin(t *testing.T) {
	s, err := NewPlayerSink("cat", nil, "")
	require.NoError(t, err)

	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestPlayerSinkPassesDashArgumentThrough(t *testing.T) {
	// "echo" never reads stdin, so this only exercises starting the player
	// with a "-" argument and a clean exit, not the pipe.
	s, err := NewPlayerSink("echo", []string{"-"}, "https://example.com/playlist.m3u8")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestPlayerSinkDetectsBrokenPipe(t *testing.T) {
	// "true" exits immediately without reading stdin, so a write shortly
	// after start should observe the closed pipe.
	s, err := NewPlayerSink("true", nil, "")
	require.NoError(t, err)
	defer s.Close()

	var lastErr error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, lastErr = s.Write([]byte("x"))
		if lastErr != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.ErrorIs(t, lastErr, ErrPipeClosed)
}

func TestPlayerSinkNoKillLeavesProcessRunning(t *testing.T) {
	s, err := NewPlayerSink("cat", nil, "")
	require.NoError(t, err)
	s.NoKill = true
	require.NoError(t, s.Close())
	// The process is intentionally not waited on when NoKill is set;
	// nothing further to assert here beyond Close not blocking.
}
