package fetchworker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/llhls/client/pkg/hlsurl"
	"github.com/llhls/client/pkg/httpengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequest struct {
	mu      sync.Mutex
	calls   []string
	nextErr error
	closed  bool
}

func (r *fakeRequest) Call(ctx context.Context, url hlsurl.URL) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, url.String())
	err := r.nextErr
	r.nextErr = nil
	return err
}

func (r *fakeRequest) Close() error {
	r.closed = true
	return nil
}

type discardSink struct{ data []byte }

func (s *discardSink) Write(p []byte) (int, error) {
	s.data = append(s.data, p...)
	return len(p), nil
}
func (s *discardSink) Flush() error { return nil }

func withFakeRequest(t *testing.T, fr *fakeRequest) {
	t.Helper()
	orig := newWriterRequest
	newWriterRequest = func(ctx context.Context, agent *httpengine.Agent, sink Sink, url hlsurl.URL) (request, error) {
		fr.calls = append(fr.calls, "NEW:"+url.String())
		return fr, nil
	}
	t.Cleanup(func() { newWriterRequest = orig })
}

func TestWorkerProcessesURLsInOrder(t *testing.T) {
	fr := &fakeRequest{}
	withFakeRequest(t, fr)

	w := New(nil, &discardSink{}, nil)
	require.NoError(t, w.URL("https://example.com/s1.ts"))
	require.NoError(t, w.URL("https://example.com/s2.ts"))

	sink, err := w.Join()
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.Equal(t, []string{"NEW:https://example.com/s1.ts", "https://example.com/s2.ts"}, fr.calls)
}

func TestSyncURLBlocksUntilReceived(t *testing.T) {
	fr := &fakeRequest{}
	withFakeRequest(t, fr)

	w := New(nil, &discardSink{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := w.SyncURL(ctx, "https://example.com/p1.ts")
	require.NoError(t, err)

	_, err = w.Join()
	require.NoError(t, err)
	assert.Equal(t, []string{"NEW:https://example.com/p1.ts"}, fr.calls)
}

func TestNotFoundDrainsQueueAndContinues(t *testing.T) {
	fr := &fakeRequest{}
	withFakeRequest(t, fr)

	w := New(nil, &discardSink{}, nil)
	require.NoError(t, w.URL("https://example.com/s1.ts"))

	// Wait for the first call to land before queuing the NotFound + the
	// stale follow-ups that should get drained.
	time.Sleep(20 * time.Millisecond)
	fr.mu.Lock()
	fr.nextErr = &httpengine.NotFoundError{URL: "https://example.com/s2.ts"}
	fr.mu.Unlock()

	require.NoError(t, w.URL("https://example.com/s2.ts"))
	require.NoError(t, w.URL("https://example.com/stale1.ts"))
	require.NoError(t, w.URL("https://example.com/stale2.ts"))

	sink, err := w.Join()
	require.NoError(t, err)
	require.NotNil(t, sink)
}

func TestFatalErrorTerminatesWorker(t *testing.T) {
	fr := &fakeRequest{}
	withFakeRequest(t, fr)

	w := New(nil, &discardSink{}, nil)
	require.NoError(t, w.URL("https://example.com/s1.ts"))
	time.Sleep(20 * time.Millisecond)

	fr.mu.Lock()
	fr.nextErr = errors.New("connection reset")
	fr.mu.Unlock()
	require.NoError(t, w.URL("https://example.com/s2.ts"))

	_, err := w.Join()
	require.Error(t, err)
	assert.True(t, fr.closed)
}

func TestURLAfterDeathReturnsErrDead(t *testing.T) {
	fr := &fakeRequest{}
	withFakeRequest(t, fr)

	w := New(nil, &discardSink{}, nil)
	_, err := w.Join()
	require.NoError(t, err)

	err = w.URL("https://example.com/s1.ts")
	assert.ErrorIs(t, err, ErrDead)
}
