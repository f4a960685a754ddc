package httpengine

import (
	"context"

	"github.com/llhls/client/pkg/hlsurl"
)

// Exists probes whether url still resolves to a usable resource: it
// performs a GET, discards the body, and reports false on any error
// (including a 404). Used by the playlist URL cache to re-validate a
// previously cached media-playlist URL before trusting it.
func Exists(ctx context.Context, agent *Agent, url hlsurl.URL) bool {
	t, err := NewTextRequest(ctx, agent, url)
	if err != nil {
		return false
	}
	defer t.Close()
	return true
}
