// Package httpengine is the hand-rolled HTTP/1.1 request engine: it builds
// the wire request text itself, reads and classifies the status line, and
// streams the decoded body straight into a caller-supplied sink with
// byte-accurate resume across transport failures.
//
// It intentionally does not use net/http. net/http's RoundTripper hides
// exactly the two things this client needs to control: how many bytes have
// actually reached the sink (so a dropped connection can resume instead of
// restarting a multi-megabyte segment download), and when a connection is
// safe to keep alive versus must be torn down (an origin change, a
// force-https violation). Fighting net/http's transport pool to recover
// those guarantees would be more code than building the request loop
// directly against net/crypto/tls/bufio.
package httpengine

import (
	"crypto/tls"
	"time"
)

// Config is the agent-wide HTTP behavior, sourced from the stream config's
// HTTPConfig.
type Config struct {
	ForceHTTPS bool
	ForceIPv4  bool
	Retries    uint64
	Timeout    time.Duration
	UserAgent  string

	// Socks5Addr routes all connections through a SOCKS5 proxy at this
	// "host:port" if non-empty.
	Socks5Addr string

	// TLSConfig overrides the default TLS client config (root pool,
	// minimum version). Tests substitute InsecureSkipVerify here.
	TLSConfig *tls.Config
}

// Agent builds requests sharing this Config. It does not itself hold a
// live connection; each Request owns its own, since a media-playlist
// request and a segment-download request are almost never the same
// origin/lifetime and gain nothing from sharing a transport.
type Agent struct {
	cfg Config
}

// NewAgent constructs an Agent from cfg.
func NewAgent(cfg Config) *Agent {
	return &Agent{cfg: cfg}
}
