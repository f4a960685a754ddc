// Package hlsurl provides a lightweight URL value type for the HLS client's
// transport and playlist layers.
//
// Unlike net/url.URL, this type keeps the original string intact and only
// derives scheme/host/port/path views from it lazily, on demand. The HTTP
// engine never needs to reconstruct a URL from components; it only ever
// needs to read them off an opaque string it was handed from a playlist, so
// a full parse-and-rebuild round trip would be wasted work and a source of
// subtle query-string mangling.
package hlsurl

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Scheme identifies the transport scheme of a URL.
type Scheme int

const (
	// SchemeUnknown is the zero value; Host/Port/Path are unusable until a
	// recognized scheme is present.
	SchemeUnknown Scheme = iota
	SchemeHTTP
	SchemeHTTPS
)

// String returns the lowercase scheme name, or "<unknown>".
func (s Scheme) String() string {
	switch s {
	case SchemeHTTP:
		return "http"
	case SchemeHTTPS:
		return "https"
	default:
		return "<unknown>"
	}
}

func schemeOf(raw string) Scheme {
	scheme, _, ok := strings.Cut(raw, ":")
	if !ok {
		return SchemeUnknown
	}
	switch scheme {
	case "http":
		return SchemeHTTP
	case "https":
		return SchemeHTTPS
	default:
		return SchemeUnknown
	}
}

// URL is a string-backed HLS resource locator. The zero value is an empty,
// unknown-scheme URL.
type URL struct {
	Scheme Scheme
	raw    string
}

// New wraps a raw URL string, detecting its scheme.
func New(raw string) URL {
	return URL{Scheme: schemeOf(raw), raw: raw}
}

// String returns the original, unmodified URL string.
func (u URL) String() string {
	return u.raw
}

// IsZero reports whether this is the empty URL value.
func (u URL) IsZero() bool {
	return u.raw == ""
}

// Host returns the hostname component, IDNA-normalized, without a port.
func (u URL) Host() (string, error) {
	parts := strings.SplitN(u.raw, "/", 4)
	if len(parts) < 3 {
		return "", fmt.Errorf("hlsurl: failed to parse host in %q", u.raw)
	}
	hostport := parts[2]
	host, _, found := strings.Cut(hostport, ":")
	if !found {
		host = hostport
	}
	normalized, err := idna.Lookup.ToASCII(host)
	if err != nil {
		// Not every valid HTTP host (e.g. a bare IPv4/IPv6 literal) is a
		// valid IDNA label; fall back to the raw host rather than failing
		// the whole lookup over a cosmetic normalization step.
		return host, nil
	}
	return normalized, nil
}

// Path returns everything after the host component, including the leading
// slash's remainder but not the slash itself, matching the wire form used
// to build an HTTP/1.1 request line.
func (u URL) Path() (string, error) {
	parts := strings.SplitN(u.raw, "/", 4)
	if len(parts) < 4 {
		return "", fmt.Errorf("hlsurl: failed to parse path in %q", u.raw)
	}
	return parts[3], nil
}

// Port returns the numeric port, either explicit in the URL or implied by
// the scheme (80 for http, 443 for https).
func (u URL) Port() (uint16, error) {
	parts := strings.SplitN(u.raw, "/", 4)
	if len(parts) >= 3 {
		if _, portStr, found := strings.Cut(parts[2], ":"); found {
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return 0, fmt.Errorf("hlsurl: failed to parse port in %q: %w", u.raw, err)
			}
			return uint16(port), nil
		}
	}

	switch u.Scheme {
	case SchemeHTTP:
		return 80, nil
	case SchemeHTTPS:
		return 443, nil
	default:
		return 0, fmt.Errorf("hlsurl: unknown scheme in %q", u.raw)
	}
}

// RequestTarget returns the "/path?query" form used on an HTTP/1.1 request
// line: the path component prefixed with a single slash.
func (u URL) RequestTarget() (string, error) {
	path, err := u.Path()
	if err != nil {
		return "", err
	}
	return "/" + path, nil
}
