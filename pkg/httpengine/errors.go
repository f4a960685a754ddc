package httpengine

import "fmt"

// NotFoundError is returned when the server answers 404. Segment fetches
// treat this as recoverable; playlist fetches treat it as the stream going
// offline.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("httpengine: 404 not found: %s", e.URL)
}

// StatusError is returned for any status code other than 200, 206, or 404.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpengine: unexpected status %d for %s", e.Code, e.URL)
}

// SchemeError is returned before any connection is made when force_https
// rejects a non-HTTPS URL. Any other unsupported scheme surfaces as the
// plain error from transport.Dial instead.
type SchemeError struct {
	URL    string
	Reason string
}

func (e *SchemeError) Error() string {
	return fmt.Sprintf("httpengine: %s: %s", e.Reason, e.URL)
}
