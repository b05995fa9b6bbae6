package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// FetchOutcome is either *Fetched or *Failed.
type FetchOutcome interface {
	isFetchOutcome()
}

// Fetched describes a successful fetch.
type Fetched struct {
	URL           string
	Headers       http.Header
	Body          []byte
	HostAddress   string
	HTTPStatus    int
	MimeType      string
	FetchDuration time.Duration
}

func (*Fetched) isFetchOutcome() {}

// ExceptionKind classifies a failed fetch.
type ExceptionKind string

// Exception kinds surfaced by fetchers and the executor.
const (
	KindTimeout         ExceptionKind = "timeout"
	KindConnection      ExceptionKind = "connection"
	KindInvalidResponse ExceptionKind = "invalid_response"
	KindRedirect        ExceptionKind = "redirect"
	KindHTTPStatus      ExceptionKind = "http_status"
	KindInvalidURL      ExceptionKind = "invalid_url"
	KindInvalidMimeType ExceptionKind = "invalid_mime_type"
	KindInterrupted     ExceptionKind = "interrupted"
	KindTimeLimit       ExceptionKind = "time_limit"
)

// Failed describes a fetch that did not produce content.
type Failed struct {
	Kind       ExceptionKind `json:"kind"`
	Detail     string        `json:"detail,omitempty"`
	HTTPStatus int           `json:"http_status,omitempty"`
}

func (*Failed) isFetchOutcome() {}

func (f *Failed) Error() string {
	if f.HTTPStatus != 0 {
		return fmt.Sprintf("%s (%d): %s", f.Kind, f.HTTPStatus, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Status maps the failure to the URL status recorded for it.
func (f *Failed) Status() URLStatus {
	switch f.Kind {
	case KindTimeout:
		return StatusErrorTimeout
	case KindConnection:
		return StatusErrorIOException
	case KindInvalidResponse:
		return StatusErrorInvalidResponse
	case KindRedirect:
		return StatusErrorTooManyRedirects
	case KindInvalidURL:
		return StatusErrorInvalidURL
	case KindInvalidMimeType:
		return StatusAbortedInvalidMimeType
	case KindInterrupted:
		return StatusSkippedInterrupted
	case KindTimeLimit:
		return StatusSkippedTimeLimit
	case KindHTTPStatus:
		return httpStatusToURLStatus(f.HTTPStatus)
	default:
		return StatusErrorIOException
	}
}

func httpStatusToURLStatus(code int) URLStatus {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return StatusErrorHTTPForbidden
	case code == http.StatusNotFound || code == http.StatusGone:
		return StatusErrorHTTPNotFound
	case code >= 300 && code < 400:
		return StatusErrorTooManyRedirects
	case code >= 400 && code < 500:
		return StatusErrorHTTPClient
	case code >= 500:
		return StatusErrorHTTPServer
	default:
		return StatusErrorInvalidResponse
	}
}
