package crawler

// URLStatus is the final disposition recorded for a URL.
type URLStatus string

// URL status values.
const (
	StatusUnfetched              URLStatus = "UNFETCHED"
	StatusFetched                URLStatus = "FETCHED"
	StatusRobotsExcluded         URLStatus = "ROBOTS_EXCLUDED"
	StatusSkippedDeferred        URLStatus = "SKIPPED_DEFERRED"
	StatusSkippedInterrupted     URLStatus = "SKIPPED_INTERRUPTED"
	StatusSkippedTimeLimit       URLStatus = "SKIPPED_TIME_LIMIT"
	StatusErrorInvalidURL        URLStatus = "ERROR_INVALID_URL"
	StatusErrorIOException       URLStatus = "ERROR_IO_EXCEPTION"
	StatusErrorTimeout           URLStatus = "ERROR_TIMEOUT"
	StatusErrorTooManyRedirects  URLStatus = "ERROR_TOO_MANY_REDIRECTS"
	StatusErrorHTTPClient        URLStatus = "ERROR_HTTP_CLIENT"
	StatusErrorHTTPForbidden     URLStatus = "ERROR_HTTP_FORBIDDEN"
	StatusErrorHTTPNotFound      URLStatus = "ERROR_HTTP_NOT_FOUND"
	StatusErrorHTTPServer        URLStatus = "ERROR_HTTP_SERVER"
	StatusErrorInvalidResponse   URLStatus = "ERROR_INVALID_RESPONSE"
	StatusAbortedInvalidMimeType URLStatus = "ABORTED_INVALID_MIMETYPE"
)

// AllStatuses lists every status in a stable order.
var AllStatuses = []URLStatus{
	StatusUnfetched,
	StatusFetched,
	StatusRobotsExcluded,
	StatusSkippedDeferred,
	StatusSkippedInterrupted,
	StatusSkippedTimeLimit,
	StatusErrorInvalidURL,
	StatusErrorIOException,
	StatusErrorTimeout,
	StatusErrorTooManyRedirects,
	StatusErrorHTTPClient,
	StatusErrorHTTPForbidden,
	StatusErrorHTTPNotFound,
	StatusErrorHTTPServer,
	StatusErrorInvalidResponse,
	StatusAbortedInvalidMimeType,
}

// Valid reports whether s is a known status.
func (s URLStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}
