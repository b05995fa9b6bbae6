package robots

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSuccessStatus is returned when FromStatusCode is handed a 2xx code;
// successful responses must be parsed instead.
var ErrSuccessStatus = errors.New("robots: 2xx status must be parsed, not synthesized")

// FromStatusCode synthesizes rules for a robots.txt fetch that did not
// succeed, using DefaultCrawlDelay.
func FromStatusCode(status int) (*RuleSet, error) {
	return Parser{}.FromStatusCode(status)
}

// FromStatusCode synthesizes rules for a robots.txt fetch that did not
// succeed:
//
//	3xx      allow none, defer (redirect limit exceeded)
//	404      allow all
//	401, 403 allow none
//	other    allow none, defer
func (p Parser) FromStatusCode(status int) (*RuleSet, error) {
	delay := p.defaultDelay()
	switch {
	case status >= 200 && status < 300:
		return nil, fmt.Errorf("%w: %d", ErrSuccessStatus, status)
	case status >= 300 && status < 400:
		rs := allOrNone(false, delay)
		rs.deferVisits = true
		return rs, nil
	case status == http.StatusNotFound:
		return allOrNone(true, delay), nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return allOrNone(false, delay), nil
	default:
		rs := allOrNone(false, delay)
		rs.deferVisits = true
		return rs, nil
	}
}
