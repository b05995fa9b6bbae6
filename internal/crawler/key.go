package crawler

import (
	"fmt"
	"strings"
)

// Terminal names a disposition that resolves a URL before any fetch.
type Terminal int

// Terminal dispositions. TerminalNone marks a normal (fetchable) key.
const (
	TerminalNone Terminal = iota
	TerminalBlocked
	TerminalError
	TerminalDeferred
)

func (t Terminal) String() string {
	switch t {
	case TerminalBlocked:
		return "BLOCKED"
	case TerminalError:
		return "ERROR"
	case TerminalDeferred:
		return "DEFERRED"
	default:
		return ""
	}
}

// Status returns the URL status a terminal disposition maps to.
func (t Terminal) Status() URLStatus {
	switch t {
	case TerminalBlocked:
		return StatusRobotsExcluded
	case TerminalError:
		return StatusErrorInvalidURL
	case TerminalDeferred:
		return StatusSkippedDeferred
	default:
		return StatusUnfetched
	}
}

// GroupingKey routes a URL either to one server (normal key) or to a
// terminal disposition. The zero value is an unassigned key.
type GroupingKey struct {
	domain   string
	terminal Terminal
}

// NormalKey builds the key for a canonical scheme://host:port domain.
func NormalKey(domain string) GroupingKey {
	return GroupingKey{domain: domain}
}

// TerminalKey builds a key carrying a terminal disposition.
func TerminalKey(t Terminal) GroupingKey {
	return GroupingKey{terminal: t}
}

// Blocked, Errored and Deferred are the three terminal keys.
var (
	Blocked  = TerminalKey(TerminalBlocked)
	Errored  = TerminalKey(TerminalError)
	Deferred = TerminalKey(TerminalDeferred)
)

// IsZero reports whether the key is unassigned.
func (k GroupingKey) IsZero() bool {
	return k.domain == "" && k.terminal == TerminalNone
}

// IsTerminal reports whether the key resolves the URL without fetching it.
func (k GroupingKey) IsTerminal() bool {
	return k.terminal != TerminalNone
}

// Domain returns the canonical domain of a normal key, or "".
func (k GroupingKey) Domain() string {
	return k.domain
}

// Terminal returns the disposition of a terminal key.
func (k GroupingKey) Terminal() Terminal {
	return k.terminal
}

// Status maps a terminal key to its fixed URL status.
func (k GroupingKey) Status() URLStatus {
	return k.terminal.Status()
}

func (k GroupingKey) String() string {
	if k.IsTerminal() {
		return k.terminal.String()
	}
	return k.domain
}

// MarshalText renders terminal keys by name and normal keys by domain.
func (k GroupingKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (k *GroupingKey) UnmarshalText(text []byte) error {
	key, err := ParseGroupingKey(string(text))
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// ParseGroupingKey parses a terminal name or a canonical domain key.
func ParseGroupingKey(raw string) (GroupingKey, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return GroupingKey{}, nil
	case "BLOCKED":
		return Blocked, nil
	case "ERROR":
		return Errored, nil
	case "DEFERRED":
		return Deferred, nil
	}
	domain, err := DomainKey(raw)
	if err != nil {
		return GroupingKey{}, fmt.Errorf("parse grouping key %q: %w", raw, err)
	}
	return NormalKey(domain), nil
}
