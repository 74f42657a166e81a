package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrInvalidEndpoint is returned for a blank host or a port that is not
	// a number in 1–65535. It is reported before any I/O happens.
	ErrInvalidEndpoint = errors.New("session: invalid endpoint")

	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("session: not connected")
)

// Endpoint is a validated TCP remote.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint validates the host and port strings entered by the user.
func ParseEndpoint(host, port string) (Endpoint, error) {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: host is empty", ErrInvalidEndpoint)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q is not a number", ErrInvalidEndpoint, port)
	}
	if p < 1 || p > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, p)
	}
	return Endpoint{Host: host, Port: p}, nil
}

// String returns host:port, bracketing IPv6 literals.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// exitError ends a session loop with a reason tag.
type exitError struct {
	reason string
	err    error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }
