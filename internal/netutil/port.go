package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// candidate can be bound.
var ErrNoBindAddr = errors.New("netutil: no available bind address")

// Listen binds the preferred address, falling back to the first free
// candidate when autoFallback is set. Holding the listener avoids racing
// another process between the check and the bind.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !inUse(err) {
			return nil, fmt.Errorf("netutil: listen %s: %w", preferred, err)
		}
		if !autoFallback {
			return nil, fmt.Errorf("netutil: preferred bind address in use: %s", preferred)
		}
		slog.Warn("preferred bind address in use, trying candidates", "addr", preferred)
	}

	for _, addr := range candidates {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		slog.Debug("bind candidate unavailable", "addr", addr, "error", err)
	}
	return nil, ErrNoBindAddr
}

func inUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
