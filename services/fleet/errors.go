package fleet

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks problems that no amount of retrying fixes: missing
// credentials or malformed input.
var ErrConfiguration = errors.New("configuration error")

// ConfigError describes a fatal configuration or input problem.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// TransportError wraps a failure to reach or talk to a host. Callers treat it
// as "not ready yet".
type TransportError struct {
	IP  string
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.IP, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
