// Package bootos defines the operating systems a dual-boot host can run and the
// targets an operator can request.
package bootos

import (
	"fmt"
	"strings"
)

// Family is an operating system a host can be running.
type Family string

const (
	Ubuntu  Family = "ubuntu"
	Windows Family = "windows"
)

// Desired is a requested boot target. LastOS means "whichever OS is not
// currently running" for the local switch and "any OS" when confirming a fleet.
type Desired string

const (
	DesiredUbuntu  Desired = "ubuntu"
	DesiredWindows Desired = "windows"
	LastOS         Desired = "lastos"
)

// Classify maps the output of `uname -s` (or any kernel identity string) to a
// Family. It is the only place where raw kernel text becomes an OS family.
func Classify(output string) Family {
	if strings.Contains(strings.ToLower(output), "linux") {
		return Ubuntu
	}
	return Windows
}

// Opposite returns the other family of the dual-boot pair.
func (f Family) Opposite() Family {
	if f == Ubuntu {
		return Windows
	}
	return Ubuntu
}

func (f Family) String() string { return string(f) }

// ParseDesired parses a case-insensitive target token.
func ParseDesired(raw string) (Desired, error) {
	switch d := Desired(strings.ToLower(strings.TrimSpace(raw))); d {
	case DesiredUbuntu, DesiredWindows, LastOS:
		return d, nil
	default:
		return "", fmt.Errorf("invalid desired os %q: use 'ubuntu', 'windows', or 'lastOS'", raw)
	}
}

// Accepts reports whether a host running f satisfies the target. LastOS accepts
// any family.
func (d Desired) Accepts(f Family) bool {
	return d == LastOS || Family(d) == f
}

// Resolve turns the target into a concrete family given the running one.
func (d Desired) Resolve(active Family) Family {
	if d == LastOS {
		return active.Opposite()
	}
	return Family(d)
}

func (d Desired) String() string { return string(d) }

// ConfigSuffix is the side-car configuration suffix selecting f as the default
// boot entry, e.g. ".ubuntu".
func ConfigSuffix(f Family) string {
	return "." + string(f)
}
