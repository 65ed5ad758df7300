package fleet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ParseInventory decodes the JSON host list passed on the command line. Shells
// and playbooks often leave the argument wrapped in quotes, so surrounding
// single and double quotes are stripped first. requireMAC is set by flows that
// must wake hosts.
func ParseInventory(raw string, requireMAC bool) ([]HostRecord, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), `'"`)
	if trimmed == "" {
		return nil, &ConfigError{Field: "hosts", Err: errors.New("empty host list")}
	}

	var hosts []HostRecord
	if err := json.Unmarshal([]byte(trimmed), &hosts); err != nil {
		return nil, &ConfigError{Field: "hosts", Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	for i := range hosts {
		h := &hosts[i]
		h.IP = strings.TrimSpace(h.IP)
		h.MAC = strings.TrimSpace(h.MAC)

		if ip := net.ParseIP(h.IP); ip == nil || ip.To4() == nil {
			return nil, &ConfigError{Field: fmt.Sprintf("hosts[%d].ip", i), Err: fmt.Errorf("invalid IPv4 address %q", h.IP)}
		}
		if h.MAC == "" {
			if requireMAC {
				return nil, &ConfigError{Field: fmt.Sprintf("hosts[%d].mac", i), Err: fmt.Errorf("mac is required to wake %s", h.IP)}
			}
			continue
		}
		if _, err := parseMAC(h.MAC); err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("hosts[%d].mac", i), Err: err}
		}
	}

	return hosts, nil
}

func parseMAC(raw string) (net.HardwareAddr, error) {
	if len(raw) == 12 {
		if b, err := hex.DecodeString(raw); err == nil {
			return net.HardwareAddr(b), nil
		}
	}
	hw, err := net.ParseMAC(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid mac %q: %w", raw, err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("invalid mac %q: expected 6 bytes, got %d", raw, len(hw))
	}
	return hw, nil
}
