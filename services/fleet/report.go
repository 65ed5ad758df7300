package fleet

import (
	"bytes"
	"encoding/json"

	"fleetboot/pkg/bootos"
)

// Process exit codes. Callers treat them as the authoritative result; the JSON
// report carries the detail.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitPartial = 2
)

// FleetReport is the result of a confirmation run.
type FleetReport struct {
	Matched   []ProbeOutcome `json:"matched_hosts"`
	Failed    []ProbeOutcome `json:"failed_hosts"`
	DesiredOS bootos.Desired `json:"desired_os"`
}

// NewFleetReport partitions outcomes by status, keeping input order.
func NewFleetReport(outcomes []ProbeOutcome, desired bootos.Desired) FleetReport {
	report := FleetReport{
		Matched:   make([]ProbeOutcome, 0, len(outcomes)),
		Failed:    make([]ProbeOutcome, 0),
		DesiredOS: desired,
	}
	for _, o := range outcomes {
		if o.Status == StatusMatched {
			report.Matched = append(report.Matched, o)
		} else {
			report.Failed = append(report.Failed, o)
		}
	}
	return report
}

func (r FleetReport) ExitCode() int {
	if len(r.Failed) > 0 {
		return ExitFailed
	}
	return ExitOK
}

// WakeReport is the result of a wake run. It encodes as
// {"os_detected": {ip: os, ...}, "failed_hosts": [{ip, mac}, ...]}, with
// os_detected keys in input order.
type WakeReport struct {
	Outcomes []ProbeOutcome
}

// FailedHosts lists hosts that never answered, in input order.
func (r WakeReport) FailedHosts() []HostRecord {
	failed := make([]HostRecord, 0)
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failed = append(failed, o.host())
		}
	}
	return failed
}

// ExitCode is 0 when every host woke, 1 when none did and 2 otherwise.
func (r WakeReport) ExitCode() int {
	failed := len(r.FailedHosts())
	switch {
	case failed == 0:
		return ExitOK
	case failed < len(r.Outcomes):
		return ExitPartial
	default:
		return ExitFailed
	}
}

func (r WakeReport) MarshalJSON() ([]byte, error) {
	// Duplicate IPs keep their first position and their last value.
	order := make([]string, 0, len(r.Outcomes))
	detected := make(map[string]Detected, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if _, seen := detected[o.IP]; !seen {
			order = append(order, o.IP)
		}
		detected[o.IP] = o.OSDetected
	}

	var buf bytes.Buffer
	buf.WriteString(`{"os_detected":{`)
	for i, ip := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ip)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(detected[ip])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString(`},"failed_hosts":`)

	failed, err := json.Marshal(r.FailedHosts())
	if err != nil {
		return nil, err
	}
	buf.Write(failed)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
