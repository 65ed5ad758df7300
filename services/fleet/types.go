package fleet

import "fleetboot/pkg/bootos"

// HostRecord is one inventory entry. IP is the identity key; MAC is only needed
// to wake the host.
type HostRecord struct {
	IP  string `json:"ip"`
	MAC string `json:"mac"`
}

// Detected is the OS recorded for a host. Besides the two families it can be
// Unknown (reachable but never identified) or Timeout (attempts exhausted).
type Detected string

const (
	DetectedUbuntu  Detected = Detected(bootos.Ubuntu)
	DetectedWindows Detected = Detected(bootos.Windows)
	DetectedUnknown Detected = "unknown"
	DetectedTimeout Detected = "timeout"
)

type Status string

const (
	StatusMatched Status = "matched"
	StatusFailed  Status = "failed"
)

// ProbeOutcome is the terminal result for one host in one run.
type ProbeOutcome struct {
	IP         string   `json:"ip"`
	MAC        string   `json:"mac"`
	OSDetected Detected `json:"os_detected"`
	Status     Status   `json:"status"`
	Attempts   int      `json:"attempts"`
}

func (o ProbeOutcome) host() HostRecord {
	return HostRecord{IP: o.IP, MAC: o.MAC}
}

// Credentials authenticate remote-exec sessions. At least one of Password or
// PrivateKey must be set.
type Credentials struct {
	User       string
	Password   string
	PrivateKey []byte
}

const (
	modeConfirm = "confirm"
	modeWake    = "wake"
)
