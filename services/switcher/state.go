package switcher

// SwitchState is a step of one boot switch. States only move forward; any
// failure moves to Failed.
type SwitchState int

const (
	Idle SwitchState = iota
	SessionChecked
	VolumeMounted
	ConfigInstalled
	VolumeUnmounted
	Verified
	RebootTriggered
	Failed
)

var stateNames = [...]string{
	Idle:            "idle",
	SessionChecked:  "session_checked",
	VolumeMounted:   "volume_mounted",
	ConfigInstalled: "config_installed",
	VolumeUnmounted: "volume_unmounted",
	Verified:        "verified",
	RebootTriggered: "reboot_triggered",
	Failed:          "failed",
}

func (s SwitchState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s SwitchState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
