package config

import "time"

// Config is the fleetctl runtime configuration. Fields tagged for YAML may come
// from the FLEETBOOT_CONFIG file; environment variables always win.
type Config struct {
	SSH       SSHConfig       `yaml:"ssh"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Wake      WakeConfig      `yaml:"wake"`
	Switch    SwitchConfig    `yaml:"switch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type SSHConfig struct {
	User string `yaml:"user"`
	// Password and AgeIdentity are secrets and are only read from the
	// environment.
	Password     string        `yaml:"-"`
	AgeIdentity  string        `yaml:"-"`
	PasswordFile string        `yaml:"password_file"`
	KeyFile      string        `yaml:"key_file"`
	KnownHosts   string        `yaml:"known_hosts"`
	Port         int           `yaml:"port"`
	Timeout      time.Duration `yaml:"timeout"`
}

type FleetConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// Pinger is "exec" (system ping), "icmp" (unprivileged datagram socket)
	// or "icmp-raw".
	Pinger string `yaml:"pinger"`
}

type WakeConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	Period    time.Duration `yaml:"period"`
	Port      int           `yaml:"port"`
	Broadcast string        `yaml:"broadcast"`
}

type SwitchConfig struct {
	GracePeriod     time.Duration `yaml:"grace_period"`
	SkipSession     bool          `yaml:"skip_session_check"`
	IgnoreUser      string        `yaml:"ignore_user"`
	NoticeTitle     string        `yaml:"notice_title"`
	Notice          string        `yaml:"notice"`
	ESPDevice       string        `yaml:"esp_device"`
	ESPMountPoint   string        `yaml:"esp_mount_point"`
	ESPLetter       string        `yaml:"esp_letter"`
	MountRetries    int           `yaml:"mount_retries"`
	MountRetryDelay time.Duration `yaml:"mount_retry_delay"`
}

type TelemetryConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	NATSURL        string `yaml:"nats_url"`
}
