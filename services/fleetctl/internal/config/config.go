package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"
	"gopkg.in/yaml.v3"

	"fleetboot/services/fleet"
	"fleetboot/services/switcher"
)

const (
	defaultPinger     = "exec"
	defaultIgnoreUser = "admindi"
)

func defaults() Config {
	return Config{
		SSH: SSHConfig{
			Port:    fleet.DefaultSSHPort,
			Timeout: fleet.DefaultSSHTimeout,
		},
		Fleet: FleetConfig{
			Workers:      fleet.DefaultWorkers,
			MaxAttempts:  fleet.DefaultMaxAttempts,
			RetryDelay:   fleet.DefaultRetryDelay,
			ProbeTimeout: fleet.DefaultProbeTimeout,
			Pinger:       defaultPinger,
		},
		Wake: WakeConfig{
			Timeout: fleet.DefaultWakeTimeout,
			Period:  fleet.DefaultWakePeriod,
			Port:    fleet.DefaultWakePort,
		},
		Switch: SwitchConfig{
			GracePeriod:     switcher.DefaultGracePeriod,
			IgnoreUser:      defaultIgnoreUser,
			NoticeTitle:     switcher.DefaultNoticeTitle,
			Notice:          switcher.DefaultNotice,
			MountRetryDelay: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional FLEETBOOT_CONFIG
// YAML file and the environment, in that order of precedence.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("FLEETBOOT_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, &fleet.ConfigError{Field: "FLEETBOOT_CONFIG", Err: err}
		}
	}

	cfg.SSH.User = getEnv("SUDO_USER", cfg.SSH.User)
	cfg.SSH.Password = os.Getenv("SUDO_PASSWORD")
	cfg.SSH.AgeIdentity = os.Getenv("AGE_SECRET_KEY")
	cfg.SSH.PasswordFile = getEnv("FLEETBOOT_SSH_PASSWORD_FILE", cfg.SSH.PasswordFile)
	cfg.SSH.KeyFile = getEnv("FLEETBOOT_SSH_KEY", cfg.SSH.KeyFile)
	cfg.SSH.KnownHosts = getEnv("FLEETBOOT_SSH_KNOWN_HOSTS", cfg.SSH.KnownHosts)
	cfg.SSH.Port = getEnvInt("FLEETBOOT_SSH_PORT", cfg.SSH.Port)
	cfg.SSH.Timeout = getEnvDuration("FLEETBOOT_SSH_TIMEOUT", cfg.SSH.Timeout)

	cfg.Fleet.Workers = getEnvInt("FLEETBOOT_WORKERS", cfg.Fleet.Workers)
	cfg.Fleet.MaxAttempts = getEnvInt("FLEETBOOT_MAX_ATTEMPTS", cfg.Fleet.MaxAttempts)
	cfg.Fleet.RetryDelay = getEnvDuration("FLEETBOOT_RETRY_DELAY", cfg.Fleet.RetryDelay)
	cfg.Fleet.ProbeTimeout = getEnvDuration("FLEETBOOT_PROBE_TIMEOUT", cfg.Fleet.ProbeTimeout)
	cfg.Fleet.Pinger = getEnv("FLEETBOOT_PINGER", cfg.Fleet.Pinger)
	switch cfg.Fleet.Pinger {
	case "exec", "icmp", "icmp-raw":
	default:
		return Config{}, &fleet.ConfigError{Field: "FLEETBOOT_PINGER", Err: fmt.Errorf("unknown pinger %q", cfg.Fleet.Pinger)}
	}

	cfg.Wake.Timeout = getEnvDuration("FLEETBOOT_WAKE_TIMEOUT", cfg.Wake.Timeout)
	cfg.Wake.Period = getEnvDuration("FLEETBOOT_WAKE_PERIOD", cfg.Wake.Period)
	cfg.Wake.Port = getEnvInt("FLEETBOOT_WAKE_PORT", cfg.Wake.Port)
	cfg.Wake.Broadcast = getEnv("FLEETBOOT_WAKE_BROADCAST", cfg.Wake.Broadcast)

	cfg.Switch.GracePeriod = getEnvDuration("FLEETBOOT_GRACE_PERIOD", cfg.Switch.GracePeriod)
	cfg.Switch.SkipSession = getEnvBool("FLEETBOOT_SKIP_SESSION_CHECK", cfg.Switch.SkipSession)
	cfg.Switch.IgnoreUser = getEnv("FLEETBOOT_IGNORE_USER", cfg.Switch.IgnoreUser)
	cfg.Switch.NoticeTitle = getEnv("FLEETBOOT_NOTICE_TITLE", cfg.Switch.NoticeTitle)
	cfg.Switch.Notice = getEnv("FLEETBOOT_NOTICE", cfg.Switch.Notice)
	cfg.Switch.ESPDevice = getEnv("FLEETBOOT_ESP_DEVICE", cfg.Switch.ESPDevice)
	cfg.Switch.ESPMountPoint = getEnv("FLEETBOOT_ESP_MOUNT_POINT", cfg.Switch.ESPMountPoint)
	cfg.Switch.ESPLetter = getEnv("FLEETBOOT_ESP_LETTER", cfg.Switch.ESPLetter)
	cfg.Switch.MountRetries = getEnvInt("FLEETBOOT_MOUNT_RETRIES", cfg.Switch.MountRetries)
	cfg.Switch.MountRetryDelay = getEnvDuration("FLEETBOOT_MOUNT_RETRY_DELAY", cfg.Switch.MountRetryDelay)

	cfg.Telemetry.PushgatewayURL = getEnv("FLEETBOOT_PUSHGATEWAY_URL", cfg.Telemetry.PushgatewayURL)
	cfg.Telemetry.NATSURL = getEnv("FLEETBOOT_NATS_URL", cfg.Telemetry.NATSURL)

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Credentials resolves the remote-exec credentials. A password from
// SUDO_PASSWORD takes precedence over the age-encrypted password file.
func (c Config) Credentials() (fleet.Credentials, error) {
	if c.SSH.User == "" {
		return fleet.Credentials{}, &fleet.ConfigError{Field: "SUDO_USER", Err: errors.New("is not set")}
	}
	creds := fleet.Credentials{User: c.SSH.User, Password: c.SSH.Password}

	if c.SSH.KeyFile != "" {
		key, err := os.ReadFile(c.SSH.KeyFile)
		if err != nil {
			return fleet.Credentials{}, &fleet.ConfigError{Field: "FLEETBOOT_SSH_KEY", Err: err}
		}
		creds.PrivateKey = key
	}

	if creds.Password == "" && c.SSH.PasswordFile != "" {
		password, err := decryptPassword(c.SSH.PasswordFile, c.SSH.AgeIdentity)
		if err != nil {
			return fleet.Credentials{}, &fleet.ConfigError{Field: "FLEETBOOT_SSH_PASSWORD_FILE", Err: err}
		}
		creds.Password = password
	}

	if creds.Password == "" && len(creds.PrivateKey) == 0 {
		return fleet.Credentials{}, &fleet.ConfigError{Field: "SUDO_PASSWORD", Err: errors.New("is not set")}
	}
	return creds, nil
}

// decryptPassword opens an age file, armored or binary, and returns its first
// line.
func decryptPassword(path, secretKey string) (string, error) {
	if strings.TrimSpace(secretKey) == "" {
		return "", errors.New("AGE_SECRET_KEY is required to decrypt the password file")
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(secretKey))
	if err != nil {
		return "", fmt.Errorf("parse AGE_SECRET_KEY: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var src io.Reader = br
	if head, _ := br.Peek(len(armor.Header)); string(head) == armor.Header {
		src = armor.NewReader(br)
	}
	plain, err := age.Decrypt(src, identity)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", path, err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", path, err)
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimRight(line, "\r"), nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or plain seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
