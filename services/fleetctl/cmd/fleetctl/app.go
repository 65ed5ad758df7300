package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"fleetboot/pkg/bus"
	"fleetboot/pkg/metrics"
	"fleetboot/pkg/telemetry"
	"fleetboot/services/fleet"
	"fleetboot/services/fleetctl/internal/config"
)

const (
	serviceName = "fleetctl"
	pushTimeout = 10 * time.Second
)

// app holds what every subcommand needs: configuration, the logger and the
// optional metrics and event sinks.
type app struct {
	mode     string
	cfg      config.Config
	logger   *log.Logger
	metrics  *metrics.Fleet
	events   *bus.Bus
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, mode string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	shutdown, logger, err := telemetry.Init(ctx, serviceName, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{
		mode:     mode,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.NewFleet(),
		shutdown: shutdown,
	}
	if url := cfg.Telemetry.NATSURL; url != "" {
		b, err := bus.New(url)
		if err != nil {
			logger.Printf("WARN event bus disabled: %v", err)
		} else {
			a.events = b
		}
	}
	return a, nil
}

// publisher returns the event sink, or nil when NATS is not configured.
func (a *app) publisher() fleet.Publisher {
	if a.events == nil {
		return nil
	}
	return a.events
}

func (a *app) pinger() fleet.Pinger {
	switch a.cfg.Fleet.Pinger {
	case "icmp":
		return fleet.ICMPPinger{}
	case "icmp-raw":
		return fleet.ICMPPinger{Privileged: true}
	default:
		return fleet.ExecPinger{}
	}
}

func (a *app) prober() (*fleet.SSHProber, error) {
	creds, err := a.cfg.Credentials()
	if err != nil {
		return nil, err
	}
	return fleet.NewSSHProber(fleet.SSHProberConfig{
		Credentials:    creds,
		Port:           a.cfg.SSH.Port,
		Timeout:        a.cfg.SSH.Timeout,
		KnownHostsFile: a.cfg.SSH.KnownHosts,
	})
}

func (a *app) controllerConfig() fleet.Config {
	return fleet.Config{
		Workers:      a.cfg.Fleet.Workers,
		MaxAttempts:  a.cfg.Fleet.MaxAttempts,
		RetryDelay:   a.cfg.Fleet.RetryDelay,
		WakeTimeout:  a.cfg.Wake.Timeout,
		WakePeriod:   a.cfg.Wake.Period,
		ProbeTimeout: a.cfg.Fleet.ProbeTimeout,
	}
}

// close pushes metrics, drains the bus and flushes traces. Failures are logged;
// they never change the command's exit code.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if url := a.cfg.Telemetry.PushgatewayURL; url != "" {
		host, _ := os.Hostname()
		grouping := metrics.Grouping(a.mode, host)
		if err := a.metrics.Push(ctx, url, serviceName, telemetry.HTTPClient(pushTimeout), grouping); err != nil {
			a.logger.Printf("WARN push metrics: %v", err)
		}
	}
	a.events.Close()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Printf("WARN telemetry shutdown: %v", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
