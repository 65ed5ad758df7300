package fleet

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleetboot/pkg/bootos"
	"fleetboot/pkg/bus"
	"fleetboot/pkg/metrics"
)

const (
	DefaultMaxAttempts = 60
	DefaultRetryDelay  = 10 * time.Second
)

// Publisher receives host outcomes and run reports. pkg/bus implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Config holds the fan-out budgets. Zero values take the defaults.
type Config struct {
	Workers      int
	MaxAttempts  int
	RetryDelay   time.Duration
	WakeTimeout  time.Duration
	WakePeriod   time.Duration
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.WakeTimeout <= 0 {
		c.WakeTimeout = DefaultWakeTimeout
	}
	if c.WakePeriod <= 0 {
		c.WakePeriod = DefaultWakePeriod
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// Options wires a Controller. Pinger and Prober are required; Waker is only
// used by Wake. Metrics, Events and Tracer are optional.
type Options struct {
	Config  Config
	Pinger  Pinger
	Waker   Waker
	Prober  Prober
	Logger  *log.Logger
	Metrics *metrics.Fleet
	Events  Publisher
	Tracer  trace.Tracer
}

// Controller fans confirmation and wake runs out across a fleet.
type Controller struct {
	cfg     Config
	pinger  Pinger
	waker   Waker
	prober  Prober
	logger  *log.Logger
	metrics *metrics.Fleet
	events  Publisher
	tracer  trace.Tracer
	runID   uuid.UUID
}

func NewController(opts Options) (*Controller, error) {
	if opts.Pinger == nil {
		return nil, errors.New("pinger is required")
	}
	if opts.Prober == nil {
		return nil, errors.New("prober is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("fleetboot/services/fleet")
	}

	return &Controller{
		cfg:     opts.Config.withDefaults(),
		pinger:  opts.Pinger,
		waker:   opts.Waker,
		prober:  opts.Prober,
		logger:  logger,
		metrics: opts.Metrics,
		events:  opts.Events,
		tracer:  tracer,
		runID:   uuid.New(),
	}, nil
}

// RunID identifies this controller's runs in logs, traces and events.
func (c *Controller) RunID() uuid.UUID { return c.runID }

type hostEvent struct {
	RunID      uuid.UUID    `json:"run_id"`
	Mode       string       `json:"mode"`
	Outcome    ProbeOutcome `json:"outcome"`
	FinishedAt time.Time    `json:"finished_at"`
}

type runEvent struct {
	RunID      uuid.UUID `json:"run_id"`
	Mode       string    `json:"mode"`
	Report     any       `json:"report"`
	ExitCode   int       `json:"exit_code"`
	FinishedAt time.Time `json:"finished_at"`
}

// Confirm waits, per host, until the running OS satisfies desired or the
// attempt budget runs out. No wake packets are sent.
func (c *Controller) Confirm(ctx context.Context, hosts []HostRecord, desired bootos.Desired) FleetReport {
	ctx, span := c.tracer.Start(ctx, "fleet.confirm", trace.WithAttributes(
		attribute.String("fleet.run_id", c.runID.String()),
		attribute.String("fleet.desired_os", desired.String()),
		attribute.Int("fleet.hosts", len(hosts)),
	))
	defer span.End()

	outcomes, err := fanOut(ctx, c.cfg.Workers, hosts, func(ctx context.Context, h HostRecord) ProbeOutcome {
		return c.observe(ctx, modeConfirm, h, func(ctx context.Context) ProbeOutcome {
			return c.confirmHost(ctx, h, desired)
		})
	})

	if err != nil {
		c.logger.Printf("WARN confirm run interrupted: %v", err)
		span.RecordError(err)
	}

	report := NewFleetReport(outcomes, desired)
	span.SetAttributes(
		attribute.Int("fleet.matched", len(report.Matched)),
		attribute.Int("fleet.failed", len(report.Failed)),
	)
	c.publish(ctx, bus.RunFinishedSubject, runEvent{
		RunID:      c.runID,
		Mode:       modeConfirm,
		Report:     report,
		ExitCode:   report.ExitCode(),
		FinishedAt: time.Now().UTC(),
	})
	return report
}

// Wake brings every host online and identifies its OS once.
func (c *Controller) Wake(ctx context.Context, hosts []HostRecord) WakeReport {
	ctx, span := c.tracer.Start(ctx, "fleet.wake", trace.WithAttributes(
		attribute.String("fleet.run_id", c.runID.String()),
		attribute.Int("fleet.hosts", len(hosts)),
	))
	defer span.End()

	outcomes, err := fanOut(ctx, c.cfg.Workers, hosts, func(ctx context.Context, h HostRecord) ProbeOutcome {
		return c.observe(ctx, modeWake, h, func(ctx context.Context) ProbeOutcome {
			return c.wakeHost(ctx, h)
		})
	})

	if err != nil {
		c.logger.Printf("WARN wake run interrupted: %v", err)
		span.RecordError(err)
	}

	report := WakeReport{Outcomes: outcomes}
	span.SetAttributes(attribute.Int("fleet.failed", len(report.FailedHosts())))
	c.publish(ctx, bus.RunFinishedSubject, runEvent{
		RunID:      c.runID,
		Mode:       modeWake,
		Report:     report,
		ExitCode:   report.ExitCode(),
		FinishedAt: time.Now().UTC(),
	})
	return report
}

func (c *Controller) confirmHost(ctx context.Context, h HostRecord, desired bootos.Desired) ProbeOutcome {
	poller := &Poller{Pinger: c.pinger, ProbeTimeout: c.cfg.ProbeTimeout, Logger: c.logger}
	limit := c.cfg.MaxAttempts

	attempts := 0
	for attempts < limit {
		attempts++
		c.logger.Printf("INFO [%s] attempt %d/%d", h.IP, attempts, limit)
		c.metrics.Attempts(modeConfirm, 1)

		if poller.Probe(ctx, h.IP) {
			family, err := c.prober.DetectOS(ctx, h.IP)
			switch {
			case err != nil:
				c.logger.Printf("ERROR [%s] %v", h.IP, err)
			case desired.Accepts(family):
				c.logger.Printf("INFO [%s] now running %s", h.IP, family)
				return ProbeOutcome{
					IP:         h.IP,
					MAC:        h.MAC,
					OSDetected: Detected(family),
					Status:     StatusMatched,
					Attempts:   attempts,
				}
			default:
				c.logger.Printf("INFO [%s] running %s, expected %s", h.IP, family, desired)
			}
		}

		if attempts == limit {
			break
		}
		if err := sleepContext(ctx, c.cfg.RetryDelay); err != nil {
			c.logger.Printf("WARN [%s] stopped after %d attempt(s): %v", h.IP, attempts, err)
			break
		}
	}

	c.logger.Printf("ERROR [%s] did not reach %s within %d attempt(s)", h.IP, desired, attempts)
	return ProbeOutcome{
		IP:         h.IP,
		MAC:        h.MAC,
		OSDetected: DetectedTimeout,
		Status:     StatusFailed,
		Attempts:   attempts,
	}
}

func (c *Controller) wakeHost(ctx context.Context, h HostRecord) ProbeOutcome {
	c.logger.Printf("INFO [%s] starting wake for %s", h.IP, h.MAC)

	poller := &Poller{
		Pinger:       c.pinger,
		Waker:        c.waker,
		Period:       c.cfg.WakePeriod,
		ProbeTimeout: c.cfg.ProbeTimeout,
		Logger:       c.logger,
	}
	reachable, cycles := poller.WaitForHost(ctx, h, c.cfg.WakeTimeout)
	c.metrics.Attempts(modeWake, cycles)

	out := ProbeOutcome{IP: h.IP, MAC: h.MAC, Attempts: max(cycles, 1)}
	if !reachable {
		out.OSDetected = DetectedUnknown
		out.Status = StatusFailed
		return out
	}

	out.Status = StatusMatched
	family, err := c.prober.DetectOS(ctx, h.IP)
	if err != nil {
		c.logger.Printf("ERROR [%s] %v", h.IP, err)
		out.OSDetected = DetectedUnknown
		return out
	}
	out.OSDetected = Detected(family)
	return out
}

// observe wraps one host's work with a span, metrics and an outcome event.
func (c *Controller) observe(ctx context.Context, mode string, h HostRecord, fn func(context.Context) ProbeOutcome) ProbeOutcome {
	ctx, span := c.tracer.Start(ctx, "fleet.host", trace.WithAttributes(
		attribute.String("fleet.mode", mode),
		attribute.String("host.ip", h.IP),
		attribute.String("host.mac", h.MAC),
	))
	defer span.End()

	started := time.Now()
	out := fn(ctx)
	c.metrics.Outcome(mode, string(out.Status), string(out.OSDetected), time.Since(started).Seconds())

	span.SetAttributes(
		attribute.String("host.os_detected", string(out.OSDetected)),
		attribute.Int("host.attempts", out.Attempts),
	)
	if out.Status == StatusFailed {
		span.SetStatus(codes.Error, string(out.OSDetected))
	}

	c.publish(ctx, bus.HostOutcomeSubject, hostEvent{
		RunID:      c.runID,
		Mode:       mode,
		Outcome:    out,
		FinishedAt: time.Now().UTC(),
	})
	return out
}

func (c *Controller) publish(ctx context.Context, subject string, v any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, subject, v); err != nil {
		c.logger.Printf("WARN publish %s: %v", subject, err)
	}
}
