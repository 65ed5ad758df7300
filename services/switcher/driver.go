// Package switcher changes the default boot entry of the local dual-boot
// machine and reboots it into the other OS.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fleetboot/pkg/bootos"
	"fleetboot/pkg/bus"
	"fleetboot/pkg/metrics"
)

const (
	DefaultGracePeriod = 5 * time.Minute
	DefaultNotice      = "This computer will restart in 5 minutes. Please save your work."
)

// Publisher receives the switch result. pkg/bus implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Request asks for the machine, currently running Active, to boot Desired.
type Request struct {
	Active  bootos.Family
	Desired bootos.Desired
	// SkipSessionCheck is set when retrying after a busy volume; the user has
	// already been warned.
	SkipSessionCheck bool
}

// Result records the states a switch went through, starting with Idle.
type Result struct {
	From    bootos.Family `json:"from"`
	To      bootos.Family `json:"to"`
	Changed bool          `json:"changed"`
	States  []SwitchState `json:"states"`
}

// Final is the last state reached.
func (r Result) Final() SwitchState {
	if len(r.States) == 0 {
		return Idle
	}
	return r.States[len(r.States)-1]
}

// SwitchError is returned when the step leaving State fails.
type SwitchError struct {
	State SwitchState
	Err   error
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("switch failed after %s: %v", e.State, e.Err)
}

func (e *SwitchError) Unwrap() error { return e.Err }

// Driver runs one boot switch. Volume and Rebooter are required; a nil Guard
// skips the session check.
type Driver struct {
	Volume      Volume
	Guard       Guard
	Rebooter    Rebooter
	Logger      *log.Logger
	GracePeriod time.Duration
	Message     string
	Metrics     *metrics.Fleet
	Events      Publisher
	Tracer      trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
}

type switchEvent struct {
	Host       string    `json:"host"`
	Result     Result    `json:"result"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Switch drives Idle to RebootTriggered. When the desired OS is already
// running it returns at once without touching the volume or the guard.
func (d *Driver) Switch(ctx context.Context, req Request) (Result, error) {
	target := req.Desired.Resolve(req.Active)
	res := Result{From: req.Active, To: target, States: []SwitchState{Idle}}

	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer("fleetboot/services/switcher")
	}
	ctx, span := tracer.Start(ctx, "switch", trace.WithAttributes(
		attribute.String("switch.active_os", req.Active.String()),
		attribute.String("switch.desired_os", req.Desired.String()),
		attribute.String("switch.target_os", target.String()),
	))
	defer span.End()

	logger := d.logger()
	logger.Printf("INFO current system OS: %s, desired: %s", req.Active, req.Desired)

	if target == req.Active {
		logger.Printf("INFO %s is already active, nothing to do", target)
		d.finish(ctx, res, nil, "noop")
		return res, nil
	}

	res.Changed = true
	err := d.run(ctx, &res, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Printf("ERROR %v", err)
		d.finish(ctx, res, err, "failed")
		return res, err
	}
	d.finish(ctx, res, nil, "rebooted")
	return res, nil
}

func (d *Driver) run(ctx context.Context, res *Result, req Request, span trace.Span) error {
	if d.Volume == nil || d.Rebooter == nil {
		return d.fail(res, errors.New("volume and rebooter are required"))
	}
	logger := d.logger()

	advance := func(next SwitchState, step func() error) error {
		if err := step(); err != nil {
			return d.fail(res, err)
		}
		res.States = append(res.States, next)
		span.AddEvent(next.String())
		logger.Printf("DEBUG state %s", next)
		return nil
	}

	if err := advance(SessionChecked, func() error {
		if req.SkipSessionCheck {
			logger.Printf("INFO session check skipped on retry")
			return nil
		}
		return d.checkSessions(ctx, req.Active)
	}); err != nil {
		return err
	}

	if err := advance(VolumeMounted, func() error {
		return d.Volume.Mount(ctx)
	}); err != nil {
		return err
	}

	suffix := bootos.ConfigSuffix(res.To)
	if err := advance(ConfigInstalled, func() error {
		logger.Printf("INFO setting %s as default boot entry", res.To)
		err := d.Volume.Install(ctx, suffix)
		if err != nil {
			if uerr := d.Volume.Unmount(ctx); uerr != nil {
				logger.Printf("WARN unmount after failed install: %v", uerr)
			}
		}
		return err
	}); err != nil {
		return err
	}

	if err := advance(VolumeUnmounted, func() error {
		return d.Volume.Unmount(ctx)
	}); err != nil {
		return err
	}

	if err := advance(Verified, func() error {
		mounted, err := d.Volume.Mounted(ctx)
		if err != nil {
			return err
		}
		if mounted {
			return ErrStillMounted
		}
		return nil
	}); err != nil {
		return err
	}

	return advance(RebootTriggered, func() error {
		logger.Printf("INFO initiating system reboot")
		return d.Rebooter.Reboot(ctx, req.Active)
	})
}

func (d *Driver) fail(res *Result, err error) error {
	from := res.Final()
	res.States = append(res.States, Failed)
	return &SwitchError{State: from, Err: err}
}

// checkSessions warns an active user and waits out the grace period. A failed
// lookup counts as no session; a failed notification is only logged.
func (d *Driver) checkSessions(ctx context.Context, active bootos.Family) error {
	logger := d.logger()
	if d.Guard == nil {
		return nil
	}
	s, err := d.Guard.FindActiveSession(ctx, active)
	if err != nil {
		logger.Printf("WARN session lookup failed, proceeding: %v", err)
		return nil
	}
	if s == nil {
		logger.Printf("INFO no active session detected, proceeding")
		return nil
	}

	msg := d.Message
	if msg == "" {
		msg = DefaultNotice
	}
	if err := d.Guard.Notify(ctx, s, msg); err != nil {
		logger.Printf("WARN notify %s: %v", s.User, err)
	}

	grace := d.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	logger.Printf("INFO active session for %s, waiting %s before proceeding", s.User, grace)
	sleep := d.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, grace)
}

func (d *Driver) finish(ctx context.Context, res Result, err error, result string) {
	d.Metrics.Switch(result)
	if d.Events == nil {
		return
	}
	host, _ := os.Hostname()
	ev := switchEvent{Host: host, Result: res, FinishedAt: time.Now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := d.Events.Publish(ctx, bus.SwitchFinishedSubject, ev); perr != nil {
		d.logger().Printf("WARN publish %s: %v", bus.SwitchFinishedSubject, perr)
	}
}

func (d *Driver) logger() *log.Logger {
	if d.Logger == nil {
		return log.Default()
	}
	return d.Logger
}

// SwitchWithRetry retries a switch whose mount failed on a busy volume, up to
// retries more times, waiting delay in between. Retries skip the session check.
// Failures after the volume was mounted are returned as they are.
func (d *Driver) SwitchWithRetry(ctx context.Context, req Request, retries int, delay time.Duration) (Result, error) {
	res, err := d.Switch(ctx, req)
	for attempt := 1; attempt <= retries && mountBusy(err); attempt++ {
		d.logger().Printf("WARN volume busy, retry %d/%d in %s", attempt, retries, delay)
		if serr := sleepContext(ctx, delay); serr != nil {
			return res, err
		}
		req.SkipSessionCheck = true
		res, err = d.Switch(ctx, req)
	}
	return res, err
}

func mountBusy(err error) bool {
	var serr *SwitchError
	return errors.As(err, &serr) && serr.State == SessionChecked && errors.Is(err, ErrVolumeBusy)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
