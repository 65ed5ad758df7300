package fleet

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"testing"
	"time"

	"fleetboot/pkg/bootos"
	"fleetboot/pkg/bus"
	"fleetboot/pkg/metrics"
)

func newTestController(t *testing.T, opts Options) *Controller {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Config.RetryDelay == 0 {
		opts.Config.RetryDelay = time.Millisecond
	}
	if opts.Config.WakePeriod == 0 {
		opts.Config.WakePeriod = time.Millisecond
	}
	if opts.Config.WakeTimeout == 0 {
		opts.Config.WakeTimeout = 50 * time.Millisecond
	}
	c, err := NewController(opts)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return c
}

func TestNewControllerRequiresDependencies(t *testing.T) {
	if _, err := NewController(Options{Prober: newFakeProber(nil)}); err == nil {
		t.Fatal("expected error without pinger")
	}
	if _, err := NewController(Options{Pinger: newFakePinger(nil)}); err == nil {
		t.Fatal("expected error without prober")
	}
}

func TestConfirmMatchesOnThirdAttempt(t *testing.T) {
	pinger := newFakePinger(map[string]int{"10.0.0.5": 3})
	prober := newFakeProber(map[string][]probeResult{
		"10.0.0.5": {{family: bootos.Classify("Linux")}},
	})
	c := newTestController(t, Options{Pinger: pinger, Prober: prober})

	report := c.Confirm(context.Background(), []HostRecord{{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"}}, bootos.DesiredUbuntu)

	got, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	want := `{"matched_hosts":[{"ip":"10.0.0.5","mac":"AA:BB:CC:DD:EE:FF","os_detected":"ubuntu","status":"matched","attempts":3}],"failed_hosts":[],"desired_os":"ubuntu"}`
	if string(got) != want {
		t.Fatalf("report = %s\nwant     %s", got, want)
	}
	if code := report.ExitCode(); code != ExitOK {
		t.Fatalf("ExitCode() = %d, want %d", code, ExitOK)
	}
	if n := prober.count("10.0.0.5"); n != 1 {
		t.Fatalf("DetectOS called %d times, want 1", n)
	}
}

func TestConfirmLastOSAcceptsAnyFamily(t *testing.T) {
	pinger := newFakePinger(map[string]int{"10.0.0.1": 1, "10.0.0.2": 1})
	prober := newFakeProber(map[string][]probeResult{
		"10.0.0.1": {{family: bootos.Windows}},
		"10.0.0.2": {{family: bootos.Ubuntu}},
	})
	c := newTestController(t, Options{Pinger: pinger, Prober: prober})

	report := c.Confirm(context.Background(), []HostRecord{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}, bootos.LastOS)

	want := []ProbeOutcome{
		{IP: "10.0.0.1", OSDetected: DetectedWindows, Status: StatusMatched, Attempts: 1},
		{IP: "10.0.0.2", OSDetected: DetectedUbuntu, Status: StatusMatched, Attempts: 1},
	}
	if !reflect.DeepEqual(report.Matched, want) {
		t.Fatalf("Matched = %+v, want %+v", report.Matched, want)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("Failed = %+v, want none", report.Failed)
	}
}

func TestConfirmRetriesMismatchAndTransportErrors(t *testing.T) {
	pinger := newFakePinger(map[string]int{"10.0.0.7": 1})
	prober := newFakeProber(map[string][]probeResult{
		"10.0.0.7": {
			{family: bootos.Windows},
			{err: &TransportError{IP: "10.0.0.7", Op: "ssh handshake", Err: errUnreachable}},
			{family: bootos.Ubuntu},
		},
	})
	c := newTestController(t, Options{Pinger: pinger, Prober: prober})

	report := c.Confirm(context.Background(), []HostRecord{{IP: "10.0.0.7"}}, bootos.DesiredUbuntu)

	if len(report.Matched) != 1 || report.Matched[0].Attempts != 3 {
		t.Fatalf("Matched = %+v, want one host matched on attempt 3", report.Matched)
	}
}

func TestConfirmExhaustsAttempts(t *testing.T) {
	pinger := newFakePinger(nil)
	prober := newFakeProber(nil)
	c := newTestController(t, Options{
		Config: Config{MaxAttempts: 60},
		Pinger: pinger,
		Prober: prober,
	})

	report := c.Confirm(context.Background(), []HostRecord{{IP: "10.0.0.9", MAC: "aa:bb:cc:dd:ee:01"}}, bootos.DesiredWindows)

	want := []ProbeOutcome{{IP: "10.0.0.9", MAC: "aa:bb:cc:dd:ee:01", OSDetected: DetectedTimeout, Status: StatusFailed, Attempts: 60}}
	if !reflect.DeepEqual(report.Failed, want) {
		t.Fatalf("Failed = %+v, want %+v", report.Failed, want)
	}
	if n := pinger.count("10.0.0.9"); n != 60 {
		t.Fatalf("probes = %d, want 60", n)
	}
	if n := prober.count("10.0.0.9"); n != 0 {
		t.Fatalf("DetectOS called %d times for an unreachable host", n)
	}
	if code := report.ExitCode(); code != ExitFailed {
		t.Fatalf("ExitCode() = %d, want %d", code, ExitFailed)
	}
}

func TestConfirmStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestController(t, Options{
		Config: Config{RetryDelay: time.Hour},
		Pinger: newFakePinger(nil),
		Prober: newFakeProber(nil),
	})
	report := c.Confirm(ctx, []HostRecord{{IP: "10.0.0.9"}}, bootos.DesiredUbuntu)
	if len(report.Failed) != 1 || report.Failed[0].Attempts != 1 {
		t.Fatalf("Failed = %+v, want a single attempt", report.Failed)
	}
}

func TestConfirmPreservesInputOrder(t *testing.T) {
	hosts := []HostRecord{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}, {IP: "10.0.0.3"}}
	pinger := newFakePinger(map[string]int{"10.0.0.1": 1, "10.0.0.2": 1, "10.0.0.3": 1})
	prober := newFakeProber(map[string][]probeResult{
		"10.0.0.1": {{family: bootos.Ubuntu}},
		"10.0.0.2": {{family: bootos.Ubuntu}},
		"10.0.0.3": {{family: bootos.Ubuntu}},
	})

	// Force completion order C, A, B.
	var (
		mu        sync.Mutex
		completed []string
		cDone     = make(chan struct{})
		aDone     = make(chan struct{})
	)
	done := func(ip string) {
		mu.Lock()
		completed = append(completed, ip)
		mu.Unlock()
	}
	prober.before["10.0.0.3"] = func() { done("10.0.0.3"); close(cDone) }
	prober.before["10.0.0.1"] = func() { <-cDone; done("10.0.0.1"); close(aDone) }
	prober.before["10.0.0.2"] = func() { <-aDone; done("10.0.0.2") }

	c := newTestController(t, Options{Config: Config{Workers: 3}, Pinger: pinger, Prober: prober})
	report := c.Confirm(context.Background(), hosts, bootos.DesiredUbuntu)

	if want := []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}; !reflect.DeepEqual(completed, want) {
		t.Fatalf("completion order = %v, want %v", completed, want)
	}
	var order []string
	for _, o := range report.Matched {
		order = append(order, o.IP)
	}
	if want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("report order = %v, want %v", order, want)
	}
}

func TestConfirmPublishesAndRecords(t *testing.T) {
	pinger := newFakePinger(map[string]int{"10.0.0.1": 1})
	prober := newFakeProber(map[string][]probeResult{"10.0.0.1": {{family: bootos.Ubuntu}}})
	events := &fakePublisher{}
	m := metrics.NewFleet()
	c := newTestController(t, Options{
		Config:  Config{MaxAttempts: 2},
		Pinger:  pinger,
		Prober:  prober,
		Events:  events,
		Metrics: m,
	})

	c.Confirm(context.Background(), []HostRecord{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}}, bootos.DesiredUbuntu)

	want := map[string]int{bus.HostOutcomeSubject: 2, bus.RunFinishedSubject: 1}
	if got := events.subjects(); !reflect.DeepEqual(got, want) {
		t.Fatalf("published subjects = %v, want %v", got, want)
	}
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected metrics to be recorded")
	}
}

func TestWakeUnreachableHostIsUnknown(t *testing.T) {
	pinger := newFakePinger(nil)
	prober := newFakeProber(map[string][]probeResult{"10.0.0.5": {{family: bootos.Ubuntu}}})
	waker := &fakeWaker{}
	c := newTestController(t, Options{
		Config: Config{WakeTimeout: 20 * time.Millisecond},
		Pinger: pinger,
		Waker:  waker,
		Prober: prober,
	})

	report := c.Wake(context.Background(), []HostRecord{{IP: "10.0.0.5", MAC: "AA:BB:CC:DD:EE:FF"}})

	got, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	want := `{"os_detected":{"10.0.0.5":"unknown"},"failed_hosts":[{"ip":"10.0.0.5","mac":"AA:BB:CC:DD:EE:FF"}]}`
	if string(got) != want {
		t.Fatalf("report = %s\nwant     %s", got, want)
	}
	if n := prober.count("10.0.0.5"); n != 0 {
		t.Fatalf("DetectOS called %d times for an unreachable host", n)
	}
	if n := waker.count("10.0.0.5"); n < 1 || n != pinger.count("10.0.0.5") {
		t.Fatalf("wakes = %d, probes = %d; want one wake per probe", n, pinger.count("10.0.0.5"))
	}
	if code := report.ExitCode(); code != ExitFailed {
		t.Fatalf("ExitCode() = %d, want %d", code, ExitFailed)
	}
}

func TestWakePartialFailure(t *testing.T) {
	pinger := newFakePinger(map[string]int{"10.0.0.1": 2})
	prober := newFakeProber(map[string][]probeResult{"10.0.0.1": {{family: bootos.Windows}}})
	c := newTestController(t, Options{
		Config: Config{WakeTimeout: 30 * time.Millisecond},
		Pinger: pinger,
		Waker:  &fakeWaker{},
		Prober: prober,
	})

	report := c.Wake(context.Background(), []HostRecord{
		{IP: "10.0.0.1", MAC: "aa:bb:cc:dd:ee:01"},
		{IP: "10.0.0.2", MAC: "aa:bb:cc:dd:ee:02"},
	})

	want := []ProbeOutcome{
		{IP: "10.0.0.1", MAC: "aa:bb:cc:dd:ee:01", OSDetected: DetectedWindows, Status: StatusMatched, Attempts: 2},
		{IP: "10.0.0.2", MAC: "aa:bb:cc:dd:ee:02", OSDetected: DetectedUnknown, Status: StatusFailed, Attempts: report.Outcomes[1].Attempts},
	}
	if !reflect.DeepEqual(report.Outcomes, want) {
		t.Fatalf("Outcomes = %+v, want %+v", report.Outcomes, want)
	}
	if code := report.ExitCode(); code != ExitPartial {
		t.Fatalf("ExitCode() = %d, want %d", code, ExitPartial)
	}
}

func TestWakeProbesOSExactlyOnce(t *testing.T) {
	pinger := newFakePinger(map[string]int{"10.0.0.1": 1})
	prober := newFakeProber(map[string][]probeResult{
		"10.0.0.1": {{err: &TransportError{IP: "10.0.0.1", Op: "ssh handshake", Err: errUnreachable}}, {family: bootos.Ubuntu}},
	})
	c := newTestController(t, Options{Pinger: pinger, Waker: &fakeWaker{}, Prober: prober})

	report := c.Wake(context.Background(), []HostRecord{{IP: "10.0.0.1", MAC: "aa:bb:cc:dd:ee:01"}})

	if n := prober.count("10.0.0.1"); n != 1 {
		t.Fatalf("DetectOS called %d times, want 1", n)
	}
	if got := report.Outcomes[0]; got.OSDetected != DetectedUnknown || got.Status != StatusMatched {
		t.Fatalf("outcome = %+v, want reachable host with unknown os", got)
	}
	if code := report.ExitCode(); code != ExitOK {
		t.Fatalf("ExitCode() = %d, want %d", code, ExitOK)
	}
}
