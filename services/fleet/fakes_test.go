package fleet

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"fleetboot/pkg/bootos"
)

var errUnreachable = errors.New("unreachable")

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// fakePinger answers for an IP from the n-th probe onwards. IPs missing from
// upFrom never answer.
type fakePinger struct {
	mu     sync.Mutex
	upFrom map[string]int
	calls  map[string]int
}

func newFakePinger(upFrom map[string]int) *fakePinger {
	return &fakePinger{upFrom: upFrom, calls: map[string]int{}}
}

func (p *fakePinger) Ping(_ context.Context, ip string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[ip]++
	if n, ok := p.upFrom[ip]; ok && p.calls[ip] >= n {
		return nil
	}
	return errUnreachable
}

func (p *fakePinger) count(ip string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ip]
}

type probeResult struct {
	family bootos.Family
	err    error
}

// fakeProber replays per-IP results; the last result repeats.
type fakeProber struct {
	mu      sync.Mutex
	results map[string][]probeResult
	calls   map[string]int
	before  map[string]func()
}

func newFakeProber(results map[string][]probeResult) *fakeProber {
	return &fakeProber{results: results, calls: map[string]int{}, before: map[string]func(){}}
}

func (p *fakeProber) DetectOS(_ context.Context, ip string) (bootos.Family, error) {
	p.mu.Lock()
	hook := p.before[ip]
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls[ip]
	p.calls[ip]++
	rs := p.results[ip]
	if len(rs) == 0 {
		return "", &TransportError{IP: ip, Op: "ssh connect", Err: errUnreachable}
	}
	if n >= len(rs) {
		n = len(rs) - 1
	}
	return rs[n].family, rs[n].err
}

func (p *fakeProber) count(ip string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[ip]
}

type fakeWaker struct {
	mu    sync.Mutex
	err   error
	calls map[string]int
}

func (w *fakeWaker) SendWake(_ context.Context, mac, ip string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls == nil {
		w.calls = map[string]int{}
	}
	w.calls[ip]++
	return w.err
}

func (w *fakeWaker) count(ip string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[ip]
}

type published struct {
	subject string
	value   any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Publish(_ context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{subject: subject, value: v})
	return nil
}

func (p *fakePublisher) subjects() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]int{}
	for _, e := range p.events {
		out[e.subject]++
	}
	return out
}
