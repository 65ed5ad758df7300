package fleet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const (
	DefaultProbeTimeout = time.Second
	DefaultWakePeriod   = 5 * time.Second
	DefaultWakeTimeout  = 5 * time.Minute
)

// Pinger performs a single reachability probe. A nil error means the host
// answered within timeout.
type Pinger interface {
	Ping(ctx context.Context, ip string, timeout time.Duration) error
}

// Poller waits for hosts to become reachable.
type Poller struct {
	Pinger       Pinger
	Waker        Waker // nil: probe only, never re-wake
	Period       time.Duration
	ProbeTimeout time.Duration
	Logger       *log.Logger

	now func() time.Time
}

// Probe issues one reachability probe.
func (p *Poller) Probe(ctx context.Context, ip string) bool {
	timeout := p.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return p.Pinger.Ping(ctx, ip, timeout) == nil
}

// WaitForHost probes the host every Period until it answers or timeout
// elapses, re-sending a wake packet before every probe when a Waker is set. It
// returns whether the host answered and how many cycles were run.
func (p *Poller) WaitForHost(ctx context.Context, host HostRecord, timeout time.Duration) (bool, int) {
	logger := p.logger()
	now := p.now
	if now == nil {
		now = time.Now
	}
	period := p.Period
	if period <= 0 {
		period = DefaultWakePeriod
	}

	logger.Printf("INFO waiting for %s to respond (timeout %s)", host.IP, timeout)

	start := now()
	cycles := 0
	for now().Sub(start) < timeout {
		cycles++
		if p.Waker != nil {
			if err := p.Waker.SendWake(ctx, host.MAC, host.IP); err != nil {
				logger.Printf("WARN %v", err)
			}
		}
		if p.Probe(ctx, host.IP) {
			logger.Printf("INFO host %s (%s) responding after %d cycle(s)", host.IP, host.MAC, cycles)
			return true, cycles
		}
		if err := sleepContext(ctx, period); err != nil {
			break
		}
	}

	logger.Printf("ERROR host %s (%s) did not respond within %s", host.IP, host.MAC, timeout)
	return false, cycles
}

func (p *Poller) logger() *log.Logger {
	if p.Logger == nil {
		return log.Default()
	}
	return p.Logger
}

// ExecPinger shells out to the system ping utility for a single echo request.
type ExecPinger struct {
	Path string
}

func (e ExecPinger) Ping(ctx context.Context, ip string, timeout time.Duration) error {
	path := e.Path
	if path == "" {
		path = "ping"
	}

	// Give the utility a little headroom past its own -W deadline.
	ctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, path, pingArgs(runtime.GOOS, ip, timeout)...).Run(); err != nil {
		return &TransportError{IP: ip, Op: "ping", Err: err}
	}
	return nil
}

func pingArgs(goos, ip string, timeout time.Duration) []string {
	if goos == "windows" {
		ms := int(timeout / time.Millisecond)
		if ms < 1 {
			ms = 1
		}
		return []string{"-n", "1", "-w", strconv.Itoa(ms), ip}
	}
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return []string{"-c", "1", "-W", strconv.Itoa(secs), ip}
}

var icmpSeq atomic.Uint32

// ICMPPinger sends an ICMP echo directly. Unprivileged mode uses a datagram
// ICMP socket (net.ipv4.ping_group_range must include the process group);
// privileged mode needs a raw socket.
type ICMPPinger struct {
	Privileged bool
}

func (p ICMPPinger) Ping(ctx context.Context, ip string, timeout time.Duration) error {
	dst := net.ParseIP(ip).To4()
	if dst == nil {
		return &TransportError{IP: ip, Op: "ping", Err: errors.New("not an IPv4 address")}
	}

	network := "udp4"
	var addr net.Addr = &net.UDPAddr{IP: dst}
	if p.Privileged {
		network = "ip4:icmp"
		addr = &net.IPAddr{IP: dst}
	}

	conn, err := icmp.ListenPacket(network, "0.0.0.0")
	if err != nil {
		return &TransportError{IP: ip, Op: "ping", Err: fmt.Errorf("listen %s: %w", network, err)}
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return &TransportError{IP: ip, Op: "ping", Err: err}
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  int(icmpSeq.Add(1) & 0xffff),
			Data: []byte("fleetboot"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return &TransportError{IP: ip, Op: "ping", Err: err}
	}
	if _, err := conn.WriteTo(wb, addr); err != nil {
		return &TransportError{IP: ip, Op: "ping", Err: err}
	}

	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			return &TransportError{IP: ip, Op: "ping", Err: err}
		}
		reply, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), rb[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		if peerIP(peer).Equal(dst) {
			return nil
		}
	}
}

func peerIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.UDPAddr:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

// sleepContext blocks for d or until ctx is done.
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
