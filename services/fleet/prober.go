package fleet

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"fleetboot/pkg/bootos"
)

const (
	DefaultSSHPort    = 22
	DefaultSSHTimeout = 5 * time.Second

	osIdentityCommand = "uname -s"
)

// Prober identifies the OS family a reachable host is running.
type Prober interface {
	DetectOS(ctx context.Context, ip string) (bootos.Family, error)
}

// SSHProberConfig configures NewSSHProber.
type SSHProberConfig struct {
	Credentials Credentials
	Port        int
	Timeout     time.Duration
	// KnownHostsFile enables host key verification. Empty accepts any host
	// key, which is what lab fleets that get reimaged regularly need.
	KnownHostsFile string
}

// SSHProber runs `uname -s` over a fresh SSH session per call.
type SSHProber struct {
	config  *ssh.ClientConfig
	port    int
	timeout time.Duration
}

func NewSSHProber(cfg SSHProberConfig) (*SSHProber, error) {
	if cfg.Credentials.User == "" {
		return nil, &ConfigError{Field: "ssh user", Err: errors.New("is required")}
	}

	var auth []ssh.AuthMethod
	if len(cfg.Credentials.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.Credentials.PrivateKey)
		if err != nil {
			return nil, &ConfigError{Field: "ssh private key", Err: err}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Credentials.Password != "" {
		password := cfg.Credentials.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, &ConfigError{Field: "ssh credentials", Err: errors.New("a password or private key is required")}
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, &ConfigError{Field: "known hosts", Err: err}
		}
		hostKeyCallback = cb
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSSHTimeout
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultSSHPort
	}

	return &SSHProber{
		config: &ssh.ClientConfig{
			User:            cfg.Credentials.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         timeout,
		},
		port:    port,
		timeout: timeout,
	}, nil
}

// DetectOS connects, runs the identity command and classifies its output. A
// non-zero exit status is not an error: Windows hosts have no uname and their
// empty output classifies as windows.
func (p *SSHProber) DetectOS(ctx context.Context, ip string) (bootos.Family, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(p.port))

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", &TransportError{IP: ip, Op: "ssh connect", Err: err}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Bounds the handshake and the command together.
	if err := conn.SetDeadline(time.Now().Add(p.timeout)); err != nil {
		conn.Close()
		return "", &TransportError{IP: ip, Op: "ssh connect", Err: err}
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, p.config)
	if err != nil {
		conn.Close()
		return "", &TransportError{IP: ip, Op: "ssh handshake", Err: err}
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", &TransportError{IP: ip, Op: "ssh session", Err: err}
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(osIdentityCommand); err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return "", &TransportError{IP: ip, Op: "ssh exec", Err: err}
		}
	}

	return bootos.Classify(stdout.String()), nil
}
