package switcher

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strings"

	"fleetboot/pkg/bootos"
)

const DefaultNoticeTitle = "Maintenance"

// Session is an interactive desktop session on the local machine.
type Session struct {
	User   string
	ID     string // qwinsta session id, empty on Linux
	Family bootos.Family
}

// Guard finds the logged-in user and warns them before a reboot.
type Guard interface {
	FindActiveSession(ctx context.Context, family bootos.Family) (*Session, error)
	Notify(ctx context.Context, s *Session, message string) error
}

// CommandGuard queries sessions with who(1) or qwinsta and notifies with
// notify-send or msg.
type CommandGuard struct {
	// IgnoreUser is the maintenance account; its sessions never count.
	IgnoreUser string
	Title      string
	Run        Runner

	lookupUID func(name string) (string, error)
}

func (g *CommandGuard) FindActiveSession(ctx context.Context, family bootos.Family) (*Session, error) {
	run := runnerOrDefault(g.Run)
	switch family {
	case bootos.Ubuntu:
		out, err := run(ctx, "who", "-u")
		if err != nil {
			return nil, fmt.Errorf("who -u: %w", err)
		}
		return parseWho(string(out), g.IgnoreUser), nil
	case bootos.Windows:
		out, err := run(ctx, "qwinsta")
		if err != nil {
			return nil, fmt.Errorf("qwinsta: %w", err)
		}
		return parseQwinsta(string(out), g.IgnoreUser), nil
	default:
		return nil, fmt.Errorf("unsupported os %q", family)
	}
}

func (g *CommandGuard) Notify(ctx context.Context, s *Session, message string) error {
	if s == nil {
		return errors.New("no session to notify")
	}
	run := runnerOrDefault(g.Run)

	if s.Family == bootos.Windows {
		if out, err := run(ctx, "msg", s.ID, message); err != nil {
			return fmt.Errorf("msg %s: %w: %s", s.ID, err, strings.TrimSpace(string(out)))
		}
		return nil
	}

	lookup := g.lookupUID
	if lookup == nil {
		lookup = lookupUID
	}
	uid, err := lookup(s.User)
	if err != nil {
		return fmt.Errorf("lookup uid of %s: %w", s.User, err)
	}
	title := g.Title
	if title == "" {
		title = DefaultNoticeTitle
	}
	out, err := run(ctx, "sudo", "-u", s.User,
		"DISPLAY=:0",
		"DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/"+uid+"/bus",
		"notify-send", "-u", "critical", "-t", "300000", title, message)
	if err != nil {
		return fmt.Errorf("notify-send for %s: %w: %s", s.User, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func lookupUID(name string) (string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return "", err
	}
	return u.Uid, nil
}

// parseWho returns the first graphical session in `who -u` output. Xorg
// sessions show up on ":0" or "seat0"; GDM on Wayland records the VT it runs
// on, as in "tty2 ... (tty2)". A text console login on a VT has no such comment.
func parseWho(out, ignore string) *Session {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || ignored(fields[0], ignore) {
			continue
		}
		graphical := fields[1] == ":0" || fields[1] == "seat0" ||
			strings.Contains(line, "(:0)") || strings.Contains(line, "login screen") ||
			(isVT(fields[1]) && strings.Contains(line, "("+fields[1]+")"))
		if graphical {
			return &Session{User: fields[0], Family: bootos.Ubuntu}
		}
	}
	return nil
}

func isVT(tty string) bool {
	n, ok := strings.CutPrefix(tty, "tty")
	if !ok || n == "" {
		return false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseQwinsta returns the first Active session in qwinsta output. Rows look
// like ">console  jdoe  1  Active"; the session name column may be blank, so
// fields are located relative to the state column.
func parseQwinsta(out, ignore string) *Session {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		state := -1
		for i, f := range fields {
			if strings.EqualFold(f, "Active") {
				state = i
				break
			}
		}
		if state < 2 {
			continue
		}
		name := strings.TrimPrefix(fields[state-2], ">")
		if ignored(name, ignore) {
			continue
		}
		return &Session{User: name, ID: fields[state-1], Family: bootos.Windows}
	}
	return nil
}

func ignored(name, ignore string) bool {
	return ignore != "" && strings.EqualFold(name, ignore)
}
