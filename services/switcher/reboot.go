package switcher

import (
	"context"
	"fmt"
	"strings"

	"fleetboot/pkg/bootos"
)

// Rebooter restarts the local machine.
type Rebooter interface {
	Reboot(ctx context.Context, running bootos.Family) error
}

// CommandRebooter uses systemctl on Linux and shutdown.exe on Windows.
type CommandRebooter struct {
	Run Runner
}

func (r CommandRebooter) Reboot(ctx context.Context, running bootos.Family) error {
	name, args := rebootCommand(running)
	if out, err := runnerOrDefault(r.Run)(ctx, name, args...); err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func rebootCommand(running bootos.Family) (string, []string) {
	if running == bootos.Windows {
		return "shutdown", []string{"/r", "/t", "0"}
	}
	return "systemctl", []string{"reboot"}
}
