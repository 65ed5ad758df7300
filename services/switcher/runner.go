package switcher

import (
	"context"
	"os/exec"
)

// Runner executes a local utility and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func runnerOrDefault(r Runner) Runner {
	if r == nil {
		return execRunner
	}
	return r
}
