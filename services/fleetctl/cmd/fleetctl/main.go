package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Wake, confirm and switch dual-boot machines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newConfirmCommand())
	cmd.AddCommand(newWakeCommand())
	cmd.AddCommand(newSwitchCommand())
	return cmd
}

// exitError carries a process exit code. A nil err means the report on stdout
// already explains the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}
