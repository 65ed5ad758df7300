package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"fleetboot/pkg/bootos"
	"fleetboot/services/fleet"
	"fleetboot/services/switcher"
)

type switchReport struct {
	switcher.Result
	Error string `json:"error,omitempty"`
}

func newSwitchCommand() *cobra.Command {
	var (
		mountRetries     int
		mountRetryDelay  time.Duration
		skipSessionCheck bool
	)

	cmd := &cobra.Command{
		Use:   "switch <ubuntu|windows|lastOS>",
		Short: "Make the desired OS the default boot entry and reboot into it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desired, err := bootos.ParseDesired(args[0])
			if err != nil {
				return &fleet.ConfigError{Field: "desired_os", Err: err}
			}

			a, err := newApp(cmd.Context(), "switch")
			if err != nil {
				return err
			}
			defer a.close()

			flags := cmd.Flags()
			if !flags.Changed("mount-retries") {
				mountRetries = a.cfg.Switch.MountRetries
			}
			if !flags.Changed("mount-retry-delay") {
				mountRetryDelay = a.cfg.Switch.MountRetryDelay
			}
			if !flags.Changed("skip-session-check") {
				skipSessionCheck = a.cfg.Switch.SkipSession
			}

			active, err := switcher.LocalFamily()
			if err != nil {
				return err
			}
			volume, err := switcher.NewPlatformVolume(switcher.PlatformOptions{
				Device:     a.cfg.Switch.ESPDevice,
				MountPoint: a.cfg.Switch.ESPMountPoint,
				Letter:     a.cfg.Switch.ESPLetter,
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}

			d := &switcher.Driver{
				Volume: volume,
				Guard: &switcher.CommandGuard{
					IgnoreUser: a.cfg.Switch.IgnoreUser,
					Title:      a.cfg.Switch.NoticeTitle,
				},
				Rebooter:    switcher.CommandRebooter{},
				Logger:      a.logger,
				GracePeriod: a.cfg.Switch.GracePeriod,
				Message:     a.cfg.Switch.Notice,
				Metrics:     a.metrics,
				Events:      a.publisher(),
			}
			return runSwitch(cmd.Context(), cmd.OutOrStdout(), d, switcher.Request{
				Active:           active,
				Desired:          desired,
				SkipSessionCheck: skipSessionCheck,
			}, mountRetries, mountRetryDelay)
		},
	}

	cmd.Flags().IntVar(&mountRetries, "mount-retries", 0, "Retries when the boot volume is busy")
	cmd.Flags().DurationVar(&mountRetryDelay, "mount-retry-delay", 5*time.Second, "Delay between mount retries")
	cmd.Flags().BoolVar(&skipSessionCheck, "skip-session-check", false, "Do not look for or warn logged-in users")
	return cmd
}

// runSwitch drives d, writes the switch report to w and maps a failed switch
// to ExitFailed.
func runSwitch(ctx context.Context, w io.Writer, d *switcher.Driver, req switcher.Request, retries int, delay time.Duration) error {
	res, switchErr := d.SwitchWithRetry(ctx, req, retries, delay)

	report := switchReport{Result: res}
	if switchErr != nil {
		report.Error = switchErr.Error()
	}
	if err := writeJSON(w, report); err != nil {
		return err
	}
	if switchErr != nil {
		return &exitError{code: fleet.ExitFailed, err: switchErr}
	}
	return nil
}
