package main

import (
	"github.com/spf13/cobra"

	"fleetboot/services/fleet"
)

func newWakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "wake '<JSON_HOSTS>'",
		Short: "Wake every host and report which OS it came up in",
		Long: "Sends Wake-on-LAN packets until each host answers or the wake window " +
			"closes, identifies the OS once and prints {os_detected, failed_hosts}. " +
			"Exits 2 when only some hosts woke.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := fleet.ParseInventory(args[0], true)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), "wake")
			if err != nil {
				return err
			}
			defer a.close()

			prober, err := a.prober()
			if err != nil {
				return err
			}
			c, err := fleet.NewController(fleet.Options{
				Config: a.controllerConfig(),
				Pinger: a.pinger(),
				Waker: &fleet.UDPWaker{
					Port:      a.cfg.Wake.Port,
					Broadcast: a.cfg.Wake.Broadcast,
					Logger:    a.logger,
				},
				Prober:  prober,
				Logger:  a.logger,
				Metrics: a.metrics,
				Events:  a.publisher(),
			})
			if err != nil {
				return err
			}
			a.logger.Printf("INFO run %s: waking %d host(s)", c.RunID(), len(hosts))

			report := c.Wake(cmd.Context(), hosts)
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return exitWith(report.ExitCode())
		},
	}
}
