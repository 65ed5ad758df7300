package main

import (
	"github.com/spf13/cobra"

	"fleetboot/pkg/bootos"
	"fleetboot/services/fleet"
)

func newConfirmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm '<JSON_HOSTS>' <ubuntu|windows|lastOS>",
		Short: "Wait until every host is running the desired OS",
		Long: "Polls each host until it answers and reports the desired OS over SSH, " +
			"then prints {matched_hosts, failed_hosts, desired_os}. No wake packets are sent.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := fleet.ParseInventory(args[0], false)
			if err != nil {
				return err
			}
			desired, err := bootos.ParseDesired(args[1])
			if err != nil {
				return &fleet.ConfigError{Field: "desired_os", Err: err}
			}

			a, err := newApp(cmd.Context(), "confirm")
			if err != nil {
				return err
			}
			defer a.close()

			prober, err := a.prober()
			if err != nil {
				return err
			}
			c, err := fleet.NewController(fleet.Options{
				Config:  a.controllerConfig(),
				Pinger:  a.pinger(),
				Prober:  prober,
				Logger:  a.logger,
				Metrics: a.metrics,
				Events:  a.publisher(),
			})
			if err != nil {
				return err
			}
			a.logger.Printf("INFO run %s: confirming %d host(s) run %s", c.RunID(), len(hosts), desired)

			report := c.Confirm(cmd.Context(), hosts, desired)
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			return exitWith(report.ExitCode())
		},
	}
}
