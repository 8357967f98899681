package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type warmResult struct {
	Routes []string `json:"routes"`
	Warmed int      `json:"warmed"`
}

func NewWarmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "warm [route...]",
		Short: "Fetch key pages through the running proxy so they open offline",
		Long: `Requests each route from the proxy started with "relief-field proxy". With no
arguments the warm_routes from the config file are used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			routes := args
			if len(routes) == 0 {
				routes = cfg.WarmRoutes
			}
			d, err := openDevice(cmd.Context(), cfg, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open device", err)
			}
			defer d.Close()

			warmed, werr := d.coordinator.Warm(cmd.Context(), routes)
			res := warmResult{Routes: routes, Warmed: warmed}
			if err := rootOpts.formatter(cmd).Success(res, fmt.Sprintf("cached %d of %d routes", warmed, len(routes))); err != nil {
				return err
			}
			if werr != nil {
				return WrapExitError(ExitFailure, "warm", werr)
			}
			return nil
		},
	}
}
