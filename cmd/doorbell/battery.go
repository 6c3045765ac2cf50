package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"doorbell-go/drivers/battery"
	"doorbell-go/services/hal"
	"doorbell-go/x/logx"
)

func newBatteryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "battery",
		Short: "Take one battery reading and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := opts.load()
			if err != nil {
				return err
			}
			board, err := hal.Open(cfg, nil, logx.WithComponent("hal"))
			if err != nil {
				return err
			}
			defer board.Close()

			r, err := battery.New(board.Sampler, battery.Config{
				Samples: cfg.Battery.Samples,
				R1:      cfg.Battery.R1,
				R2:      cfg.Battery.R2,
			}).Read()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f V  %d%%\n", r.Volts(), r.Percent)
			return nil
		},
	}
}
