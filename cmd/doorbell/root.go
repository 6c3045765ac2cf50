package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"doorbell-go/services/config"
	"doorbell-go/types"
	"doorbell-go/x/logx"
)

type rootOptions struct {
	board     string
	config    string
	logLevel  string
	pretty    bool
	wakeCause string

	cmd *cobra.Command
}

// extraCommands are added by build-tag gated files.
var extraCommands []func(*rootOptions) *cobra.Command

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "doorbell",
		Short:         "Battery-powered wireless doorbell controller",
		Long:          "doorbell rings the chime for button presses, reports presses and battery level over MQTT, then puts the device back into deep sleep.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.cmd = cmd
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.board, "board", os.Getenv("DOORBELL_BOARD"), "board defaults to start from (rpi, sim)")
	pf.StringVarP(&opts.config, "config", "c", "", "TOML file overlaid on the board defaults")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&opts.pretty, "pretty", false, "human-readable log output")
	pf.StringVar(&opts.wakeCause, "wake-cause", "", "override the detected wake cause (timer, signal, other)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newBatteryCmd(opts),
		newConfigCmd(opts),
	)
	for _, f := range extraCommands {
		rootCmd.AddCommand(f(opts))
	}
	return rootCmd
}

// settings applies the command-line overrides on top of the layered
// configuration.
func (o *rootOptions) settings() (*viper.Viper, error) {
	v, err := config.New(o.board, o.config)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		v.Set("log.level", o.logLevel)
	}
	if o.cmd != nil && o.cmd.Flags().Changed("pretty") {
		v.Set("log.pretty", o.pretty)
	}
	if o.wakeCause != "" {
		v.Set("wake.cause", o.wakeCause)
	}
	return v, nil
}

// load resolves the configuration and configures the process logger.
func (o *rootOptions) load() (types.Config, *viper.Viper, zerolog.Logger, error) {
	v, err := o.settings()
	if err != nil {
		return types.Config{}, nil, zerolog.Nop(), err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return types.Config{}, nil, zerolog.Nop(), err
	}
	logx.Configure(logx.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	return cfg, v, logx.Base(), nil
}
