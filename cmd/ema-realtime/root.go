package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "ema-realtime",
		Short:         "Talk to a realtime voice agent from the terminal",
		Long:          "ema-realtime connects to a realtime voice agent over a websocket, streams the microphone while listening and plays the agent's answers, with barge-in.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default is the user config directory)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version + "\n"))
			return err
		},
	}
}
