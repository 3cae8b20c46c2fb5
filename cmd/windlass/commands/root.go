// Package commands implements the windlass command line interface.
package commands

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/windlass-cd/windlass/common"
	"github.com/windlass-cd/windlass/util/env"
	utillog "github.com/windlass-cd/windlass/util/log"
)

// NewCommand returns a new instance of the windlass root command
func NewCommand() *cobra.Command {
	var (
		logFormat string
		logLevel  string
	)
	command := &cobra.Command{
		Use:   "windlass",
		Short: "windlass promotes image tags through reviewed descriptor changes and reconciles them",
		PersistentPreRun: func(c *cobra.Command, args []string) {
			c.SetOutput(c.OutOrStdout())
			log.SetFormatter(utillog.CreateFormatter(logFormat))
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				level = log.InfoLevel
			}
			log.SetLevel(level)
		},
		Run: func(c *cobra.Command, args []string) {
			c.HelpFunc()(c, args)
		},
	}
	command.PersistentFlags().StringVar(&logFormat, "logformat", env.StringFromEnv(common.EnvLogFormat, "text"), "Set the logging format. One of: text|json")
	command.PersistentFlags().StringVar(&logLevel, "loglevel", env.StringFromEnv(common.EnvLogLevel, "info"), "Set the logging level. One of: debug|info|warn|error")

	command.AddCommand(NewControllerCommand())
	command.AddCommand(NewPromoteCommand())
	command.AddCommand(NewStatusCommand())
	command.AddCommand(NewReviewsCommand())
	command.AddCommand(NewVersionCommand())
	return command
}

// NewVersionCommand returns a command that prints version information
func NewVersionCommand() *cobra.Command {
	var short bool
	command := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(c *cobra.Command, args []string) {
			version := common.GetVersion()
			fmt.Printf("%s: %s\n", c.Root().Name(), version)
			if short {
				return
			}
			fmt.Printf("  BuildDate: %s\n", version.BuildDate)
			fmt.Printf("  GitCommit: %s\n", version.GitCommit)
			fmt.Printf("  GoVersion: %s\n", version.GoVersion)
			fmt.Printf("  Platform: %s\n", version.Platform)
		},
	}
	command.Flags().BoolVar(&short, "short", false, "print just the version number")
	return command
}
