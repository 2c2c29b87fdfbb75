package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:3000"

type commandContext struct {
	server  string
	asJSON  bool
	timeout time.Duration
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.server, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "interviewctl",
		Short:         "Operate an interview-render server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("INTERVIEW_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.server, "server", "s", server, "Base URL of the interview-render server")
	rootCmd.PersistentFlags().BoolVar(&ctx.asJSON, "json", false, "Print raw JSON instead of tables")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 15*time.Second, "Request timeout")

	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newRendersCommand(ctx))
	rootCmd.AddCommand(newCleanupCommand(ctx))
	rootCmd.AddCommand(newDriveAuthCommand())

	return rootCmd
}
