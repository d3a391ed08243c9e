package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion records build metadata for the version command.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
	)
	root := &cobra.Command{
		Use:   "pomobot",
		Short: "Pomodoro timer bot for group chats",
		Long: `pomobot runs shared pomodoro sessions in chat channels. Sessions survive
restarts: phases that elapsed while the bot was down are caught up on start.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnv(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	runCmd := newRunCmd(&cfgPath)
	root.RunE = runCmd.RunE
	root.AddCommand(runCmd, newSessionsCmd(&cfgPath), newVersionCmd())
	return root
}

// loadEnv reads a dotenv file. A missing default file is fine; a missing
// file named explicitly is not.
func loadEnv(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pomobot %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
