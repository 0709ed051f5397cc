package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/chatrelay/internal/config"
	"github.com/phrazzld/chatrelay/internal/platform/logger"
)

// cli carries state shared by all subcommands once the root command has
// loaded configuration.
type cli struct {
	configFile string
	verbose    bool

	config *config.Config
	logger *slog.Logger
}

// newRootCmd builds the command tree. Each call returns an independent tree.
func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "chatrelay",
		Short: "Relay chat messages to Gemini through a rate-limited, caching pipeline",
		Long: `chatrelay sends chat messages to the Gemini API one at a time, keeping
within 60 requests per minute, retrying transient failures and caching
identical requests.

Configuration comes from an optional YAML file and CHATRELAY_* environment
variables, e.g. CHATRELAY_LLM_GEMINI_API_KEY or CHATRELAY_STORAGE_BACKEND.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (YAML)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	root.AddCommand(
		newServeCmd(c),
		newAskCmd(c),
		newKeyCmd(c),
		newStatsCmd(c),
		newVersionCmd(),
	)
	return root
}

// init loads configuration and sets up logging. Logs go to stderr so
// command output on stdout stays machine-readable.
func (c *cli) init(logOut io.Writer) error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.verbose {
		cfg.Server.LogLevel = "debug"
	}
	c.config = cfg
	c.logger = logger.New(cfg.Server, logOut)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatrelay %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}
