// Command m2handler runs a request-dumping handler behind a server and
// talks to the server's control port.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zereker/mongrel2"
	"github.com/Zereker/mongrel2/config"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Shared state set during PersistentPreRun
	settings *config.Settings
	zlog     *zap.Logger
	logger   mongrel2.Logger
)

var rootCmd = &cobra.Command{
	Use:   "m2handler",
	Short: "Run and manage Go handlers for the Mongrel2 web server",
	Long: `m2handler runs a handler that answers every request with a dump of
what the server sent, which is useful for checking routes and headers.
It also drives a running server through its control port.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if logLevel != "" {
			settings.LogLevel = logLevel
		}

		zlog, err = newZapLogger(settings.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(zlog)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zlog != nil {
			_ = zlog.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
