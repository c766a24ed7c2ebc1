// Package cli wires the nostr-intel commands: serve starts a transport,
// version prints the build version.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess       = 0
	ExitGenericError  = 1
	ExitConfigInvalid = 2
	ExitStoreFailure  = 3
	ExitBindFailure   = 4
)

var (
	flagConfigPath string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "nostr-intel",
	Short: "Nostr intelligence tools over MCP with a Lightning paywall",
	Long: "nostr-intel exposes Nostr lookups, search, and analytics as MCP tools.\n" +
		"Free tools are always available; paid tools run on a daily free tier\n" +
		"and then require a Lightning payment.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "config.toml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug|info|warn|error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and returns an error; exit code is set by RunE.
func Execute() error {
	return rootCmd.Execute()
}

// exitWith prints message to stderr and exits with code.
func exitWith(code int, msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
}

// setupLogging routes logs to stderr. Stdout must stay clean: the stdio
// transport writes JSON-RPC responses there.
func setupLogging() {
	logrus.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
