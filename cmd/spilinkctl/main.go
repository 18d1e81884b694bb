// spilinkctl exercises a fixed-frame link from the command line: it runs a
// master/slave pair over the in-memory bus with configurable fault
// injection and reports per-session outcomes and link metrics.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-spilink/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "spilinkctl",
	Short: "Exercise and diagnose a fixed-frame transfer link",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setLogLevel(logLevel)
	},
	SilenceUsage: true,
}

func setLogLevel(level string) error {
	switch level {
	case "debug":
		logger.SetLevel(logger.DebugLevel)
	case "info":
		logger.SetLevel(logger.InfoLevel)
	case "warn":
		logger.SetLevel(logger.WarnLevel)
	case "error":
		logger.SetLevel(logger.ErrorLevel)
	default:
		return errInvalidLogLevel(level)
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(exchangeCmd)
	rootCmd.AddCommand(geometryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
