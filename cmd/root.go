package cmd

import (
	"fmt"
	"os"

	"matricula-sync/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "matricula-sync",
	Short: "Matricula Sync Service",
	Long: `Matricula Sync reconciles enrollment changes recorded offline by
school devices against the authoritative store: batch submission, conflict
detection, classroom capacity arbitration, and protocol assignment.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		// Console encoding with debug level so CLI failures print readable
		// ISO8601 timestamps rather than production JSON.
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}
