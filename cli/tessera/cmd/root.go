// Package cmd wires the tessera command tree.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tesserasim/tessera-core/logger"
)

type baseFlags struct {
	LogLevel    string
	MetricsAddr string
}

// New builds the root command.
func New() *cobra.Command {
	base := &baseFlags{}
	root := &cobra.Command{
		Use:           "tessera",
		Short:         "Distributed tiled-domain exchange demo",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&base.LogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&base.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	root.AddCommand(runCmd(base))
	return root
}

func (f *baseFlags) logger() (*slog.Logger, error) {
	var level slog.Level
	switch f.LogLevel {
	case "trace":
		level = logger.LevelTrace
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", f.LogLevel)
	}
	return logger.New(os.Stderr, level), nil
}
