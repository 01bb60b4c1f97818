package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/veesix-networks/dhcprelay/pkg/config"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
)

var logLevelOverrides []string

func configureLogging(cfg config.LoggingConfig) error {
	components := make(map[string]logger.LogLevel, len(cfg.Components))
	for name, lvl := range cfg.Components {
		components[name] = logger.LogLevel(lvl)
	}
	var sink *logger.FileSink
	if cfg.File != nil {
		sink = &logger.FileSink{
			Path:       cfg.File.Path,
			MaxSizeMB:  cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAgeDays: cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
	}
	logger.Configure(cfg.Format, logger.LogLevel(cfg.Level), components, sink)
	return applyLevelOverrides(logLevelOverrides)
}

// applyLevelOverrides applies component=level flags on top of the
// configured levels. An empty level drops the override of that component.
func applyLevelOverrides(overrides []string) error {
	for _, o := range overrides {
		name, lvl, ok := strings.Cut(o, "=")
		if !ok || name == "" {
			return fmt.Errorf("log level %q: want component=level", o)
		}
		switch logger.LogLevel(strings.ToLower(lvl)) {
		case "":
			logger.ClearComponentLevel(name)
		case logger.LogLevelDebug, logger.LogLevelInfo, logger.LogLevelWarn, logger.LogLevelError:
			logger.SetComponentLevel(name, logger.LogLevel(strings.ToLower(lvl)))
		default:
			return fmt.Errorf("log level %q: unknown level %q", o, lvl)
		}
	}
	return nil
}

func printLogLevels(w io.Writer) {
	fmt.Fprintf(w, "  log level:   %s\n", logger.GetDefaultLevel())
	levels := logger.GetComponentLevels()
	for _, name := range logger.ComponentNames() {
		fmt.Fprintf(w, "    %-10s %s\n", name, levels[name])
	}
}
