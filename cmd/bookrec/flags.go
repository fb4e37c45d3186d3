package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// CLIConfig holds command-line configuration shared by all subcommands.
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	ShowVersion bool

	// Query flags
	Strategy string
	TopK     int

	// Remaining positional arguments after the subcommand.
	Command string
	Args    []string
}

func parseFlags() (*CLIConfig, error) {
	cfg := &CLIConfig{}

	global := flag.NewFlagSet(appName, flag.ContinueOnError)
	global.Usage = func() { printDetailedHelp(global) }

	global.StringVar(&cfg.ConfigPath, "config",
		getEnv("BOOKREC_CONFIG", ""),
		"Path to configuration file (env: BOOKREC_CONFIG)")
	global.StringVar(&cfg.LogLevel, "log-level",
		getEnv("BOOKREC_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BOOKREC_LOG_LEVEL)")
	global.StringVar(&cfg.LogFormat, "log-format",
		getEnv("BOOKREC_LOG_FORMAT", "text"),
		"Log format: json, text (env: BOOKREC_LOG_FORMAT)")
	global.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("BOOKREC_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: BOOKREC_METRICS_PORT)")
	global.StringVar(&cfg.Strategy, "strategy", "multi",
		"Query strategy: multi, plot, thematic, character, combined")
	global.IntVar(&cfg.TopK, "top-k", 0,
		"Number of results to return, 0 uses the configured default")
	global.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	if err := global.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	args := global.Args()
	if len(args) > 0 {
		cfg.Command = args[0]
		cfg.Args = args[1:]
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	switch cfg.Command {
	case "ingest", "query", "validate":
	case "":
		return fmt.Errorf("a command is required: ingest, query or validate")
	default:
		return fmt.Errorf("unknown command %q", cfg.Command)
	}

	if cfg.Command == "query" && len(cfg.Args) == 0 {
		return fmt.Errorf("query requires the query text as an argument")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - book recommendation pipeline

Usage: %s [options] <command>

Commands:
  ingest            Summarize, embed and index the corpus
  query <text>      Search the index for recommendations
  validate          Validate configuration and exit

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Ingest with a custom config
  %s --config=configs/prod.yaml ingest

  # Query across all views
  %s query "a story about obsession at sea"

  # Query one view only
  %s --strategy=thematic --top-k=5 query "coming of age"

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
