package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mmcdole/reelcache/internal/adapter"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time via -ldflags
var Version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	verbose    bool
	json       bool
}

var flags globalFlags

var rootCommand = &cobra.Command{
	Use:           "reelcache",
	Short:         "Offline-first cache and resolver for featured videos",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCommand.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/reelcache/config.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "override logging.level")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "mirror logs to stderr")
	pf.BoolVar(&flags.json, "json", false, "print JSON even on a terminal")

	rootCommand.AddCommand(
		serveCommand(),
		resolveCommand(),
		searchCommand(),
		syncCommand(),
		statsCommand(),
		clearCommand(),
		sendCommand(),
		monitorCommand(),
		playCommand(),
		versionCommand(),
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the default logger. The returned
// closer flushes the log file.
func setup() (*adapter.Config, *slog.Logger, io.Closer, error) {
	cfg, err := adapter.LoadConfig(flags.configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(flags.logLevel)
	}

	var console io.Writer
	if flags.verbose {
		console = os.Stderr
	}
	logger, closer, err := adapter.SetupLogger(&cfg.Logging, console)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
		closer = io.NopCloser(nil)
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// jsonOutput reports whether command output should be machine readable.
func jsonOutput() bool {
	return flags.json || !isTerminal(os.Stdout)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reelcache %s\n", Version)
		},
	}
}
