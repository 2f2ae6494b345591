// Package commands implements the kcore CLI.
package commands

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/tinykern/kcore/config"
	"github.com/tinykern/kcore/kernel"
	"golang.org/x/exp/slog"
)

var (
	// Global flags.
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "kcore",
	Short: "Heap allocator and in-memory filesystem of a tiny kernel",
	Long: `kcore boots the memory and storage core of a small kernel inside a simulated
address range: a segregated free-list allocator with a first-fit fallback arena, and
an in-memory hierarchical filesystem driven by a command shell.

Configuration is read from --config, then overridden by KCORE_* environment
variables, e.g. KCORE_HEAP_SIZE=1Mi or KCORE_LOGGING_LEVEL=DEBUG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the configuration named by --config, raising the log level for --verbose
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "DEBUG"
	}
	return cfg, nil
}

// bootKernel loads the configuration, applies adjust to it, and boots a kernel whose logs go to
// logOutput and whose display is display
func bootKernel(logOutput io.Writer, display io.Writer, adjust ...func(cfg *config.Config)) (*kernel.Context, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	for _, fn := range adjust {
		fn(cfg)
	}

	logger, err := config.NewLogger(cfg.Logging, logOutput)
	if err != nil {
		return nil, nil, err
	}

	k, err := kernel.Boot(logger, cfg, display)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug("configuration loaded", slog.String("source", configSource()))
	return k, cfg, nil
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "defaults"
}
