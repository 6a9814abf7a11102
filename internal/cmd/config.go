package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/writerlock/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View writerlock configuration",
	Long: `View writerlock configuration.

Without arguments, displays the effective configuration after the config
file and WRITER_LOCK_* environment variables are applied.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/writerlock/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	root := cfg.Root
	if root == "" {
		root = "(git common dir)"
	}
	token := "(unset)"
	if cfg.Token != "" {
		token = "(set)"
	}
	fmt.Fprintf(out, "root: %s\n", root)
	fmt.Fprintf(out, "pid_override: %d\n", cfg.PIDOverride)
	fmt.Fprintf(out, "token: %s\n", token)

	fmt.Fprintln(out, "wait:")
	fmt.Fprintf(out, "  poll_interval: %s\n", cfg.Wait.PollInterval)
	fmt.Fprintf(out, "  watch: %v\n", cfg.Wait.Watch)

	fmt.Fprintln(out, "mutex:")
	fmt.Fprintf(out, "  retry_interval: %s\n", cfg.Mutex.RetryInterval)
	fmt.Fprintf(out, "  timeout: %s\n", cfg.Mutex.Timeout)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  file: %s\n", cfg.Logging.File)

	fmt.Fprintln(out, "metrics:")
	fmt.Fprintf(out, "  textfile: %s\n", cfg.Metrics.Textfile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configContent := `# writerlock configuration
# Every key can also be set as WRITER_LOCK_<KEY>, e.g. WRITER_LOCK_WAIT_POLL_INTERVAL=2s

# Directory holding writer-lock/ and writer-lock-queue/.
# Empty uses the git common dir of the working directory.
root: ""

wait:
  # Pause between checks while queued
  poll_interval: 5s
  # Re-check early when the lock or queue changes on disk
  watch: false

mutex:
  # Pause between attempts to take the queue mutex
  retry_interval: 100ms
  # Give up on the queue mutex after this long (0 waits forever)
  timeout: 30s

logging:
  enabled: true
  # debug, info, warn or error
  level: info
  # Empty writes <root>/writer-lock.log
  file: ""

metrics:
  # node_exporter textfile written by status; empty disables
  textfile: ""
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/writerlock/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: WRITER_LOCK_* (e.g., WRITER_LOCK_TOKEN, WRITER_LOCK_PID_OVERRIDE)")

	return nil
}
