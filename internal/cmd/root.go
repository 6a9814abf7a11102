package cmd

import (
	"context"

	"github.com/Iron-Ham/writerlock/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "writerlock",
	Short: "Cross-process writer lock for a shared repository",
	Long: `writerlock serializes write access to a repository among independently
launched processes. One holder writes at a time; everybody else waits in a
first-come, first-served queue that survives crashed participants.

State lives in the repository's git common dir by default, so every
worktree of one repository shares a single lock.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion sets the string printed by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/writerlock/config.yaml)")
	rootCmd.PersistentFlags().String("root", "", "lock root directory (default is the git common dir)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/writerlock")
		viper.AddConfigPath(".")
	}

	// e.g., WRITER_LOCK_WAIT_POLL_INTERVAL for wait.poll_interval
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
