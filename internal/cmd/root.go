// Package cmd implements the windowfence command line.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/KanavDutta/windowfence/internal/logging"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// envPrefix namespaces environment overrides, e.g. WINDOWFENCE_QUOTA.
const envPrefix = "WINDOWFENCE"

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "windowfence",
	Short: "Per-identity fixed-window request throttling",
	Long: `windowfence admits at most a fixed number of requests per identity in each window.

Use the subcommands to run the HTTP service or the concurrency demo.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./windowfence.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("windowfence")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one must load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	defaults := windowfence.NewConfig()

	v.SetDefault("quota", defaults.Quota)
	v.SetDefault("window", defaults.Window)
	v.SetDefault("idle_ttl", defaults.IdleTTL)
	v.SetDefault("cleanup_interval", defaults.CleanupInterval)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// throttleConfig reads the throttle settings out of v. The service identifies
// callers by the identity in each POST /check body, so key_extractor is not read.
func throttleConfig(v *viper.Viper) *windowfence.Config {
	return &windowfence.Config{
		Quota:           v.GetInt("quota"),
		Window:          v.GetString("window"),
		IdleTTL:         v.GetString("idle_ttl"),
		CleanupInterval: v.GetString("cleanup_interval"),
	}
}

// newLogger builds the process logger from v; --verbose forces debug.
func newLogger(v *viper.Viper) (*zap.Logger, error) {
	level := v.GetString("log.level")
	if v.GetBool("verbose") {
		level = "debug"
	}
	return logging.New(level, v.GetString("log.format"))
}
