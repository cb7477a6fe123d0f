package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/devteam/internal/config"
	"github.com/zjrosen/devteam/internal/log"

	// Register model providers
	_ "github.com/zjrosen/devteam/internal/orchestration/client/providers/anthropic"
	_ "github.com/zjrosen/devteam/internal/orchestration/client/providers/gemini"
	_ "github.com/zjrosen/devteam/internal/orchestration/client/providers/ollama"
	_ "github.com/zjrosen/devteam/internal/orchestration/client/providers/openai"
	_ "github.com/zjrosen/devteam/internal/orchestration/mock"
)

// localConfigPath is checked before the user config directory.
const localConfigPath = ".devteam/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "devteam",
	Short: "Run a team of model-backed workers from request to reviewed code",
	Long: `devteam coordinates a product manager, architect, designer, developer,
security reviewer and QA engineer through a fixed delivery pipeline. Workers
share a message router and a tiered memory store; model calls fail over
between providers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := initLogging(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(viper.GetViper())
		return err
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .devteam/config.yaml, then ~/.config/devteam/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from DEVTEAM_LOG, default: debug.log)")
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .devteam/config.yaml (current directory)
		// 2. ~/.config/devteam/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			viper.AddConfigPath(config.DefaultConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file found anywhere - create the default in the user config dir
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(config.DefaultConfigDir(), "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}
}

// initLogging enables the file logger when --debug or DEVTEAM_DEBUG is set.
func initLogging() error {
	if !debugFlag && os.Getenv("DEVTEAM_DEBUG") == "" {
		log.SetEnabled(false)
		return nil
	}
	logPath := os.Getenv("DEVTEAM_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	if _, err := log.Init(logPath); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "devteam starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

// configPath returns the config file in use, or the default location.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return filepath.Join(config.DefaultConfigDir(), "config.yaml")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
