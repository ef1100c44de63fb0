package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/observability"
)

// Version is stamped by the build.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "suno-api",
	Short:         "Unofficial Suno API bridge with automated session handling.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Pull in a local .env so SUNO_COOKIE and friends work out of
		// the box during development. Absence is not an error.
		_ = godotenv.Load()

		// 2. Load configuration (file, then environment).
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 3. Overlay loaded values on the defaults.
		cfg := config.Defaults()
		if err := viper.Unmarshal(cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// 4. Validate before anything downstream trips over it.
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 5. Store the configuration globally.
		config.Set(cfg)

		// 6. Initialize the logger.
		observability.InitializeLogger(cfg.Logger)
		logger := observability.GetLogger()
		logger.Info("Starting suno-api", zap.String("version", Version))

		return nil
	},
}

// Execute runs the root command with a context for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
}

// initializeConfig reads the config file and binds environment variables.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SUNO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The two secrets most users supply via environment only.
	_ = viper.BindEnv("identity.cookie", "SUNO_COOKIE")
	_ = viper.BindEnv("captcha.key", "SUNO_2CAPTCHA_KEY", "TWOCAPTCHA_KEY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine, defaults plus environment carry it.
	}
	return nil
}
