package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/config"
)

var (
	cfgFile string
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "camrelay",
	Short: "Camera connection registry and frame relay",
	Long: `camrelay accepts WebSocket connections from cameras, resolves who owns
each camera, and relays frames to the owner's dashboards while routing
control commands back to the camera.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfgFile = config.FindConfigFile(config.ServiceName)
		}
		if envFile == "" {
			envFile = config.FindEnvironmentFile(config.ServiceName)
		}

		var err error
		cfg, err = config.Load(cfgFile, envFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg.Log.ConfigureZerolog()
		if cfg.Log.Format == "json" {
			log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
		return nil
	},
}

func init() {
	// Configure zerolog for human-friendly console output
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: camrelay.yaml in ., config/, configs/ or /etc/camrelay)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "environment file (default: .env or camrelay.env)")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
