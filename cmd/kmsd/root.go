package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NeowayLabs/kmsd/internal/config"
	"github.com/NeowayLabs/kmsd/internal/logger"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "kmsd",
		Short: "kmsd - KMS display daemon",
		Long: `kmsd drives the outputs of a DRM/KMS card: it discovers modes,
allocates the front buffer and cursor buffers, and follows VT switches.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file")
	flags.StringP("device", "d", "", "DRM device node, overrides --card")
	flags.IntP("card", "n", 0, "Index of the /dev/dri/card node")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	viper.BindPFlag("device.path", flags.Lookup("device"))
	viper.BindPFlag("device.card", flags.Lookup("card"))
	viper.BindPFlag("logging.log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		config.SetConfigPath(configPath)
	}
	if err := config.Init(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	if level := config.Get().Logging.LogLevel; level != "" {
		logger.SetLevel(level)
	}
	return nil
}
