package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/fpvscan/internal/config"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	// appConfig is loaded before every command runs
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "fpvscan",
		Short: "FPV recording scanner - ingest OSS sessions into the database and export CSVs",
		Long: `fpvscan scans object storage for FPV recording sessions and their video
segments, records what it finds in Postgres (or SQLite), and writes CSV
exports for review. It can also run as a Lark chat bot that accepts /scan
and /export commands.

Settings come from environment variables, an optional .env file in the
working directory, or the file given with --config.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config or .env file (default is ./.env when present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	appConfig = cfg
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
