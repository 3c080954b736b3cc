package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/gigbase-loader/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "gigload",
		Short: "GigBase loader - seed a GigBase GraphQL endpoint from a spreadsheet export",
		Long: `gigload reads a spreadsheet export of a band's gig history and loads it
into a GigBase GraphQL endpoint, one row at a time, in file order.

Before the first row it makes sure the admin user, the band and the
membership between them exist (and, for the tagged schema, the DrumKit
and Key tag classes). For every row it finds or creates the gig and the
song, then writes a new performance. The first failure stops the run.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRun:  applyLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { util.CloseLogFile() },
	}
)

var envFiles = []string{".env", ".env.local"}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/gigload.yaml)")
	rootCmd.PersistentFlags().String("endpoint", "", "GraphQL endpoint URL")
	rootCmd.PersistentFlags().String("key", "", "endpoint access key")
	rootCmd.PersistentFlags().String("schema", "simple", "schema variant (simple, tagged)")
	rootCmd.PersistentFlags().String("db", "gigload-state.db", "run journal database file (empty disables)")
	rootCmd.PersistentFlags().String("events-dir", "artifacts", "directory for JSONL event logs")
	rootCmd.PersistentFlags().String("log-file", "", "mirror log output into a rotated file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("key", rootCmd.PersistentFlags().Lookup("key"))
	viper.BindPFlag("schema", rootCmd.PersistentFlags().Lookup("schema"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("events_dir", rootCmd.PersistentFlags().Lookup("events-dir"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	setDefaults()
}

func initConfig() {
	// Missing .env files are fine
	for _, envFile := range envFiles {
		godotenv.Load(envFile)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
		for _, envFile := range envFiles {
			godotenv.Load(filepath.Join(filepath.Dir(cfgFile), envFile))
		}
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("gigload")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix("GIGBASE")
	viper.AutomaticEnv()

	// Names the original web app and scripts used
	viper.BindEnv("endpoint", "GIGBASE_ENDPOINT", "REACT_APP_GIGBASE_ENDPOINT", "GB_ENDPOINT")
	viper.BindEnv("key", "GIGBASE_KEY", "REACT_APP_GIGBASE_KEY", "GB_KEY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			util.WarnLog("Failed to read config file %s: %v", cfgFile, err)
		}
		return
	}
	if !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

// applyLogging sets the log level and opens the log file for every command
func applyLogging(cmd *cobra.Command, args []string) {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))

	util.OpenLogFile(util.LogFileOptions{
		Path:       viper.GetString("log_file"),
		MaxSizeMB:  viper.GetInt("log_max_size_mb"),
		MaxBackups: viper.GetInt("log_max_backups"),
		MaxAgeDays: viper.GetInt("log_max_age_days"),
		Compress:   viper.GetBool("log_compress"),
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.CloseLogFile()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
