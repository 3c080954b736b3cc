package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/franz/gigbase-loader/internal/graphql"
	"github.com/franz/gigbase-loader/internal/model"
	"github.com/franz/gigbase-loader/internal/util"
)

func setDefaults() {
	viper.SetDefault("key_header", graphql.DefaultKeyHeader)
	viper.SetDefault("admin_email", model.DefaultAdminEmail)
	viper.SetDefault("admin_password", model.DefaultAdminPassword)
	viper.SetDefault("band", model.DefaultBandName)
	viper.SetDefault("band_editable_by_others", false)
	viper.SetDefault("band_viewable_by_others", true)
	viper.SetDefault("venue", model.DefaultVenue)
	viper.SetDefault("log_max_size_mb", 10)
	viper.SetDefault("log_max_backups", 3)
}

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (GIGBASE_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigDuration retrieves a duration config value; zero disables
func GetConfigDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// identityFromConfig builds the admin/band identity the run sets up
func identityFromConfig() model.Identity {
	return model.Identity{
		AdminEmail:    GetConfigString("admin_email", model.DefaultAdminEmail),
		AdminPassword: GetConfigString("admin_password", model.DefaultAdminPassword),
		Band: model.Band{
			Name:             GetConfigString("band", model.DefaultBandName),
			EditableByOthers: viper.GetBool("band_editable_by_others"),
			ViewableByOthers: viper.GetBool("band_viewable_by_others"),
		},
		Venue: GetConfigString("venue", model.DefaultVenue),
	}
}

// clientConfig builds the GraphQL client settings for endpoint
func clientConfig(endpoint string) graphql.Config {
	return graphql.Config{
		Endpoint:    endpoint,
		AccessKey:   viper.GetString("key"),
		KeyHeader:   GetConfigString("key_header", graphql.DefaultKeyHeader),
		Timeout:     GetConfigDuration("timeout"),
		MinInterval: GetConfigDuration("rate_limit"),
	}
}

// fileConfig is the layout of gigload.yaml
type fileConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Key       string `yaml:"key"`
	KeyHeader string `yaml:"key_header"`
	Schema    string `yaml:"schema"`

	AdminEmail           string `yaml:"admin_email"`
	AdminPassword        string `yaml:"admin_password"`
	Band                 string `yaml:"band"`
	BandEditableByOthers bool   `yaml:"band_editable_by_others"`
	BandViewableByOthers bool   `yaml:"band_viewable_by_others"`
	Venue                string `yaml:"venue"`

	Timeout   string `yaml:"timeout"`
	RateLimit string `yaml:"rate_limit"`
	PrintIDs  bool   `yaml:"print_ids"`

	DB          string `yaml:"db"`
	EventsDir   string `yaml:"events_dir"`
	MetricsFile string `yaml:"metrics_file"`

	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

func exampleConfig() fileConfig {
	return fileConfig{
		Endpoint:             "http://localhost:8080/v1/graphql",
		Key:                  "",
		KeyHeader:            graphql.DefaultKeyHeader,
		Schema:               "simple",
		AdminEmail:           model.DefaultAdminEmail,
		AdminPassword:        model.DefaultAdminPassword,
		Band:                 model.DefaultBandName,
		BandEditableByOthers: false,
		BandViewableByOthers: true,
		Venue:                model.DefaultVenue,
		Timeout:              "0s",
		RateLimit:            "0s",
		DB:                   "gigload-state.db",
		EventsDir:            "artifacts",
		MetricsFile:          "",
		LogMaxSizeMB:         10,
		LogMaxBackups:        3,
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or generate gigload configuration",
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write an example configuration file",
	Long: `Write an example gigload.yaml with every supported key and its default.

Every key can also be set as an environment variable with the GIGBASE_
prefix (GIGBASE_ENDPOINT, GIGBASE_KEY, ...), from a .env file, or with
the matching command-line flag.`,
	RunE: runConfigGenerate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenerateCmd.Flags().String("out", "configs/gigload.yaml", "Output path")
	configGenerateCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

func runConfigGenerate(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(out); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", out)
	}

	data, err := yaml.Marshal(exampleConfig())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	util.SuccessLog("Wrote example config to %s", out)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	id := identityFromConfig()
	cfg := fileConfig{
		Endpoint:             viper.GetString("endpoint"),
		KeyHeader:            GetConfigString("key_header", graphql.DefaultKeyHeader),
		Schema:               viper.GetString("schema"),
		AdminEmail:           id.AdminEmail,
		Band:                 id.Band.Name,
		BandEditableByOthers: id.Band.EditableByOthers,
		BandViewableByOthers: id.Band.ViewableByOthers,
		Venue:                id.Venue,
		Timeout:              GetConfigDuration("timeout").String(),
		RateLimit:            GetConfigDuration("rate_limit").String(),
		PrintIDs:             viper.GetBool("print_ids"),
		DB:                   viper.GetString("db"),
		EventsDir:            viper.GetString("events_dir"),
		MetricsFile:          viper.GetString("metrics_file"),
		LogFile:              viper.GetString("log_file"),
		LogMaxSizeMB:         viper.GetInt("log_max_size_mb"),
		LogMaxBackups:        viper.GetInt("log_max_backups"),
	}
	// Secrets are never echoed
	if viper.GetString("key") != "" {
		cfg.Key = "********"
	}
	if viper.GetString("admin_password") != "" {
		cfg.AdminPassword = "********"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
