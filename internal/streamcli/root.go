package streamcli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oremus-labs/lookout-stream/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	profileName  string
	overrideURL  string
	outputFormat string

	appConfig *Config
	failed    bool
)

var errCommandFailed = errors.New("command failed")

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	if failed {
		return errCommandFailed
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "lookout-stream",
	Short: "Stream security events from the Lookout Mobile Risk API",
	Long: `lookout-stream consumes the Lookout security-event feed and relays events
to stdout, Redis or a local SQLite archive. The app key is read from
LOOKOUT_APP_KEY (a .env file in the working directory is honoured).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config commands load/save the file manually.
		if strings.HasPrefix(cmd.CommandPath(), "lookout-stream config") {
			return nil
		}
		if appConfig == nil {
			var err error
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "Path to the lookout-stream profile file")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name to use (overrides current)")
	rootCmd.PersistentFlags().StringVar(&overrideURL, "api-url", "", "Override the Lookout API base URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: json|yaml (events) or table|json (listings)")

	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolvedSettings merges the environment, the active profile and flag
// overrides. LOOKOUT_API_URL beats the profile; --api-url beats both.
func resolvedSettings() (*config.Config, Profile, error) {
	cfg := config.Load()
	profile, err := activeProfile()
	if err != nil {
		return nil, Profile{}, err
	}
	if profile.APIURL != "" && os.Getenv("LOOKOUT_API_URL") == "" {
		cfg.APIBaseURL = strings.TrimRight(profile.APIURL, "/")
	}
	if overrideURL != "" {
		cfg.APIBaseURL = strings.TrimRight(overrideURL, "/")
	}
	return cfg, profile, nil
}

func activeProfile() (Profile, error) {
	if appConfig == nil {
		return Profile{}, nil
	}
	name := profileName
	if name == "" {
		name = appConfig.CurrentProfile
	}
	if name == "" {
		return Profile{}, nil
	}
	profile, ok := appConfig.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found; use 'lookout-stream config set-profile'", name)
	}
	return profile, nil
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	failed = true
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
}
