package streamcli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI profiles",
}

var configSetProfileCmd = &cobra.Command{
	Use:   "set-profile <name>",
	Short: "Create or update a profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		apiURL, _ := cmd.Flags().GetString("api-url")
		eventTypes, _ := cmd.Flags().GetStringSlice("event-types")
		sinks, _ := cmd.Flags().GetStringSlice("sink")
		output, _ := cmd.Flags().GetString("format")
		makeCurrent, _ := cmd.Flags().GetBool("current")

		types, err := parseEventTypes(eventTypes)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		for _, s := range sinks {
			if !knownSink(s) {
				exitWithError(cmd, fmt.Errorf("unknown sink %q (expected one of %s)", s, strings.Join(sinkNames, ", ")))
				return
			}
		}
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		setProfile(cfg, Profile{
			Name:       name,
			APIURL:     apiURL,
			EventTypes: types,
			Sinks:      sinks,
			Output:     output,
		}, makeCurrent)
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile %q updated.\n", name)
	},
}

var configUseProfileCmd = &cobra.Command{
	Use:   "use-profile <name>",
	Short: "Switch the current profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := ensureProfileExists(cfg, args[0]); err != nil {
			exitWithError(cmd, err)
			return
		}
		cfg.CurrentProfile = args[0]
		if err := SaveConfig(cfg, cfgFile); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Switched to profile %q.\n", args[0])
	},
}

var configCurrentProfileCmd = &cobra.Command{
	Use:   "current-profile",
	Short: "Print the current profile",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if cfg.CurrentProfile == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No profile configured.")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentProfile)
	},
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the raw configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), cfg); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", cfgFile)
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			profile := cfg.Profiles[name]
			current := " "
			if cfg.CurrentProfile == name {
				current = "*"
			}
			server := profile.APIURL
			if server == "" {
				server = "default"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", current, name, server)
		}
	},
}

func init() {
	configSetProfileCmd.Flags().String("api-url", "", "Lookout API base URL")
	configSetProfileCmd.Flags().StringSlice("event-types", nil, "Default event types (DEVICE, THREAT, AUDIT)")
	configSetProfileCmd.Flags().StringSlice("sink", nil, "Default sinks")
	configSetProfileCmd.Flags().String("format", "", "Default event output format (json|yaml)")
	configSetProfileCmd.Flags().Bool("current", true, "Set as current profile")
	configCmd.AddCommand(configSetProfileCmd)
	configCmd.AddCommand(configUseProfileCmd)
	configCmd.AddCommand(configCurrentProfileCmd)
	configCmd.AddCommand(configViewCmd)
}
