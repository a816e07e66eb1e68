// Package hubctl implements the hub command-line client.
package hubctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *Config
)

var rootCmd = &cobra.Command{
	Use:   "hubctl",
	Short: "RelayPoint hub CLI",
	Long: `hubctl is the command-line interface for the RelayPoint event hub.

Manage API keys, webhook endpoints, inspect events, and work the dead
letter queue from your terminal.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.relaypoint/hubctl.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use")
	rootCmd.PersistentFlags().String("server", "", "hub base URL (overrides profile)")
	rootCmd.PersistentFlags().String("api-key", "", "API key (overrides profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(seedCmd)
}

func initConfig() {
	var err error
	cfg, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load config: %v\n", err)
		cfg = DefaultConfig()
	}
}

// apiClient builds a Client from flags, falling back to the profile.
func apiClient(cmd *cobra.Command) (*Client, error) {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")

	if server == "" || apiKey == "" {
		profileName, _ := cmd.Flags().GetString("profile")
		p, err := cfg.GetProfile(profileName)
		if err != nil {
			return nil, fmt.Errorf("no profile configured, run 'hubctl login' first: %w", err)
		}
		if server == "" {
			server = p.ServerURL
		}
		if apiKey == "" {
			apiKey = p.APIKey
		}
	}

	return NewClient(server, apiKey), nil
}

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Store hub credentials in a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			return fmt.Errorf("--api-key is required")
		}

		profileName, _ := cmd.Flags().GetString("profile")
		if profileName == "" {
			profileName = "default"
		}

		if err := cfg.SaveProfile(profileName, args[0], apiKey); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		fmt.Printf("Profile '%s' saved for %s\n", profileName, args[0])
		return nil
	},
}
