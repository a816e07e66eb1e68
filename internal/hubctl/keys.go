package hubctl

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "API key management commands",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		keys, err := client.ListKeys()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return printJSON(keys)
		}

		fmt.Printf("%-14s %-24s %-24s %-8s %s\n", "ID", "NAME", "SCOPES", "ACTIVE", "LAST USED")
		for _, key := range keys {
			lastUsed := "never"
			if key.LastUsedAt != nil {
				lastUsed = key.LastUsedAt.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-14s %-24s %-24s %-8v %s\n",
				key.ID, key.Name, strings.Join(key.Scopes, ","), key.Active, lastUsed)
		}
		return nil
	},
}

var keysCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an API key",
	Long:  "Create an API key for a producing system. The plaintext key is printed once and cannot be recovered.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		scopes, _ := cmd.Flags().GetStringSlice("scope")
		key, plaintext, err := client.CreateKey(args[0], scopes)
		if err != nil {
			return fmt.Errorf("failed to create key: %w", err)
		}

		fmt.Printf("Created key %s (%s)\n", key.ID, key.Name)
		fmt.Printf("API key (store it now, it will not be shown again):\n  %s\n", plaintext)
		return nil
	},
}

var keysDisableCmd = &cobra.Command{
	Use:   "disable [key-id]",
	Short: "Deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  setKeyActive(false),
}

var keysEnableCmd = &cobra.Command{
	Use:   "enable [key-id]",
	Short: "Reactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  setKeyActive(true),
}

func setKeyActive(active bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		key, err := client.SetKeyActive(args[0], active)
		if err != nil {
			return fmt.Errorf("failed to update key: %w", err)
		}
		fmt.Printf("Key %s active=%v\n", key.ID, key.Active)
		return nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	keysCreateCmd.Flags().StringSlice("scope", []string{"events:write"}, "scopes to grant")
	keysCmd.AddCommand(keysListCmd, keysCreateCmd, keysDisableCmd, keysEnableCmd)
}
