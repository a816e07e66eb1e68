package hubctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Webhook endpoint management commands",
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered delivery endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		endpoints, err := client.ListEndpoints()
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return printJSON(endpoints)
		}

		fmt.Printf("%-36s %-20s %-8s %s\n", "ID", "SYSTEM", "ACTIVE", "URL")
		for _, ep := range endpoints {
			fmt.Printf("%-36s %-20s %-8v %s\n", ep.ID, ep.SystemName, ep.Active, ep.URL)
		}
		return nil
	},
}

var endpointsCreateCmd = &cobra.Command{
	Use:   "create [system-name] [url]",
	Short: "Register a delivery endpoint",
	Long:  "Register a downstream system. The signing secret is printed once and cannot be recovered.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		ep, secret, err := client.CreateEndpoint(args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to create endpoint: %w", err)
		}

		fmt.Printf("Created endpoint %s (%s)\n", ep.ID, ep.SystemName)
		fmt.Printf("Signing secret (store it now, it will not be shown again):\n  %s\n", secret)
		return nil
	},
}

var endpointsRotateCmd = &cobra.Command{
	Use:   "rotate-secret [endpoint-id]",
	Short: "Rotate an endpoint's signing secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		secret, err := client.RotateEndpointSecret(args[0])
		if err != nil {
			return fmt.Errorf("failed to rotate secret: %w", err)
		}

		fmt.Printf("New signing secret (store it now, it will not be shown again):\n  %s\n", secret)
		return nil
	},
}

func init() {
	endpointsCmd.AddCommand(endpointsListCmd, endpointsCreateCmd, endpointsRotateCmd)
}
