package hubctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead letter queue commands",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		includeArchived, _ := cmd.Flags().GetBool("include-archived")
		entries, total, err := client.ListDeadLetters(includeArchived)
		if err != nil {
			return fmt.Errorf("failed to list dead letters: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return printJSON(entries)
		}

		fmt.Printf("Dead letters (%d total):\n", total)
		fmt.Printf("%-36s %-36s %-24s %-16s %s\n", "ID", "EVENT", "TYPE", "SOURCE", "FAILURES")
		for _, entry := range entries {
			fmt.Printf("%-36s %-36s %-24s %-16s %d\n",
				entry.ID, entry.EventID, entry.EventType, entry.SourceSystem,
				len(entry.FailureHistory))
		}
		return nil
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry [entry-id]",
	Short: "Requeue a dead letter's event",
	Long:  "Reset the underlying event and requeue it for delivery. The entry is archived on success.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := client.RetryDeadLetter(args[0]); err != nil {
			return fmt.Errorf("failed to retry dead letter: %w", err)
		}
		fmt.Printf("Dead letter %s requeued\n", args[0])
		return nil
	},
}

var dlqRetryAllCmd = &cobra.Command{
	Use:   "retry-all",
	Short: "Requeue every unarchived dead letter",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		requeued, err := client.RetryAllDeadLetters()
		if err != nil {
			return fmt.Errorf("failed to retry dead letters: %w", err)
		}
		fmt.Printf("Requeued %d dead letters\n", requeued)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().Bool("include-archived", false, "include archived entries")
	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd, dlqRetryAllCmd)
}
