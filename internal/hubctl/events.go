package hubctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Event inspection commands",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		events, total, err := client.ListEvents(status)
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return printJSON(events)
		}

		fmt.Printf("Events (%d total):\n", total)
		fmt.Printf("%-36s %-24s %-16s %-12s %-9s %s\n", "ID", "TYPE", "SOURCE", "STATUS", "ATTEMPTS", "CREATED")
		for _, e := range events {
			fmt.Printf("%-36s %-24s %-16s %-12s %-9d %s\n",
				e.ID, e.EventType, e.SourceSystem, e.Status, e.AttemptCount,
				e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var eventsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event counts by status and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		stats, err := client.EventStats()
		if err != nil {
			return fmt.Errorf("failed to fetch stats: %w", err)
		}

		if format, _ := cmd.Flags().GetString("output"); format == "json" {
			return printJSON(stats)
		}

		fmt.Printf("Total events: %d\n", stats.Total)
		fmt.Printf("Dead letters: %d\n", stats.DeadLetters)
		fmt.Println("By status:")
		for status, count := range stats.ByStatus {
			fmt.Printf("  %-12s %d\n", status, count)
		}
		fmt.Println("By source:")
		for source, count := range stats.BySource {
			fmt.Printf("  %-12s %d\n", source, count)
		}
		if stats.OldestRetry != nil {
			fmt.Printf("Oldest pending retry: %s\n", stats.OldestRetry.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var eventsRetryCmd = &cobra.Command{
	Use:   "retry [event-id]",
	Short: "Requeue an event for delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := client.RetryEvent(args[0]); err != nil {
			return fmt.Errorf("failed to retry event: %w", err)
		}
		fmt.Printf("Event %s requeued\n", args[0])
		return nil
	},
}

func init() {
	eventsListCmd.Flags().String("status", "", "filter by status (pending, processing, retrying, delivered, dead)")
	eventsCmd.AddCommand(eventsListCmd, eventsStatsCmd, eventsRetryCmd)
}
