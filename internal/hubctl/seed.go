package hubctl

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Post fake webhook traffic to the hub",
	Long:  "Generate realistic webhook payloads for the known sources and post them to the ingestion endpoint. Intended for development and load testing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := apiClient(cmd)
		if err != nil {
			return err
		}

		count, _ := cmd.Flags().GetInt("count")
		delay, _ := cmd.Flags().GetDuration("delay")
		gofakeit.Seed(time.Now().UnixNano())

		sent := 0
		for i := 0; i < count; i++ {
			source, payload := fakeWebhook()
			eventID, err := client.SendWebhook(source, payload)
			if err != nil {
				fmt.Printf("send to %s failed: %v\n", source, err)
				continue
			}
			sent++
			fmt.Printf("%s -> %s\n", source, eventID)
			if delay > 0 && i < count-1 {
				time.Sleep(delay)
			}
		}

		fmt.Printf("Sent %d/%d webhooks\n", sent, count)
		return nil
	},
}

// fakeWebhook builds a payload in one of the known producers' shapes,
// quirks included.
func fakeWebhook() (string, map[string]any) {
	switch rand.Intn(3) {
	case 0:
		// whatsapp: sender field name varies by webhook version
		payload := map[string]any{
			"event": "message.received",
			"message": map[string]any{
				"id":        gofakeit.UUID(),
				"text":      gofakeit.Sentence(6),
				"timestamp": time.Now().Unix(),
			},
		}
		senderKeys := []string{"phone", "from", "sender"}
		payload[senderKeys[rand.Intn(len(senderKeys))]] = gofakeit.Phone()
		payload["sender_name"] = gofakeit.Name()
		return "whatsapp", payload

	case 1:
		return "site", map[string]any{
			"event_type":  "lead.created",
			"name":        gofakeit.Name(),
			"email":       gofakeit.Email(),
			"phone":       gofakeit.Phone(),
			"source_page": "/" + gofakeit.Word(),
		}

	default:
		return "shop", map[string]any{
			"type":     "order.paid",
			"order_id": gofakeit.UUID(),
			"amount":   gofakeit.Price(10, 500),
			"currency": gofakeit.CurrencyShort(),
			"customer": map[string]any{
				"name":  gofakeit.Name(),
				"email": gofakeit.Email(),
			},
		}
	}
}

func init() {
	seedCmd.Flags().Int("count", 10, "number of webhooks to send")
	seedCmd.Flags().Duration("delay", 0, "delay between webhooks")
}
