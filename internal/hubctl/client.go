package hubctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

// Client talks to the hub management API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ListKeys() ([]*models.APIKey, error) {
	var out struct {
		Keys []*models.APIKey `json:"keys"`
	}
	if err := c.do(http.MethodGet, "/api/v1/keys", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

func (c *Client) CreateKey(name string, scopes []string) (*models.APIKey, string, error) {
	var out struct {
		Key       *models.APIKey `json:"key"`
		Plaintext string         `json:"plaintext"`
	}
	req := models.CreateAPIKeyRequest{Name: name, Scopes: scopes}
	if err := c.do(http.MethodPost, "/api/v1/keys", req, &out); err != nil {
		return nil, "", err
	}
	return out.Key, out.Plaintext, nil
}

func (c *Client) SetKeyActive(id string, active bool) (*models.APIKey, error) {
	var out models.APIKey
	body := map[string]bool{"active": active}
	if err := c.do(http.MethodPatch, "/api/v1/keys/"+id, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListEndpoints() ([]*models.WebhookEndpoint, error) {
	var out struct {
		Endpoints []*models.WebhookEndpoint `json:"endpoints"`
	}
	if err := c.do(http.MethodGet, "/api/v1/endpoints", nil, &out); err != nil {
		return nil, err
	}
	return out.Endpoints, nil
}

func (c *Client) CreateEndpoint(systemName, url string) (*models.WebhookEndpoint, string, error) {
	var out struct {
		Endpoint *models.WebhookEndpoint `json:"endpoint"`
		Secret   string                  `json:"secret"`
	}
	req := models.CreateEndpointRequest{SystemName: systemName, URL: url}
	if err := c.do(http.MethodPost, "/api/v1/endpoints", req, &out); err != nil {
		return nil, "", err
	}
	return out.Endpoint, out.Secret, nil
}

func (c *Client) RotateEndpointSecret(id string) (string, error) {
	var out struct {
		Secret string `json:"secret"`
	}
	if err := c.do(http.MethodPost, "/api/v1/endpoints/"+id+"/rotate-secret", nil, &out); err != nil {
		return "", err
	}
	return out.Secret, nil
}

func (c *Client) ListDeadLetters(includeArchived bool) ([]*models.DeadLetterEntry, int64, error) {
	var out struct {
		Entries []*models.DeadLetterEntry `json:"entries"`
		Total   int64                     `json:"total"`
	}
	path := "/api/v1/dlq"
	if includeArchived {
		path += "?include_archived=true"
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Entries, out.Total, nil
}

func (c *Client) RetryDeadLetter(id string) error {
	return c.do(http.MethodPost, "/api/v1/dlq/"+id+"/retry", nil, nil)
}

func (c *Client) RetryAllDeadLetters() (int, error) {
	var out struct {
		Requeued int `json:"requeued"`
	}
	if err := c.do(http.MethodPost, "/api/v1/dlq/retry-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Requeued, nil
}

func (c *Client) ListEvents(status string) ([]*models.Event, int64, error) {
	var out struct {
		Events []*models.Event `json:"events"`
		Total  int64           `json:"total"`
	}
	path := "/api/v1/events"
	if status != "" {
		path += "?status=" + status
	}
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Events, out.Total, nil
}

func (c *Client) EventStats() (*models.EventStats, error) {
	var out models.EventStats
	if err := c.do(http.MethodGet, "/api/v1/events/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RetryEvent(id string) error {
	return c.do(http.MethodPost, "/api/v1/events/"+id+"/retry", nil, nil)
}

// SendWebhook posts a raw payload to the ingestion endpoint. Used by
// the seed command.
func (c *Client) SendWebhook(source string, payload map[string]any) (string, error) {
	var out struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(http.MethodPost, "/webhooks/"+source, payload, &out); err != nil {
		return "", err
	}
	return out.EventID, nil
}
