// Package audit writes inbound webhook receipts to OpenSearch so
// operators can answer "what exactly arrived and what did we do with
// it" long after the event itself was pruned.
package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Receipt records one inbound webhook request and its outcome.
type Receipt struct {
	EventID      string    `json:"event_id,omitempty"`
	SourceSystem string    `json:"source_system"`
	EventType    string    `json:"event_type,omitempty"`
	KeyID        string    `json:"key_id,omitempty"`
	RemoteIP     string    `json:"remote_ip"`
	Outcome      string    `json:"outcome"`
	BodyBytes    int       `json:"body_bytes"`
	ReceivedAt   time.Time `json:"received_at"`
}

type Recorder interface {
	Record(ctx context.Context, receipt Receipt)
}

type Config struct {
	URL      string
	Username string
	Password string
	Insecure bool
	Index    string
}

// OpenSearchRecorder indexes receipts into a single audit index.
// Indexing failures are swallowed; the audit trail must never block
// or fail ingestion.
type OpenSearchRecorder struct {
	client *opensearch.Client
	index  string
	onErr  func(error)
}

func NewOpenSearchRecorder(cfg Config, onErr func(error)) (*OpenSearchRecorder, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if onErr == nil {
		onErr = func(error) {}
	}
	return &OpenSearchRecorder{client: client, index: cfg.Index, onErr: onErr}, nil
}

func (r *OpenSearchRecorder) Record(ctx context.Context, receipt Receipt) {
	data, err := json.Marshal(receipt)
	if err != nil {
		r.onErr(fmt.Errorf("marshal receipt: %w", err))
		return
	}

	req := opensearchapi.IndexRequest{
		Index: r.index,
		Body:  strings.NewReader(string(data)),
	}
	res, err := req.Do(ctx, r.client)
	if err != nil {
		r.onErr(fmt.Errorf("index receipt: %w", err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		r.onErr(fmt.Errorf("index receipt: %s", res.Status()))
	}
}

// NoopRecorder is used when the audit trail is disabled.
type NoopRecorder struct{}

func (NoopRecorder) Record(ctx context.Context, receipt Receipt) {}
