package call

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CallRecord is the flattened transcript and metadata handed to the
// persistence collaborator at call end.
type CallRecord struct {
	UserID     string            `json:"user_id"`
	AgentID    string            `json:"agent_id"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at"`
	Transcript string            `json:"transcript"`
	Entries    []TranscriptEntry `json:"entries"`
}

// TranscriptStore persists completed call transcripts. The orchestrator
// calls it fire-and-forget; failures are logged, never surfaced.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, record CallRecord) error
}

// FlattenTranscript renders entries as "speaker: text" lines for storage.
func FlattenTranscript(entries []TranscriptEntry) string {
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.Speaker)
		b.WriteString(": ")
		b.WriteString(entry.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// HTTPTranscriptStore posts call records to the persistence collaborator.
type HTTPTranscriptStore struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPTranscriptStore creates a store posting to the given endpoint.
func NewHTTPTranscriptStore(url string) *HTTPTranscriptStore {
	return &HTTPTranscriptStore{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SaveTranscript implements TranscriptStore.
func (s *HTTPTranscriptStore) SaveTranscript(ctx context.Context, record CallRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("save transcript: status %d", resp.StatusCode)
	}
	return nil
}

// Ensure HTTPTranscriptStore implements TranscriptStore at compile time.
var _ TranscriptStore = (*HTTPTranscriptStore)(nil)
