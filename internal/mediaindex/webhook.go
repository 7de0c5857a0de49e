package mediaindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"screen-recorder/pkg/models"
)

// Webhook POSTs published recordings to an external URL.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a webhook client with retries
func NewWebhook(url string) *Webhook {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	return &Webhook{url: url, httpClient: retryClient.StandardClient()}
}

func (w *Webhook) Notify(ctx context.Context, rec models.Recording) error {
	body, err := json.Marshal(models.RecordingPublished{Event: "recording_published", Recording: rec})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
