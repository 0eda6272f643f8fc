// Package email delivers anomaly alert notifications through the outbound
// email service.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sage/internal/anomaly"
)

// Sender dispatches an anomaly alert to a recipient address.
type Sender interface {
	SendAlert(ctx context.Context, to string, report *anomaly.Report) error
}

// Client is the HTTP implementation of Sender.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an email client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type alertRequest struct {
	To           string            `json:"to"`
	HighSpending []anomaly.Anomaly `json:"highSpendingAnomalies"`
	LowSpending  []anomaly.Anomaly `json:"lowSpendingAnomalies"`
}

// SendAlert posts the full anomaly report to /api/send-email. The caller
// treats this as fire-and-forget: failures are logged there, not retried
// here.
func (c *Client) SendAlert(ctx context.Context, to string, report *anomaly.Report) error {
	body, err := json.Marshal(alertRequest{
		To:           to,
		HighSpending: report.HighSpending,
		LowSpending:  report.LowSpending,
	})
	if err != nil {
		return fmt.Errorf("marshal alert request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/send-email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call email service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
