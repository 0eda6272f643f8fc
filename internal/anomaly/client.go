// Package anomaly talks to the external spending anomaly detection service.
package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type (
	// Anomaly is a transaction whose amount fell outside the normal range
	// computed by the detection service for its bucket.
	Anomaly struct {
		Amount           float64    `json:"amount"`
		Date             string     `json:"date"`
		NormalRange      [2]float64 `json:"normal_range"`
		PercentDeviation float64    `json:"percent_deviation"`
		TransactionID    string     `json:"transaction_id"`
	}

	// Report is the detection result for one account and window. It is
	// replaced wholesale on every successful poll, never merged.
	Report struct {
		HighSpending []Anomaly `json:"high_spending_anomalies"`
		LowSpending  []Anomaly `json:"low_spending_anomalies"`
	}

	// Detector requests an anomaly report for an account over a date window.
	Detector interface {
		Detect(ctx context.Context, accountID, startDate, endDate string) (*Report, error)
	}
)

// Count returns the total number of anomalies in the report.
func (r *Report) Count() int {
	if r == nil {
		return 0
	}
	return len(r.HighSpending) + len(r.LowSpending)
}

// Empty reports whether the report contains no anomalies.
func (r *Report) Empty() bool {
	return r.Count() == 0
}

// ServiceError is an explicit error indicator returned in the detection
// service's response body, as opposed to a transport failure.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("anomaly service error: %s", e.Message)
}

// Doer abstracts *http.Client so tests can substitute a stub transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the HTTP implementation of Detector.
type Client struct {
	baseURL string
	http    Doer
}

// NewClient creates a detection client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// NewClientWithDoer creates a detection client with a custom transport.
func NewClientWithDoer(baseURL string, doer Doer) *Client {
	return &Client{baseURL: baseURL, http: doer}
}

type detectRequest struct {
	// The detection service is keyed by account, but its request field is
	// historically named userId.
	UserID    string `json:"userId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type detectResponse struct {
	Report
	Error string `json:"error,omitempty"`
}

// Detect requests an anomaly report via POST /api/anomalies. A response
// body carrying an explicit error indicator yields a *ServiceError; any
// transport-level failure (network error, non-2xx status) yields a plain
// error.
func (c *Client) Detect(ctx context.Context, accountID, startDate, endDate string) (*Report, error) {
	body, err := json.Marshal(detectRequest{
		UserID:    accountID,
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/anomalies", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call anomaly service: %w", err)
	}
	defer resp.Body.Close()

	// A non-2xx status is a transport failure even when the body carries an
	// error indicator; only a 2xx body's {error} field counts as the
	// service's explicit error path. Callers treat the two differently.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("anomaly service returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read anomaly response: %w", err)
	}

	var decoded detectResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode anomaly response: %w", err)
	}

	if decoded.Error != "" {
		return nil, &ServiceError{Message: decoded.Error}
	}

	report := decoded.Report
	return &report, nil
}
