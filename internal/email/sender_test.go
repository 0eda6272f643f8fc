package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sage/internal/anomaly"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendAlert(t *testing.T) {
	var got alertRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/send-email", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	report := &anomaly.Report{
		HighSpending: []anomaly.Anomaly{{TransactionID: "tx_1", Amount: 300}},
		LowSpending:  []anomaly.Anomaly{{TransactionID: "tx_2", Amount: 2}},
	}

	client := NewClient(srv.URL, 0)
	err := client.SendAlert(context.Background(), "user@example.com", report)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", got.To)
	require.Len(t, got.HighSpending, 1)
	assert.Equal(t, "tx_1", got.HighSpending[0].TransactionID)
	require.Len(t, got.LowSpending, 1)
	assert.Equal(t, "tx_2", got.LowSpending[0].TransactionID)
}

func TestClient_SendAlert_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 0)
	err := client.SendAlert(context.Background(), "user@example.com", &anomaly.Report{})
	assert.Error(t, err)
}
