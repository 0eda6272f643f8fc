package amqp

import (
	"encoding/json"
	"time"
)

// TransactionListChangedMessage signals that a user's transaction list
// changed: an import run added rows, or a bulk delete removed them. The
// worker fetches the full set from the database; the message only
// carries enough to identify the change.
type TransactionListChangedMessage struct {
	UserID    string    `json:"userId"`
	RunID     string    `json:"runId,omitempty"`
	Imported  int       `json:"imported"`
	Deleted   int64     `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

func NewTransactionsImportedMessage(userID, runID string, imported int) *TransactionListChangedMessage {
	return &TransactionListChangedMessage{
		UserID:    userID,
		RunID:     runID,
		Imported:  imported,
		Timestamp: time.Now(),
	}
}

func NewTransactionsDeletedMessage(userID string, deleted int64) *TransactionListChangedMessage {
	return &TransactionListChangedMessage{
		UserID:    userID,
		Deleted:   deleted,
		Timestamp: time.Now(),
	}
}

func (m *TransactionListChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionListChangedMessageFromJSON(data []byte) (*TransactionListChangedMessage, error) {
	var msg TransactionListChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
