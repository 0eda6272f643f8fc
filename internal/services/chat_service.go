package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sage/internal/chat"
	"sage/internal/core"
	"sage/internal/storage"
)

// ChatStore is the subset of the repository the chat service reads from.
type ChatStore interface {
	ListTransactionsByUser(ctx context.Context, userID string) ([]core.Transaction, error)
	GetUser(ctx context.Context, userID string) (*core.User, error)
}

// ChatReply is one assistant answer, with an optional chart payload when
// the model asked for one inline.
type ChatReply struct {
	Message string          `json:"message"`
	Graph   *chat.GraphData `json:"graph,omitempty"`
}

// ChatService grounds the assistant in the user's stored transactions.
type ChatService struct {
	store     ChatStore
	completer chat.Completer
}

func NewChatService(store ChatStore, completer chat.Completer) *ChatService {
	return &ChatService{
		store:     store,
		completer: completer,
	}
}

// Ask builds a system prompt from the user's data, forwards the message
// to the model, and resolves any graph marker in the reply into plottable
// data.
func (s *ChatService) Ask(ctx context.Context, userID, message string) (*ChatReply, error) {
	txs, err := s.store.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}

	prompt := chat.BuildSystemPrompt(txs, user)

	answer, err := s.completer.Complete(ctx, prompt, message)
	if err != nil {
		return nil, fmt.Errorf("complete chat message: %w", err)
	}

	reply := &ChatReply{Message: answer}
	if graphType, ok := chat.ExtractGraphMarker(answer); ok {
		reply.Graph = chat.BuildGraphData(graphType, txs)
		slog.DebugContext(ctx, "Resolved graph marker",
			"userId", userID,
			"graphType", string(graphType))
	}

	return reply, nil
}
