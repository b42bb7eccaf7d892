package executor

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/pattarawat/steward/agent/contract"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

type HistoryMatch struct {
	Role      contractx.Role `json:"role"`
	Content   string         `json:"content"`
	CreatedAt string         `json:"created_at"`
}

type HistoryOutput struct {
	Query   string         `json:"query"`
	Total   int            `json:"total"`
	Matches []HistoryMatch `json:"matches"`
}

type historyExecutor struct {
	conversations contractx.ConversationStore
}

func newHistoryExecutor(conversations contractx.ConversationStore) *historyExecutor {
	return &historyExecutor{conversations: conversations}
}

func (e *historyExecutor) Name() string {
	return ExecutorHistorySearch
}

func (e *historyExecutor) Invoke(ctx context.Context, inv contractx.Invocation) (any, error) {
	query, ok := inv.Args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", contractx.ErrValidation)
	}
	query = strings.TrimSpace(query)

	limit := defaultSearchLimit
	if raw, ok := inv.Args["limit"]; ok {
		// JSON numbers decode as float64.
		if f, ok := raw.(float64); ok && int(f) > 0 {
			limit = int(f)
		}
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	messages, err := e.conversations.SearchMessages(ctx, inv.ConversationID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search history: %v", contractx.ErrExecutor, err)
	}

	out := HistoryOutput{Query: query, Total: len(messages), Matches: make([]HistoryMatch, 0, len(messages))}
	for _, msg := range messages {
		out.Matches = append(out.Matches, HistoryMatch{
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}
