package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/pattarawat/steward/agent/contract"
)

const defaultMessageWindow = 20

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID        int64     `bun:"id,pk,autoincrement"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type messageRow struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             int64     `bun:"id,pk,autoincrement"`
	ConversationID int64     `bun:"conversation_id,notnull"`
	Role           string    `bun:"role,notnull"`
	Content        string    `bun:"content,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

// ConversationStore persists conversations and their message log.
type ConversationStore struct {
	db *DB
}

func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) CreateConversation(ctx context.Context) (int64, error) {
	row := &conversationRow{CreatedAt: time.Now().UTC()}
	if _, err := s.db.bun.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}
	return row.ID, nil
}

func (s *ConversationStore) ConversationExists(ctx context.Context, id int64) (bool, error) {
	exists, err := s.db.bun.NewSelect().
		Model((*conversationRow)(nil)).
		Where("c.id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

func (s *ConversationStore) AppendMessage(ctx context.Context, msg contractx.Message) (contractx.Message, error) {
	if msg.ConversationID == 0 {
		return contractx.Message{}, errors.New("conversation id is required")
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := &messageRow{
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      createdAt,
	}
	if _, err := s.db.bun.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return contractx.Message{}, fmt.Errorf("append message: %w", err)
	}
	return messageFromRow(*row), nil
}

// Messages returns the most recent window in chronological order.
func (s *ConversationStore) Messages(ctx context.Context, conversationID int64, limit int) ([]contractx.Message, error) {
	if limit <= 0 {
		limit = defaultMessageWindow
	}

	var rows []messageRow
	err := s.db.bun.NewSelect().
		Model(&rows).
		Where("m.conversation_id = ?", conversationID).
		OrderExpr("m.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return chronological(rows), nil
}

// SearchMessages returns matches newest first.
func (s *ConversationStore) SearchMessages(ctx context.Context, conversationID int64, query string, limit int) ([]contractx.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 {
		limit = defaultMessageWindow
	}

	var rows []messageRow
	err := s.db.bun.NewSelect().
		Model(&rows).
		Where("m.conversation_id = ?", conversationID).
		Where("m.content ILIKE ?", "%"+escapeLike(query)+"%").
		OrderExpr("m.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	out := make([]contractx.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, messageFromRow(row))
	}
	return out, nil
}

func messageFromRow(row messageRow) contractx.Message {
	return contractx.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Role:           contractx.Role(row.Role),
		Content:        row.Content,
		CreatedAt:      row.CreatedAt,
	}
}

// chronological flips a newest-first page back into reading order.
func chronological(rows []messageRow) []contractx.Message {
	out := make([]contractx.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, messageFromRow(rows[i]))
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
