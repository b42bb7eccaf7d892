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

var ErrTaskNotFound = errors.New("tracked task not found")

type taskRow struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID             string    `bun:"id,pk"`
	ConversationID int64     `bun:"conversation_id,notnull"`
	Title          string    `bun:"title,notnull"`
	Description    string    `bun:"description"`
	Status         string    `bun:"status,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// TaskStore persists the tracked-task checklist. Rows are mutated out
// of band as well, which is why readers always go back to the table.
type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) CreateTask(ctx context.Context, task contractx.TrackedTask) (contractx.TrackedTask, error) {
	row, err := rowFromTask(task)
	if err != nil {
		return contractx.TrackedTask{}, err
	}
	if _, err := s.db.bun.NewInsert().Model(&row).Exec(ctx); err != nil {
		return contractx.TrackedTask{}, fmt.Errorf("create task: %w", err)
	}
	return taskFromRow(row), nil
}

func (s *TaskStore) UpdateTask(ctx context.Context, task contractx.TrackedTask) (contractx.TrackedTask, error) {
	row, err := rowFromTask(task)
	if err != nil {
		return contractx.TrackedTask{}, err
	}

	res, err := s.db.bun.NewUpdate().
		Model(&row).
		Column("title", "description", "status", "updated_at").
		WherePK().
		Where("t.conversation_id = ?", row.ConversationID).
		Exec(ctx)
	if err != nil {
		return contractx.TrackedTask{}, fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return contractx.TrackedTask{}, fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		return contractx.TrackedTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, row.ID)
	}
	return taskFromRow(row), nil
}

func (s *TaskStore) ListTasks(ctx context.Context, conversationID int64) ([]contractx.TrackedTask, error) {
	var rows []taskRow
	err := s.db.bun.NewSelect().
		Model(&rows).
		Where("t.conversation_id = ?", conversationID).
		OrderExpr("t.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]contractx.TrackedTask, 0, len(rows))
	for _, row := range rows {
		out = append(out, taskFromRow(row))
	}
	return out, nil
}

func rowFromTask(task contractx.TrackedTask) (taskRow, error) {
	id := strings.TrimSpace(task.ID)
	if id == "" {
		return taskRow{}, errors.New("task id is required")
	}
	if task.ConversationID == 0 {
		return taskRow{}, errors.New("conversation id is required")
	}
	title := strings.TrimSpace(task.Title)
	if title == "" {
		return taskRow{}, errors.New("task title is required")
	}
	status := task.Status
	if status == "" {
		status = contractx.TaskStatusPending
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	return taskRow{
		ID:             id,
		ConversationID: task.ConversationID,
		Title:          title,
		Description:    strings.TrimSpace(task.Description),
		Status:         string(status),
		UpdatedAt:      updatedAt,
	}, nil
}

func taskFromRow(row taskRow) contractx.TrackedTask {
	return contractx.TrackedTask{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		Title:          row.Title,
		Description:    row.Description,
		Status:         contractx.TaskStatus(row.Status),
		UpdatedAt:      row.UpdatedAt,
	}
}
