package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/pattarawat/steward/agent/contract"
	logx "github.com/pattarawat/steward/pkg/logger"
)

type checklistArgs struct {
	Items []checklistItem `json:"items"`
}

type checklistItem struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

type ChecklistOutput struct {
	Created int                     `json:"created"`
	Updated int                     `json:"updated"`
	Tasks   []contractx.TrackedTask `json:"tasks"`
}

type checklistExecutor struct {
	tasks    contractx.TaskStore
	notifier contractx.ChangeNotifier
	log      zerolog.Logger
}

func newChecklistExecutor(tasks contractx.TaskStore, notifier contractx.ChangeNotifier) *checklistExecutor {
	return &checklistExecutor{
		tasks:    tasks,
		notifier: notifier,
		log:      logx.Component("executor.checklist"),
	}
}

func (e *checklistExecutor) Name() string {
	return ExecutorChecklistUpdate
}

func (e *checklistExecutor) Invoke(ctx context.Context, inv contractx.Invocation) (any, error) {
	args, err := decodeChecklistArgs(inv.Args)
	if err != nil {
		return nil, err
	}

	out := ChecklistOutput{Tasks: make([]contractx.TrackedTask, 0, len(args.Items))}
	for _, item := range args.Items {
		task, created, err := e.apply(ctx, inv.ConversationID, item)
		if err != nil {
			return nil, err
		}
		if created {
			out.Created++
		} else {
			out.Updated++
		}
		out.Tasks = append(out.Tasks, task)
	}

	// Mutations are durable at this point; the nudge is best effort.
	if err := e.notifier.Notify(ctx, inv.ConversationID); err != nil {
		e.log.Warn().Err(err).Int64("conversation_id", inv.ConversationID).
			Msg("task change notification failed")
	}

	return out, nil
}

func (e *checklistExecutor) apply(ctx context.Context, conversationID int64, item checklistItem) (contractx.TrackedTask, bool, error) {
	status, err := parseTaskStatus(item.Status)
	if err != nil {
		return contractx.TrackedTask{}, false, err
	}

	task := contractx.TrackedTask{
		ID:             strings.TrimSpace(item.ID),
		ConversationID: conversationID,
		Title:          strings.TrimSpace(item.Title),
		Description:    strings.TrimSpace(item.Description),
		Status:         status,
	}
	if task.Title == "" {
		return contractx.TrackedTask{}, false, fmt.Errorf("%w: checklist item title is required", contractx.ErrValidation)
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
		created, err := e.tasks.CreateTask(ctx, task)
		if err != nil {
			return contractx.TrackedTask{}, false, fmt.Errorf("%w: create tracked task: %v", contractx.ErrExecutor, err)
		}
		return created, true, nil
	}

	updated, err := e.tasks.UpdateTask(ctx, task)
	if err != nil {
		return contractx.TrackedTask{}, false, fmt.Errorf("%w: update tracked task %s: %v", contractx.ErrExecutor, task.ID, err)
	}
	return updated, false, nil
}

func decodeChecklistArgs(raw map[string]any) (checklistArgs, error) {
	var args checklistArgs
	buf, err := json.Marshal(raw)
	if err != nil {
		return args, fmt.Errorf("%w: encode checklist args: %v", contractx.ErrValidation, err)
	}
	if err := json.Unmarshal(buf, &args); err != nil {
		return args, fmt.Errorf("%w: checklist args malformed: %v", contractx.ErrValidation, err)
	}
	if len(args.Items) == 0 {
		return args, fmt.Errorf("%w: checklist items are required", contractx.ErrValidation)
	}
	return args, nil
}

func parseTaskStatus(raw string) (contractx.TaskStatus, error) {
	switch status := contractx.TaskStatus(strings.TrimSpace(raw)); status {
	case "":
		return contractx.TaskStatusPending, nil
	case contractx.TaskStatusPending, contractx.TaskStatusInProgress,
		contractx.TaskStatusCompleted, contractx.TaskStatusBlocked:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unsupported task status %q", contractx.ErrValidation, raw)
	}
}
