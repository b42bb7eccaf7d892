package executor

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/pattarawat/steward/agent/contract"
)

func TestChecklistCreatesTasks(t *testing.T) {
	t.Parallel()

	store := newFakeTaskStore()
	notifier := &fakeNotifier{}
	ex := newChecklistExecutor(store, notifier)

	out, err := ex.Invoke(context.Background(), contractx.Invocation{
		ConversationID: 7,
		Args: map[string]any{
			"items": []any{
				map[string]any{"title": "book venue"},
				map[string]any{"title": "send invites", "status": "in_progress"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, ok := out.(ChecklistOutput)
	if !ok {
		t.Fatalf("unexpected output type: %T", out)
	}
	if result.Created != 2 || result.Updated != 0 {
		t.Fatalf("unexpected counts: created=%d updated=%d", result.Created, result.Updated)
	}
	if store.createCalls != 2 {
		t.Fatalf("expected 2 creates, got %d", store.createCalls)
	}
	if result.Tasks[0].ID == "" {
		t.Fatal("expected generated task id")
	}
	if result.Tasks[0].Status != contractx.TaskStatusPending {
		t.Fatalf("expected default pending status, got %s", result.Tasks[0].Status)
	}
	if result.Tasks[1].Status != contractx.TaskStatusInProgress {
		t.Fatalf("unexpected status: %s", result.Tasks[1].Status)
	}
	if result.Tasks[0].ConversationID != 7 {
		t.Fatalf("unexpected conversation id: %d", result.Tasks[0].ConversationID)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.calls)
	}
}

func TestChecklistUpdatesExistingTask(t *testing.T) {
	t.Parallel()

	store := newFakeTaskStore()
	store.tasks["t1"] = contractx.TrackedTask{ID: "t1", ConversationID: 7, Title: "book venue", Status: contractx.TaskStatusPending}
	ex := newChecklistExecutor(store, &fakeNotifier{})

	out, err := ex.Invoke(context.Background(), contractx.Invocation{
		ConversationID: 7,
		Args: map[string]any{
			"items": []any{
				map[string]any{"id": "t1", "title": "book venue", "status": "completed"},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := out.(ChecklistOutput)
	if result.Updated != 1 || result.Created != 0 {
		t.Fatalf("unexpected counts: created=%d updated=%d", result.Created, result.Updated)
	}
	if store.updateCalls != 1 {
		t.Fatalf("expected 1 update, got %d", store.updateCalls)
	}
	if store.tasks["t1"].Status != contractx.TaskStatusCompleted {
		t.Fatalf("unexpected stored status: %s", store.tasks["t1"].Status)
	}
}

func TestChecklistRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	ex := newChecklistExecutor(newFakeTaskStore(), &fakeNotifier{})
	_, err := ex.Invoke(context.Background(), contractx.Invocation{
		ConversationID: 7,
		Args: map[string]any{
			"items": []any{map[string]any{"title": "x", "status": "cancelled"}},
		},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChecklistRequiresItems(t *testing.T) {
	t.Parallel()

	ex := newChecklistExecutor(newFakeTaskStore(), &fakeNotifier{})
	if _, err := ex.Invoke(context.Background(), contractx.Invocation{Args: map[string]any{}}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChecklistRequiresTitle(t *testing.T) {
	t.Parallel()

	ex := newChecklistExecutor(newFakeTaskStore(), &fakeNotifier{})
	_, err := ex.Invoke(context.Background(), contractx.Invocation{
		Args: map[string]any{"items": []any{map[string]any{"status": "pending"}}},
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChecklistSurvivesNotifierFailure(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{err: errors.New("redis down")}
	ex := newChecklistExecutor(newFakeTaskStore(), notifier)

	_, err := ex.Invoke(context.Background(), contractx.Invocation{
		ConversationID: 7,
		Args: map[string]any{
			"items": []any{map[string]any{"title": "book venue"}},
		},
	})
	if err != nil {
		t.Fatalf("notification failure must not fail the invocation: %v", err)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected notify attempt, got %d", notifier.calls)
	}
}

func TestChecklistPropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	store := newFakeTaskStore()
	store.failCreate = errors.New("pg down")
	ex := newChecklistExecutor(store, &fakeNotifier{})

	_, err := ex.Invoke(context.Background(), contractx.Invocation{
		Args: map[string]any{"items": []any{map[string]any{"title": "x"}}},
	})
	if !errors.Is(err, contractx.ErrExecutor) {
		t.Fatalf("expected executor error, got %v", err)
	}
}
