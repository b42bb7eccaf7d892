package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	contractx "github.com/pattarawat/steward/agent/contract"
)

type fakeTaskStore struct {
	createCalls int
	updateCalls int
	tasks       map[string]contractx.TrackedTask
	failCreate  error
	failUpdate  error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]contractx.TrackedTask{}}
}

func (s *fakeTaskStore) CreateTask(_ context.Context, task contractx.TrackedTask) (contractx.TrackedTask, error) {
	s.createCalls++
	if s.failCreate != nil {
		return contractx.TrackedTask{}, s.failCreate
	}
	task.UpdatedAt = time.Unix(100, 0)
	s.tasks[task.ID] = task
	return task, nil
}

func (s *fakeTaskStore) UpdateTask(_ context.Context, task contractx.TrackedTask) (contractx.TrackedTask, error) {
	s.updateCalls++
	if s.failUpdate != nil {
		return contractx.TrackedTask{}, s.failUpdate
	}
	if _, ok := s.tasks[task.ID]; !ok {
		return contractx.TrackedTask{}, fmt.Errorf("task %s not found", task.ID)
	}
	task.UpdatedAt = time.Unix(200, 0)
	s.tasks[task.ID] = task
	return task, nil
}

func (s *fakeTaskStore) ListTasks(_ context.Context, conversationID int64) ([]contractx.TrackedTask, error) {
	out := make([]contractx.TrackedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if task.ConversationID == conversationID {
			out = append(out, task)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	calls int
	err   error
}

func (n *fakeNotifier) Notify(context.Context, int64) error {
	n.calls++
	return n.err
}

type fakeConversationStore struct {
	messages  []contractx.Message
	searchErr error
	lastQuery string
	lastLimit int
}

func (s *fakeConversationStore) CreateConversation(context.Context) (int64, error) {
	return 1, nil
}

func (s *fakeConversationStore) ConversationExists(context.Context, int64) (bool, error) {
	return true, nil
}

func (s *fakeConversationStore) AppendMessage(_ context.Context, msg contractx.Message) (contractx.Message, error) {
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *fakeConversationStore) Messages(_ context.Context, _ int64, limit int) ([]contractx.Message, error) {
	if limit > len(s.messages) {
		limit = len(s.messages)
	}
	return s.messages[:limit], nil
}

func (s *fakeConversationStore) SearchMessages(_ context.Context, _ int64, query string, limit int) ([]contractx.Message, error) {
	s.lastQuery = query
	s.lastLimit = limit
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if limit > len(s.messages) {
		limit = len(s.messages)
	}
	return s.messages[:limit], nil
}

func newTestRegistry(t *testing.T) contractx.ExecutorRegistry {
	t.Helper()
	reg, err := NewRegistry(Deps{
		Conversations: &fakeConversationStore{},
		Tasks:         newFakeTaskStore(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return reg
}

func TestNewRegistryRequiresStores(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(Deps{Tasks: newFakeTaskStore()}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewRegistry(Deps{Conversations: &fakeConversationStore{}}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistryNamesAndLookup(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry(t)

	names := reg.Names()
	want := []string{ExecutorChecklistUpdate, ExecutorHistorySearch, ExecutorMathEvaluate}
	if len(names) != len(want) {
		t.Fatalf("expected %d executors, got %d", len(want), len(names))
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("names[%d] = %s, want %s", i, names[i], name)
		}
	}

	for _, name := range want {
		ex, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("executor %s missing", name)
		}
		if ex.Name() != name {
			t.Fatalf("executor reports %s, want %s", ex.Name(), name)
		}
	}

	if _, ok := reg.Lookup("inventory.query"); ok {
		t.Fatal("unexpected executor for unknown name")
	}
}
