package executor

import (
	"context"
	"fmt"
	"sort"

	contractx "github.com/pattarawat/steward/agent/contract"
)

const (
	ExecutorChecklistUpdate = "checklist.update"
	ExecutorHistorySearch   = "history.search"
	ExecutorMathEvaluate    = "math.evaluate"
)

type Deps struct {
	Conversations contractx.ConversationStore
	Tasks         contractx.TaskStore
	Notifier      contractx.ChangeNotifier
}

type registryImpl struct {
	executors map[string]contractx.Executor
}

// NewRegistry builds the fixed executor set once. The notifier may be nil;
// checklist mutations then rely on the reconciler's poll alone.
func NewRegistry(deps Deps) (contractx.ExecutorRegistry, error) {
	if deps.Conversations == nil {
		return nil, fmt.Errorf("%w: conversation store is required", contractx.ErrValidation)
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("%w: task store is required", contractx.ErrValidation)
	}
	if deps.Notifier == nil {
		deps.Notifier = noopNotifier{}
	}

	all := []contractx.Executor{
		newChecklistExecutor(deps.Tasks, deps.Notifier),
		newHistoryExecutor(deps.Conversations),
		newMathExecutor(),
	}

	executors := make(map[string]contractx.Executor, len(all))
	for _, ex := range all {
		executors[ex.Name()] = ex
	}

	return &registryImpl{executors: executors}, nil
}

func (r *registryImpl) Lookup(name string) (contractx.Executor, bool) {
	ex, ok := r.executors[name]
	return ex, ok
}

func (r *registryImpl) Names() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, int64) error { return nil }
