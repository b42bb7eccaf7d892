package contract

import "context"

type Planner interface {
	Plan(ctx context.Context, req PlannerRequest) (Plan, error)
}

type Executor interface {
	Name() string
	Invoke(ctx context.Context, inv Invocation) (any, error)
}

type ExecutorRegistry interface {
	Lookup(name string) (Executor, bool)
	Names() []string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, conversationID int64, plan Plan, sink EventSink) []TaskOutcome
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (TextStream, error)
}

// TextStream is a lazy, finite, non-restartable sequence of text fragments.
type TextStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

type EventSink interface {
	Send(ev StreamEvent) error
}

type ConversationStore interface {
	CreateConversation(ctx context.Context) (int64, error)
	ConversationExists(ctx context.Context, id int64) (bool, error)
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	Messages(ctx context.Context, conversationID int64, limit int) ([]Message, error)
	SearchMessages(ctx context.Context, conversationID int64, query string, limit int) ([]Message, error)
}

type TaskStore interface {
	CreateTask(ctx context.Context, task TrackedTask) (TrackedTask, error)
	UpdateTask(ctx context.Context, task TrackedTask) (TrackedTask, error)
	ListTasks(ctx context.Context, conversationID int64) ([]TrackedTask, error)
}

type ChangeNotifier interface {
	Notify(ctx context.Context, conversationID int64) error
}

// Listen yields a signal per out-of-band task mutation until ctx is done.
type ChangeListener interface {
	Listen(ctx context.Context, conversationID int64) (<-chan struct{}, error)
}

type TaskReconciler interface {
	Reconcile(ctx context.Context, conversationID int64, sink EventSink)
}
