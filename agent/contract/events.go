package contract

type EventType string

const (
	EventConversationID    EventType = "conversation_id"
	EventPlannerStatus     EventType = "planner_status"
	EventDispatcherStatus  EventType = "dispatcher_status"
	EventDispatcherEvent   EventType = "dispatcher_event"
	EventSynthesizerStatus EventType = "synthesizer_status"
	EventAssistantDelta    EventType = "assistant_delta"
	EventTaskSummary       EventType = "task_summary"
	EventTaskUpdated       EventType = "task_updated"
	EventError             EventType = "error"
	EventDone              EventType = "done"
)

type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

type ConversationIDData struct {
	ConversationID int64 `json:"conversation_id"`
}

type StageStatusData struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

type DispatcherEventData struct {
	TaskID   string `json:"task_id"`
	Executor string `json:"executor"`
	State    string `json:"state"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

type AssistantDeltaData struct {
	Text string `json:"text"`
}

type TaskSummaryData struct {
	Total int           `json:"total"`
	Tasks []TrackedTask `json:"tasks"`
}

type TaskUpdatedData struct {
	Task TrackedTask `json:"task"`
}

type ErrorData struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

const (
	StageStatusStarted  = "started"
	StageStatusSkipped  = "skipped"
	StageStatusFinished = "finished"
	StageStatusFailed   = "failed"
)

const (
	TaskEventStarted   = "started"
	TaskEventCompleted = "completed"
	TaskEventError     = "error"
)
