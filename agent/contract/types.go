package contract

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Plan struct {
	Tasks []Task `json:"tasks"`
}

type Task struct {
	ID          string         `json:"id"`
	Executor    string         `json:"executor"`
	Args        map[string]any `json:"args,omitempty"`
	Description string         `json:"description,omitempty"`
	Stage       int            `json:"stage,omitempty"`
}

type TaskOutcome struct {
	TaskID   string `json:"task_id"`
	Executor string `json:"executor"`
	Output   any    `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (o TaskOutcome) Failed() bool {
	return o.Error != ""
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

type TrackedTask struct {
	ID             string     `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TaskStatus `json:"status"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type PlannerRequest struct {
	ConversationID int64     `json:"conversation_id"`
	UserMessage    string    `json:"user_message"`
	History        []Message `json:"history,omitempty"`
	Now            time.Time `json:"now"`
}

type SynthesisRequest struct {
	ConversationID int64         `json:"conversation_id"`
	UserMessage    string        `json:"user_message"`
	History        []Message     `json:"history,omitempty"`
	Outcomes       []TaskOutcome `json:"outcomes,omitempty"`
}

type Invocation struct {
	ConversationID int64          `json:"conversation_id"`
	TaskID         string         `json:"task_id"`
	Args           map[string]any `json:"args,omitempty"`
}
