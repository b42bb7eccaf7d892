package stream

import (
	contractx "github.com/pattarawat/steward/agent/contract"
)

func ConversationID(id int64) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventConversationID,
		Data: contractx.ConversationIDData{ConversationID: id},
	}
}

func PlannerStatus(state, detail string) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventPlannerStatus,
		Data: contractx.StageStatusData{State: state, Detail: detail},
	}
}

func DispatcherStatus(state, detail string) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventDispatcherStatus,
		Data: contractx.StageStatusData{State: state, Detail: detail},
	}
}

func SynthesizerStatus(state, detail string) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventSynthesizerStatus,
		Data: contractx.StageStatusData{State: state, Detail: detail},
	}
}

func TaskStarted(task contractx.Task) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventDispatcherEvent,
		Data: contractx.DispatcherEventData{
			TaskID:   task.ID,
			Executor: task.Executor,
			State:    contractx.TaskEventStarted,
		},
	}
}

func TaskResolved(outcome contractx.TaskOutcome) contractx.StreamEvent {
	data := contractx.DispatcherEventData{
		TaskID:   outcome.TaskID,
		Executor: outcome.Executor,
		State:    contractx.TaskEventCompleted,
		Output:   outcome.Output,
	}
	if outcome.Failed() {
		data.State = contractx.TaskEventError
		data.Error = outcome.Error
		data.Output = nil
	}
	return contractx.StreamEvent{Type: contractx.EventDispatcherEvent, Data: data}
}

func AssistantDelta(text string) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventAssistantDelta,
		Data: contractx.AssistantDeltaData{Text: text},
	}
}

func TaskSummary(tasks []contractx.TrackedTask) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventTaskSummary,
		Data: contractx.TaskSummaryData{Total: len(tasks), Tasks: tasks},
	}
}

func TaskUpdated(task contractx.TrackedTask) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventTaskUpdated,
		Data: contractx.TaskUpdatedData{Task: task},
	}
}

func Error(stage, message string) contractx.StreamEvent {
	return contractx.StreamEvent{
		Type: contractx.EventError,
		Data: contractx.ErrorData{Stage: stage, Message: message},
	}
}
