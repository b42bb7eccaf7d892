package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	contractx "github.com/pattarawat/steward/agent/contract"
	openrouterx "github.com/pattarawat/steward/pkg/openrouter"
)

const historyWindow = 10

type chatClient interface {
	Chat(ctx context.Context, req openrouterx.ChatRequest) (string, error)
}

type llmPlanner struct {
	client chatClient
	system string
}

type plannerLLMOutput struct {
	Tasks []taskSpec `json:"tasks"`
}

type taskSpec struct {
	Executor    string         `json:"executor"`
	Args        map[string]any `json:"args,omitempty"`
	Description string         `json:"description,omitempty"`
	Stage       int            `json:"stage,omitempty"`
}

func newLLMPlanner(client chatClient, systemPrompt string, executorNames []string) *llmPlanner {
	listing := "- " + strings.Join(executorNames, "\n- ")
	return &llmPlanner{
		client: client,
		system: strings.ReplaceAll(systemPrompt, "{{EXECUTORS}}", listing),
	}
}

func (p *llmPlanner) Plan(ctx context.Context, req contractx.PlannerRequest) (contractx.Plan, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return contractx.Plan{}, fmt.Errorf("%w: user message is required", contractx.ErrValidation)
	}

	payload := map[string]any{
		"user_message": req.UserMessage,
		"history":      summarizeHistory(req.History),
	}
	inputBytes, err := json.Marshal(payload)
	if err != nil {
		return contractx.Plan{}, fmt.Errorf("%w: marshal planner payload: %v", contractx.ErrValidation, err)
	}

	raw, err := p.client.Chat(ctx, openrouterx.ChatRequest{
		System: p.system,
		User:   string(inputBytes),
	})
	if err != nil {
		return contractx.Plan{}, fmt.Errorf("%w: planner invoke: %v", contractx.ErrModelInvoke, err)
	}

	var out plannerLLMOutput
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return contractx.Plan{}, fmt.Errorf("%w: planner output is not valid JSON: %v", contractx.ErrSchemaViolation, err)
	}

	plan := contractx.Plan{Tasks: make([]contractx.Task, 0, len(out.Tasks))}
	for i, spec := range out.Tasks {
		name := strings.TrimSpace(spec.Executor)
		if name == "" {
			return contractx.Plan{}, fmt.Errorf("%w: task %d is missing an executor name", contractx.ErrSchemaViolation, i)
		}
		stage := spec.Stage
		if stage < 0 {
			stage = 0
		}
		plan.Tasks = append(plan.Tasks, contractx.Task{
			ID:          uuid.NewString(),
			Executor:    name,
			Args:        spec.Args,
			Description: strings.TrimSpace(spec.Description),
			Stage:       stage,
		})
	}
	return plan, nil
}

func summarizeHistory(history []contractx.Message) []map[string]string {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	out := make([]map[string]string, 0, len(history))
	for _, msg := range history {
		out = append(out, map[string]string{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}
	return out
}

// extractJSON tolerates models that wrap the object in prose or fences.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
