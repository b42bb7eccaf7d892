package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	contractx "github.com/pattarawat/steward/agent/contract"
)

// rulePlanner is the deterministic variant used when no LLM backend is
// configured. It only plans for unmistakable requests and leaves
// everything else to the synthesizer as plain conversation.
type rulePlanner struct{}

var (
	mathCandidate   = regexp.MustCompile(`[\d\.\(\)][\d\s\.\+\-\*/%\^\(\)]*[\d\.\)]`)
	mathOperator    = regexp.MustCompile(`[\+\-\*/%\^]`)
	historyTriggers = []string{"search history", "search the history", "what did i say", "what did we say", "find in history"}
)

func newRulePlanner() *rulePlanner {
	return &rulePlanner{}
}

func (p *rulePlanner) Plan(_ context.Context, req contractx.PlannerRequest) (contractx.Plan, error) {
	message := strings.TrimSpace(req.UserMessage)
	if message == "" {
		return contractx.Plan{}, fmt.Errorf("%w: user message is required", contractx.ErrValidation)
	}

	if expr, ok := mathExpressionIn(message); ok {
		return singleTask("math.evaluate", map[string]any{"expression": expr}, "evaluate "+expr), nil
	}
	if query, ok := historyQueryIn(message); ok {
		return singleTask("history.search", map[string]any{"query": query}, "search history for "+query), nil
	}
	return contractx.Plan{}, nil
}

func singleTask(executor string, args map[string]any, description string) contractx.Plan {
	return contractx.Plan{Tasks: []contractx.Task{{
		ID:          uuid.NewString(),
		Executor:    executor,
		Args:        args,
		Description: description,
	}}}
}

func mathExpressionIn(message string) (string, bool) {
	candidate := strings.TrimSpace(mathCandidate.FindString(message))
	if candidate == "" || !mathOperator.MatchString(candidate) {
		return "", false
	}
	return candidate, true
}

func historyQueryIn(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, trigger := range historyTriggers {
		idx := strings.Index(lower, trigger)
		if idx < 0 {
			continue
		}
		query := strings.TrimSpace(message[idx+len(trigger):])
		query = strings.TrimPrefix(query, "for ")
		query = strings.Trim(query, " ?.!\"'")
		if query != "" {
			return query, true
		}
	}
	return "", false
}
