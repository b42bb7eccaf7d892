package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	contractx "github.com/pattarawat/steward/agent/contract"
)

const renderedOutputCap = 200

// templateSynthesizer is the deterministic variant used when no LLM
// backend is configured.
type templateSynthesizer struct{}

func newTemplateSynthesizer() *templateSynthesizer {
	return &templateSynthesizer{}
}

func (s *templateSynthesizer) Synthesize(_ context.Context, req contractx.SynthesisRequest) (contractx.TextStream, error) {
	if len(req.Outcomes) == 0 {
		return newSliceStream(directReply(req.UserMessage)), nil
	}

	var succeeded, failed []contractx.TaskOutcome
	for _, outcome := range req.Outcomes {
		if outcome.Failed() {
			failed = append(failed, outcome)
		} else {
			succeeded = append(succeeded, outcome)
		}
	}

	fragments := make([]string, 0, len(succeeded)+2)
	if len(succeeded) > 0 {
		fragments = append(fragments, "Here is what I completed:\n")
		for _, outcome := range succeeded {
			fragments = append(fragments, fmt.Sprintf("- %s: %s\n", outcome.Executor, renderOutput(outcome.Output)))
		}
	}
	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, outcome := range failed {
			names = append(names, outcome.Executor)
		}
		fragments = append(fragments, fmt.Sprintf("I could not complete: %s.", strings.Join(names, ", ")))
	}
	if len(fragments) == 0 {
		fragments = append(fragments, directReply(req.UserMessage))
	}

	return newSliceStream(fragments...), nil
}

func directReply(message string) string {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, greeting := range []string{"hello", "hi", "hey", "good morning", "good evening"} {
		if strings.HasPrefix(lower, greeting) {
			return "Hello! How can I help you today?"
		}
	}
	return "Nothing needed to run for that request. Tell me more and I can plan tasks for it."
}

func renderOutput(output any) string {
	var rendered string
	switch v := output.(type) {
	case nil:
		rendered = "done"
	case string:
		rendered = v
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			rendered = "done"
		} else {
			rendered = string(buf)
		}
	}
	if len(rendered) > renderedOutputCap {
		rendered = rendered[:renderedOutputCap] + "…"
	}
	return rendered
}
