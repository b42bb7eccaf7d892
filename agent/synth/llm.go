package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	contractx "github.com/pattarawat/steward/agent/contract"
	openrouterx "github.com/pattarawat/steward/pkg/openrouter"
)

const historyWindow = 10

type streamClient interface {
	ChatStream(ctx context.Context, req openrouterx.ChatRequest) *ssestream.Stream[openaisdk.ChatCompletionChunk]
}

type llmSynthesizer struct {
	client streamClient
	system string
}

func newLLMSynthesizer(client streamClient, systemPrompt string) *llmSynthesizer {
	return &llmSynthesizer{client: client, system: systemPrompt}
}

func (s *llmSynthesizer) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.TextStream, error) {
	payload, err := json.Marshal(synthesisPayload(req))
	if err != nil {
		return nil, fmt.Errorf("%w: marshal synthesis payload: %v", contractx.ErrSynthesis, err)
	}

	inner := s.client.ChatStream(ctx, openrouterx.ChatRequest{
		System: s.system,
		User:   string(payload),
	})
	return &chunkStream{inner: inner}, nil
}

func synthesisPayload(req contractx.SynthesisRequest) map[string]any {
	history := req.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	turns := make([]map[string]string, 0, len(history))
	for _, msg := range history {
		turns = append(turns, map[string]string{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}

	outcomes := make([]map[string]any, 0, len(req.Outcomes))
	for _, outcome := range req.Outcomes {
		entry := map[string]any{
			"task_id":  outcome.TaskID,
			"executor": outcome.Executor,
		}
		if outcome.Failed() {
			entry["error"] = outcome.Error
		} else {
			entry["output"] = outcome.Output
		}
		outcomes = append(outcomes, entry)
	}

	return map[string]any{
		"user_message":  req.UserMessage,
		"history":       turns,
		"task_outcomes": outcomes,
	}
}

// chunkStream adapts the SDK's completion chunks to plain text fragments,
// skipping empty deltas.
type chunkStream struct {
	inner   *ssestream.Stream[openaisdk.ChatCompletionChunk]
	current string
}

func (s *chunkStream) Next() bool {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.current = delta
			return true
		}
	}
	return false
}

func (s *chunkStream) Current() string {
	return s.current
}

func (s *chunkStream) Err() error {
	if err := s.inner.Err(); err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrSynthesis, err)
	}
	return nil
}

func (s *chunkStream) Close() error {
	return s.inner.Close()
}

// sliceStream is the eager counterpart used by the template variant and
// by tests.
type sliceStream struct {
	fragments []string
	pos       int
	current   string
}

func newSliceStream(fragments ...string) *sliceStream {
	trimmed := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			trimmed = append(trimmed, f)
		}
	}
	return &sliceStream{fragments: trimmed}
}

func (s *sliceStream) Next() bool {
	if s.pos >= len(s.fragments) {
		return false
	}
	s.current = s.fragments[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) Current() string { return s.current }
func (s *sliceStream) Err() error      { return nil }
func (s *sliceStream) Close() error    { return nil }
