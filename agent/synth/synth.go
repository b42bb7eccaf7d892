// Package synth produces the user-visible reply for a run as a lazy
// stream of text fragments. Structured planning and dispatch data only
// reaches the user through the prompt, never verbatim.
package synth

import (
	contractx "github.com/pattarawat/steward/agent/contract"
	llmx "github.com/pattarawat/steward/agent/llm"
	logx "github.com/pattarawat/steward/pkg/logger"
	openrouterx "github.com/pattarawat/steward/pkg/openrouter"
)

// FallbackMessage ends the run with a user-visible explanation when the
// synthesizer itself fails. The run never ends silent.
const FallbackMessage = "I ran into a problem while putting the answer together. " +
	"Any task results already shown above are valid; please try asking again."

func New(cfg llmx.Config, systemPrompt string) contractx.Synthesizer {
	log := logx.Component("synthesizer")

	if client := openrouterx.NewClient(cfg.OpenRouterFor(llmx.StageSynthesizer)); client != nil {
		log.Info().Str("model", client.Model()).Msg("llm synthesizer selected")
		return newLLMSynthesizer(client, systemPrompt)
	}

	log.Info().Msg("no llm backend configured, template synthesizer selected")
	return newTemplateSynthesizer()
}
