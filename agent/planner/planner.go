// Package planner turns an inbound message plus history into an ordered
// task plan. The variant is chosen once at startup: LLM-backed when a
// model backend is configured, rule-based otherwise.
package planner

import (
	contractx "github.com/pattarawat/steward/agent/contract"
	llmx "github.com/pattarawat/steward/agent/llm"
	logx "github.com/pattarawat/steward/pkg/logger"
	openrouterx "github.com/pattarawat/steward/pkg/openrouter"
)

func New(cfg llmx.Config, systemPrompt string, executorNames []string) contractx.Planner {
	log := logx.Component("planner")

	if client := openrouterx.NewClient(cfg.OpenRouterFor(llmx.StagePlanner)); client != nil {
		log.Info().Str("model", client.Model()).Msg("llm planner selected")
		return newLLMPlanner(client, systemPrompt, executorNames)
	}

	log.Info().Msg("no llm backend configured, rule planner selected")
	return newRulePlanner()
}
