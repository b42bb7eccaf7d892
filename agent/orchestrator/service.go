// Package orchestrator composes one run per inbound message: persist,
// plan, dispatch, synthesize, and stream every step through a single
// mux. The terminal done frame goes out on every exit path, panics
// included.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/pattarawat/steward/agent/contract"
	streamx "github.com/pattarawat/steward/agent/stream"
	synthx "github.com/pattarawat/steward/agent/synth"
	logx "github.com/pattarawat/steward/pkg/logger"
	metricsx "github.com/pattarawat/steward/pkg/metrics"
)

type Config struct {
	HistoryLimit int           `envconfig:"HISTORY_LIMIT" split_words:"true" default:"20"`
	RunTimeout   time.Duration `envconfig:"RUN_TIMEOUT" split_words:"true" default:"5m"`
	PersistGrace time.Duration `envconfig:"PERSIST_GRACE" split_words:"true" default:"5s"`
}

type Request struct {
	Message        string `json:"message"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// RunStream is what a run writes to: the event mux plus its terminal
// frame control.
type RunStream interface {
	contractx.EventSink
	Done()
}

type Service struct {
	conversations contractx.ConversationStore
	planner       contractx.Planner
	dispatcher    contractx.Dispatcher
	synthesizer   contractx.Synthesizer
	reconciler    contractx.TaskReconciler

	cfg Config
	log zerolog.Logger
	now func() time.Time
}

type Deps struct {
	Conversations contractx.ConversationStore
	Planner       contractx.Planner
	Dispatcher    contractx.Dispatcher
	Synthesizer   contractx.Synthesizer
	Reconciler    contractx.TaskReconciler
}

func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if deps.Planner == nil {
		return nil, errors.New("planner is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("reconciler is required")
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	return &Service{
		conversations: deps.Conversations,
		planner:       deps.Planner,
		dispatcher:    deps.Dispatcher,
		synthesizer:   deps.Synthesizer,
		reconciler:    deps.Reconciler,
		cfg:           cfg,
		log:           logx.Component("orchestrator"),
		now:           time.Now,
	}, nil
}

// HandleMessage drives one full run. It never returns an error: every
// failure becomes stream frames, and the stream always terminates with
// exactly one done frame.
func (s *Service) HandleMessage(ctx context.Context, req Request, out RunStream) {
	started := s.now()
	outcome := "completed"

	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("run panicked")
			_ = out.Send(streamx.Error("run", "internal error"))
			outcome = "panic"
		}
		out.Done()
		metricsx.RunsTotal.WithLabelValues(outcome).Inc()
		metricsx.RunDuration.Observe(time.Since(started).Seconds())
	}()

	runCtx := ctx
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}

	conversationID, history, err := s.prepare(runCtx, req)
	if err != nil {
		outcome = "rejected"
		_ = out.Send(streamx.Error("gateway", userFacing(err)))
		return
	}
	_ = out.Send(streamx.ConversationID(conversationID))

	log := s.log.With().Int64("conversation_id", conversationID).Logger()

	_ = out.Send(streamx.PlannerStatus(contractx.StageStatusStarted, ""))
	plan, err := s.planner.Plan(runCtx, contractx.PlannerRequest{
		ConversationID: conversationID,
		UserMessage:    req.Message,
		History:        history,
		Now:            s.now(),
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", contractx.ErrPlanning, err)
		log.Error().Err(err).Msg("planning failed")
		_ = out.Send(streamx.PlannerStatus(contractx.StageStatusFailed, ""))
		_ = out.Send(streamx.Error("planner", "could not produce a plan for this request"))
		outcome = "planning_failed"
		return
	}
	_ = out.Send(streamx.PlannerStatus(contractx.StageStatusFinished, fmt.Sprintf("%d tasks", len(plan.Tasks))))

	var outcomes []contractx.TaskOutcome
	if len(plan.Tasks) == 0 {
		_ = out.Send(streamx.DispatcherStatus(contractx.StageStatusSkipped, "empty plan"))
	} else {
		// The reconciler spans dispatch and synthesis; its cancel+wait
		// defer runs before the done frame goes out, so the final
		// consistency pass always precedes done.
		recCtx, stopReconciler := context.WithCancel(runCtx)
		recDone := make(chan struct{})
		go func() {
			defer close(recDone)
			s.reconciler.Reconcile(recCtx, conversationID, out)
		}()
		defer func() {
			stopReconciler()
			<-recDone
		}()

		outcomes = s.dispatcher.Dispatch(runCtx, conversationID, plan, out)
	}

	if runCtx.Err() != nil {
		log.Info().Msg("run cancelled before synthesis")
		outcome = "cancelled"
		return
	}

	_ = out.Send(streamx.SynthesizerStatus(contractx.StageStatusStarted, ""))
	finalText, err := s.runSynthesis(runCtx, req, conversationID, history, outcomes, out)
	if err != nil {
		if runCtx.Err() != nil || errors.Is(err, contractx.ErrStreamClosed) {
			log.Info().Err(err).Msg("run abandoned during synthesis")
			outcome = "cancelled"
			return
		}
		log.Error().Err(err).Msg("synthesis failed, sending fallback")
		finalText = synthx.FallbackMessage
		_ = out.Send(streamx.AssistantDelta(finalText))
		_ = out.Send(streamx.SynthesizerStatus(contractx.StageStatusFailed, "fallback response"))
		outcome = "synthesis_fallback"
	} else {
		_ = out.Send(streamx.SynthesizerStatus(contractx.StageStatusFinished, ""))
	}

	// The assistant message persists only once synthesis has fully
	// resolved, never from a partial delta.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), s.cfg.PersistGrace)
	defer cancel()
	if _, err := s.conversations.AppendMessage(persistCtx, contractx.Message{
		ConversationID: conversationID,
		Role:           contractx.RoleAssistant,
		Content:        finalText,
		CreatedAt:      s.now(),
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist assistant message")
		_ = out.Send(streamx.Error("gateway", "reply delivered but not saved"))
		if outcome == "completed" {
			outcome = "persist_failed"
		}
	}
}

func (s *Service) prepare(ctx context.Context, req Request) (int64, []contractx.Message, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return 0, nil, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	conversationID := req.ConversationID
	if conversationID != 0 {
		ok, err := s.conversations.ConversationExists(ctx, conversationID)
		if err != nil {
			return 0, nil, fmt.Errorf("check conversation: %w", err)
		}
		if !ok {
			return 0, nil, fmt.Errorf("%w: conversation %d not found", contractx.ErrValidation, conversationID)
		}
	} else {
		id, err := s.conversations.CreateConversation(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("create conversation: %w", err)
		}
		conversationID = id
	}

	history, err := s.conversations.Messages(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("load history: %w", err)
	}

	if _, err := s.conversations.AppendMessage(ctx, contractx.Message{
		ConversationID: conversationID,
		Role:           contractx.RoleUser,
		Content:        message,
		CreatedAt:      s.now(),
	}); err != nil {
		return 0, nil, fmt.Errorf("persist message: %w", err)
	}

	return conversationID, history, nil
}

func (s *Service) runSynthesis(ctx context.Context, req Request, conversationID int64, history []contractx.Message, outcomes []contractx.TaskOutcome, out RunStream) (string, error) {
	ts, err := s.synthesizer.Synthesize(ctx, contractx.SynthesisRequest{
		ConversationID: conversationID,
		UserMessage:    req.Message,
		History:        history,
		Outcomes:       outcomes,
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = ts.Close() }()

	var b strings.Builder
	for ts.Next() {
		fragment := ts.Current()
		b.WriteString(fragment)
		if err := out.Send(streamx.AssistantDelta(fragment)); err != nil {
			return "", err
		}
	}
	if err := ts.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: synthesizer produced no text", contractx.ErrSynthesis)
	}
	return b.String(), nil
}

// userFacing keeps store internals out of error frames; validation
// problems pass through because the caller needs them.
func userFacing(err error) string {
	if errors.Is(err, contractx.ErrValidation) {
		return err.Error()
	}
	return "internal error"
}
