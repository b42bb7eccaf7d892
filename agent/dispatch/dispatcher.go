package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/pattarawat/steward/agent/contract"
	streamx "github.com/pattarawat/steward/agent/stream"
	logx "github.com/pattarawat/steward/pkg/logger"
	metricsx "github.com/pattarawat/steward/pkg/metrics"
)

type Config struct {
	MaxConcurrent   int           `envconfig:"MAX_CONCURRENT" split_words:"true" default:"4"`
	TaskTimeout     time.Duration `envconfig:"TASK_TIMEOUT" split_words:"true" default:"30s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" split_words:"true" default:"250ms"`
	RetryBackoffCap time.Duration `envconfig:"RETRY_BACKOFF_CAP" split_words:"true" default:"2s"`
}

type Dispatcher struct {
	registry   contractx.ExecutorRegistry
	supervisor *callSupervisor
	cfg        Config
	log        zerolog.Logger
}

func New(registry contractx.ExecutorRegistry, cfg Config) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: executor registry is required", contractx.ErrValidation)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	return &Dispatcher{
		registry:   registry,
		supervisor: newCallSupervisor(cfg),
		cfg:        cfg,
		log:        logx.Component("dispatcher"),
	}, nil
}

// Dispatch resolves every task in the plan to exactly one outcome, in plan
// order. Tasks sharing a stage number run concurrently under the pool
// limit; higher stages wait for lower ones. A failed task never cancels
// its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID int64, plan contractx.Plan, sink contractx.EventSink) []contractx.TaskOutcome {
	outcomes := make([]contractx.TaskOutcome, len(plan.Tasks))
	if len(plan.Tasks) == 0 {
		return outcomes
	}

	_ = sink.Send(streamx.DispatcherStatus(contractx.StageStatusStarted,
		fmt.Sprintf("%d tasks", len(plan.Tasks))))

	for _, stage := range stageOrder(plan.Tasks) {
		d.runStage(ctx, conversationID, plan, stage, outcomes, sink)
	}

	_ = sink.Send(streamx.DispatcherStatus(contractx.StageStatusFinished, ""))
	return outcomes
}

func (d *Dispatcher) runStage(ctx context.Context, conversationID int64, plan contractx.Plan, stage int, outcomes []contractx.TaskOutcome, sink contractx.EventSink) {
	sem := make(chan struct{}, d.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, task := range plan.Tasks {
		if task.Stage != stage {
			continue
		}
		wg.Add(1)
		go func(idx int, task contractx.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[idx] = d.runTask(ctx, conversationID, task, sink)
		}(i, task)
	}

	wg.Wait()
}

func (d *Dispatcher) runTask(ctx context.Context, conversationID int64, task contractx.Task, sink contractx.EventSink) contractx.TaskOutcome {
	outcome := contractx.TaskOutcome{TaskID: task.ID, Executor: task.Executor}
	_ = sink.Send(streamx.TaskStarted(task))

	switch {
	case ctx.Err() != nil:
		outcome.Error = "run cancelled before task started"
		metricsx.TaskOutcomes.WithLabelValues("cancelled").Inc()
	default:
		ex, ok := d.registry.Lookup(task.Executor)
		if !ok {
			outcome.Error = fmt.Sprintf("%v: %q", contractx.ErrUnknownExecutor, task.Executor)
			metricsx.TaskOutcomes.WithLabelValues("rejected").Inc()
			break
		}

		output, err := d.supervisor.invoke(ctx, ex, contractx.Invocation{
			ConversationID: conversationID,
			TaskID:         task.ID,
			Args:           task.Args,
		})
		switch {
		case err == nil:
			outcome.Output = output
			metricsx.TaskOutcomes.WithLabelValues("completed").Inc()
		default:
			outcome.Error = err.Error()
			metricsx.TaskOutcomes.WithLabelValues(outcomeState(err)).Inc()
			d.log.Warn().Err(err).
				Int64("conversation_id", conversationID).
				Str("task_id", task.ID).
				Str("executor", task.Executor).
				Msg("task failed")
		}
	}

	_ = sink.Send(streamx.TaskResolved(outcome))
	return outcome
}

func stageOrder(tasks []contractx.Task) []int {
	seen := map[int]bool{}
	stages := make([]int, 0, 2)
	for _, task := range tasks {
		if !seen[task.Stage] {
			seen[task.Stage] = true
			stages = append(stages, task.Stage)
		}
	}
	sort.Ints(stages)
	return stages
}
