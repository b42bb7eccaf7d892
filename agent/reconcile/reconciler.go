// Package reconcile keeps streamed task snapshots consistent with the
// externally mutated task store. The poll loop is the single
// authoritative trigger; change notifications only pull the next poll
// forward, and identical snapshots are suppressed by content hash.
package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/pattarawat/steward/agent/contract"
	streamx "github.com/pattarawat/steward/agent/stream"
	logx "github.com/pattarawat/steward/pkg/logger"
	metricsx "github.com/pattarawat/steward/pkg/metrics"
)

type Config struct {
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" split_words:"true" default:"500ms"`
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" split_words:"true" default:"3s"`
}

type Reconciler struct {
	tasks    contractx.TaskStore
	listener contractx.ChangeListener
	cfg      Config
	log      zerolog.Logger
}

func New(tasks contractx.TaskStore, listener contractx.ChangeListener, cfg Config) (*Reconciler, error) {
	if tasks == nil {
		return nil, fmt.Errorf("%w: task store is required", contractx.ErrValidation)
	}
	if listener == nil {
		listener = noopListener{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 3 * time.Second
	}
	return &Reconciler{
		tasks:    tasks,
		listener: listener,
		cfg:      cfg,
		log:      logx.Component("reconciler"),
	}, nil
}

// Reconcile blocks until ctx is cancelled, polling the task store and
// emitting snapshot frames on change. Query failures are logged and
// retried on the next tick; they never propagate. One final consistency
// pass runs after cancellation.
func (r *Reconciler) Reconcile(ctx context.Context, conversationID int64, sink contractx.EventSink) {
	notifications, err := r.listener.Listen(ctx, conversationID)
	if err != nil {
		r.log.Warn().Err(err).Int64("conversation_id", conversationID).
			Msg("change notifications unavailable, polling only")
		notifications = nil
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// Seeding with the empty-set hash keeps a bare table from emitting
	// a zero-count snapshot.
	state := &snapshotState{hash: snapshotHash(nil)}
	for {
		select {
		case <-ctx.Done():
			r.finalPass(ctx, conversationID, sink, state)
			return
		case _, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}
			r.poll(ctx, conversationID, sink, state)
		case <-ticker.C:
			r.poll(ctx, conversationID, sink, state)
		}
	}
}

func (r *Reconciler) poll(ctx context.Context, conversationID int64, sink contractx.EventSink, state *snapshotState) {
	queryCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()
	r.reconcileOnce(queryCtx, conversationID, sink, state)
}

// finalPass runs detached from the cancelled run context so the closing
// snapshot still reaches stores that are healthy.
func (r *Reconciler) finalPass(ctx context.Context, conversationID int64, sink contractx.EventSink, state *snapshotState) {
	queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.QueryTimeout)
	defer cancel()
	r.reconcileOnce(queryCtx, conversationID, sink, state)
}

func (r *Reconciler) reconcileOnce(ctx context.Context, conversationID int64, sink contractx.EventSink, state *snapshotState) {
	tasks, err := r.tasks.ListTasks(ctx, conversationID)
	if err != nil {
		metricsx.ReconcilerQueries.WithLabelValues("error").Inc()
		r.log.Warn().Err(fmt.Errorf("%w: %v", contractx.ErrReconciliation, err)).
			Int64("conversation_id", conversationID).
			Msg("task snapshot query failed")
		return
	}
	metricsx.ReconcilerQueries.WithLabelValues("ok").Inc()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	hash := snapshotHash(tasks)
	if hash == state.hash {
		return
	}

	for _, task := range tasks {
		prev, known := state.known[task.ID]
		if !known || prev != taskFingerprint(task) {
			_ = sink.Send(streamx.TaskUpdated(task))
		}
	}
	_ = sink.Send(streamx.TaskSummary(tasks))

	state.hash = hash
	state.known = make(map[string]string, len(tasks))
	for _, task := range tasks {
		state.known[task.ID] = taskFingerprint(task)
	}
}

type snapshotState struct {
	hash  string
	known map[string]string
}

func taskFingerprint(task contractx.TrackedTask) string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s", task.ID, task.Status, task.Title, task.Description)
}

func snapshotHash(tasks []contractx.TrackedTask) string {
	h := sha256.New()
	for _, task := range tasks {
		fmt.Fprintln(h, taskFingerprint(task))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type noopListener struct{}

func (noopListener) Listen(context.Context, int64) (<-chan struct{}, error) {
	return nil, nil
}
