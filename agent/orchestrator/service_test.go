package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/pattarawat/steward/agent/contract"
	streamx "github.com/pattarawat/steward/agent/stream"
	synthx "github.com/pattarawat/steward/agent/synth"
)

type recordSink struct {
	mu      sync.Mutex
	frames  []contractx.StreamEvent
	done    int
	sendErr error
}

func (r *recordSink) Send(ev contractx.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.frames = append(r.frames, ev)
	return nil
}

func (r *recordSink) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done++
	r.frames = append(r.frames, contractx.StreamEvent{Type: contractx.EventDone})
}

func (r *recordSink) events() []contractx.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]contractx.StreamEvent, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recordSink) types() []contractx.EventType {
	evs := r.events()
	out := make([]contractx.EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

type storedMessage struct {
	conversationID int64
	role           contractx.Role
	content        string
}

type fakeConversations struct {
	mu        sync.Mutex
	nextID    int64
	existing  map[int64]bool
	history   []contractx.Message
	appended  []storedMessage
	appendErr error
	createErr error
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{nextID: 7, existing: map[int64]bool{}}
}

func (f *fakeConversations) CreateConversation(ctx context.Context) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.existing[id] = true
	return id, nil
}

func (f *fakeConversations) ConversationExists(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[id], nil
}

func (f *fakeConversations) AppendMessage(ctx context.Context, msg contractx.Message) (contractx.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil && msg.Role == contractx.RoleAssistant {
		return contractx.Message{}, f.appendErr
	}
	f.appended = append(f.appended, storedMessage{msg.ConversationID, msg.Role, msg.Content})
	return msg, nil
}

func (f *fakeConversations) Messages(ctx context.Context, id int64, limit int) ([]contractx.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeConversations) SearchMessages(ctx context.Context, id int64, query string, limit int) ([]contractx.Message, error) {
	return nil, nil
}

func (f *fakeConversations) stored() []storedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storedMessage, len(f.appended))
	copy(out, f.appended)
	return out
}

type fakePlanner struct {
	plan  contractx.Plan
	err   error
	panic bool
	req   contractx.PlannerRequest
}

func (f *fakePlanner) Plan(ctx context.Context, req contractx.PlannerRequest) (contractx.Plan, error) {
	f.req = req
	if f.panic {
		panic("planner exploded")
	}
	return f.plan, f.err
}

type fakeDispatcher struct {
	mu       sync.Mutex
	plan     contractx.Plan
	outcomes []contractx.TaskOutcome
	calls    int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, conversationID int64, plan contractx.Plan, sink contractx.EventSink) []contractx.TaskOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.plan = plan
	for _, task := range plan.Tasks {
		_ = sink.Send(streamx.TaskStarted(task))
		_ = sink.Send(streamx.TaskResolved(contractx.TaskOutcome{TaskID: task.ID, Executor: task.Executor, Output: "ok"}))
	}
	return f.outcomes
}

type sliceTextStream struct {
	fragments []string
	pos       int
	err       error
	closed    bool
}

func (s *sliceTextStream) Next() bool {
	if s.pos >= len(s.fragments) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceTextStream) Current() string { return s.fragments[s.pos-1] }
func (s *sliceTextStream) Err() error      { return s.err }
func (s *sliceTextStream) Close() error    { s.closed = true; return nil }

type fakeSynthesizer struct {
	fragments []string
	streamErr error
	callErr   error
	req       contractx.SynthesisRequest
	stream    *sliceTextStream
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.TextStream, error) {
	f.req = req
	if f.callErr != nil {
		return nil, f.callErr
	}
	f.stream = &sliceTextStream{fragments: f.fragments, err: f.streamErr}
	return f.stream, nil
}

type fakeReconciler struct {
	mu      sync.Mutex
	calls   int
	stopped bool
}

// Reconcile blocks until the run cancels it, then emits one summary so
// tests can check the final pass lands before done.
func (f *fakeReconciler) Reconcile(ctx context.Context, conversationID int64, sink contractx.EventSink) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	<-ctx.Done()
	_ = sink.Send(streamx.TaskSummary(nil))
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type testHarness struct {
	service       *Service
	sink          *recordSink
	conversations *fakeConversations
	planner       *fakePlanner
	dispatcher    *fakeDispatcher
	synthesizer   *fakeSynthesizer
	reconciler    *fakeReconciler
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		sink:          &recordSink{},
		conversations: newFakeConversations(),
		planner:       &fakePlanner{},
		dispatcher:    &fakeDispatcher{},
		synthesizer:   &fakeSynthesizer{fragments: []string{"All ", "done."}},
		reconciler:    &fakeReconciler{},
	}
	svc, err := New(Deps{
		Conversations: h.conversations,
		Planner:       h.planner,
		Dispatcher:    h.dispatcher,
		Synthesizer:   h.synthesizer,
		Reconciler:    h.reconciler,
	}, Config{HistoryLimit: 10, PersistGrace: time.Second})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	h.service = svc
	return h
}

func indexOf(types []contractx.EventType, want contractx.EventType) int {
	for i, typ := range types {
		if typ == want {
			return i
		}
	}
	return -1
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	base := func() Deps {
		return Deps{
			Conversations: newFakeConversations(),
			Planner:       &fakePlanner{},
			Dispatcher:    &fakeDispatcher{},
			Synthesizer:   &fakeSynthesizer{},
			Reconciler:    &fakeReconciler{},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"conversations", func(d *Deps) { d.Conversations = nil }},
		{"planner", func(d *Deps) { d.Planner = nil }},
		{"dispatcher", func(d *Deps) { d.Dispatcher = nil }},
		{"synthesizer", func(d *Deps) { d.Synthesizer = nil }},
		{"reconciler", func(d *Deps) { d.Reconciler = nil }},
	}
	for _, tc := range cases {
		deps := base()
		tc.mutate(&deps)
		if _, err := New(deps, Config{}); err == nil {
			t.Fatalf("expected error when %s is missing", tc.name)
		}
	}
}

func TestHandleMessageEmptyPlan(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.service.HandleMessage(context.Background(), Request{Message: "hello"}, h.sink)

	types := h.sink.types()
	if len(types) == 0 || types[0] != contractx.EventConversationID {
		t.Fatalf("expected conversation_id first, got %v", types)
	}
	if types[len(types)-1] != contractx.EventDone {
		t.Fatalf("expected done last, got %v", types)
	}
	if h.sink.done != 1 {
		t.Fatalf("expected exactly one done frame, got %d", h.sink.done)
	}

	skipped := false
	for _, ev := range h.sink.events() {
		if ev.Type != contractx.EventDispatcherStatus {
			continue
		}
		data := ev.Data.(contractx.StageStatusData)
		if data.State == contractx.StageStatusSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Fatal("expected dispatcher to report skipped for an empty plan")
	}
	if h.dispatcher.calls != 0 {
		t.Fatalf("dispatcher should not run for an empty plan, got %d calls", h.dispatcher.calls)
	}
	if h.reconciler.calls != 0 {
		t.Fatalf("reconciler should not run for an empty plan, got %d calls", h.reconciler.calls)
	}

	stored := h.conversations.stored()
	if len(stored) != 2 {
		t.Fatalf("expected user and assistant messages stored, got %d", len(stored))
	}
	if stored[0].role != contractx.RoleUser || stored[0].content != "hello" {
		t.Fatalf("unexpected first stored message: %+v", stored[0])
	}
	if stored[1].role != contractx.RoleAssistant || strings.TrimSpace(stored[1].content) == "" {
		t.Fatalf("expected a non-empty assistant message, got %+v", stored[1])
	}
	if stored[1].content != "All done." {
		t.Fatalf("assistant message should be the full synthesis, got %q", stored[1].content)
	}
}

func TestHandleMessageRejectsBlankMessage(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.service.HandleMessage(context.Background(), Request{Message: "   "}, h.sink)

	types := h.sink.types()
	if indexOf(types, contractx.EventError) == -1 {
		t.Fatalf("expected an error frame, got %v", types)
	}
	if indexOf(types, contractx.EventConversationID) != -1 {
		t.Fatal("no conversation_id frame should be sent for a rejected request")
	}
	if h.sink.done != 1 {
		t.Fatalf("expected exactly one done frame, got %d", h.sink.done)
	}
	if len(h.conversations.stored()) != 0 {
		t.Fatal("nothing should be persisted for a rejected request")
	}
}

func TestHandleMessageUnknownConversation(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.service.HandleMessage(context.Background(), Request{Message: "hi", ConversationID: 99}, h.sink)

	var errData contractx.ErrorData
	for _, ev := range h.sink.events() {
		if ev.Type == contractx.EventError {
			errData = ev.Data.(contractx.ErrorData)
		}
	}
	if !strings.Contains(errData.Message, "not found") {
		t.Fatalf("expected a not-found error, got %+v", errData)
	}
	if len(h.conversations.stored()) != 0 {
		t.Fatal("nothing should be persisted for an unknown conversation")
	}
}

func TestHandleMessagePlannerFailure(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.planner.err = errors.New("model returned prose")
	h.service.HandleMessage(context.Background(), Request{Message: "do things"}, h.sink)

	types := h.sink.types()
	errIdx := indexOf(types, contractx.EventError)
	doneIdx := indexOf(types, contractx.EventDone)
	if errIdx == -1 || doneIdx == -1 || errIdx > doneIdx {
		t.Fatalf("expected error frame before done, got %v", types)
	}
	if h.sink.done != 1 {
		t.Fatalf("expected exactly one done frame, got %d", h.sink.done)
	}

	stored := h.conversations.stored()
	if len(stored) != 1 || stored[0].role != contractx.RoleUser {
		t.Fatalf("only the user message should be persisted, got %+v", stored)
	}
	for _, ev := range h.sink.events() {
		if ev.Type == contractx.EventAssistantDelta {
			t.Fatal("no assistant deltas should follow a planner failure")
		}
	}
}

func TestHandleMessageDispatchesPlan(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.planner.plan = contractx.Plan{Tasks: []contractx.Task{
		{ID: "t1", Executor: "math.evaluate", Stage: 0},
		{ID: "t2", Executor: "history.search", Stage: 1},
	}}
	h.dispatcher.outcomes = []contractx.TaskOutcome{
		{TaskID: "t1", Executor: "math.evaluate", Output: 42},
		{TaskID: "t2", Executor: "history.search", Error: "store offline"},
	}

	h.service.HandleMessage(context.Background(), Request{Message: "compute and search"}, h.sink)

	if h.dispatcher.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", h.dispatcher.calls)
	}
	if len(h.dispatcher.plan.Tasks) != 2 {
		t.Fatalf("dispatcher received wrong plan: %+v", h.dispatcher.plan)
	}
	if len(h.synthesizer.req.Outcomes) != 2 {
		t.Fatalf("synthesizer should receive every outcome, got %+v", h.synthesizer.req.Outcomes)
	}

	if h.reconciler.calls != 1 {
		t.Fatalf("expected the reconciler to run once, got %d", h.reconciler.calls)
	}
	types := h.sink.types()
	summaryIdx := indexOf(types, contractx.EventTaskSummary)
	doneIdx := indexOf(types, contractx.EventDone)
	if summaryIdx == -1 {
		t.Fatalf("expected a final task summary, got %v", types)
	}
	if summaryIdx > doneIdx {
		t.Fatalf("final reconciler pass must land before done, got %v", types)
	}
}

func TestHandleMessageSynthesisFallback(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.synthesizer.callErr = errors.New("model unavailable")
	h.service.HandleMessage(context.Background(), Request{Message: "hello"}, h.sink)

	var deltas []string
	for _, ev := range h.sink.events() {
		if ev.Type == contractx.EventAssistantDelta {
			deltas = append(deltas, ev.Data.(contractx.AssistantDeltaData).Text)
		}
	}
	if len(deltas) != 1 || deltas[0] != synthx.FallbackMessage {
		t.Fatalf("expected the fallback message as a delta, got %v", deltas)
	}

	stored := h.conversations.stored()
	if len(stored) != 2 || stored[1].content != synthx.FallbackMessage {
		t.Fatalf("expected the fallback message persisted, got %+v", stored)
	}
	if h.sink.done != 1 {
		t.Fatalf("expected exactly one done frame, got %d", h.sink.done)
	}
}

func TestHandleMessageStreamFailureMidSynthesis(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.synthesizer.fragments = []string{"partial "}
	h.synthesizer.streamErr = errors.New("upstream hiccup")
	h.service.HandleMessage(context.Background(), Request{Message: "hello"}, h.sink)

	stored := h.conversations.stored()
	if len(stored) != 2 {
		t.Fatalf("expected user message plus fallback, got %+v", stored)
	}
	if stored[1].content != synthx.FallbackMessage {
		t.Fatalf("a broken stream must never persist partial text, got %q", stored[1].content)
	}
	if !h.synthesizer.stream.closed {
		t.Fatal("the text stream should be closed after the run")
	}
}

func TestHandleMessageDisconnectSkipsPersist(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.sink.sendErr = contractx.ErrStreamClosed
	h.service.HandleMessage(context.Background(), Request{Message: "hello"}, h.sink)

	stored := h.conversations.stored()
	if len(stored) != 1 || stored[0].role != contractx.RoleUser {
		t.Fatalf("a dead stream must not persist an assistant message, got %+v", stored)
	}
	if h.sink.done != 1 {
		t.Fatalf("expected exactly one done signal, got %d", h.sink.done)
	}
}

func TestHandleMessagePanicStillEmitsDone(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.planner.panic = true
	h.service.HandleMessage(context.Background(), Request{Message: "boom"}, h.sink)

	types := h.sink.types()
	if indexOf(types, contractx.EventError) == -1 {
		t.Fatalf("expected an error frame after a panic, got %v", types)
	}
	if h.sink.done != 1 {
		t.Fatalf("expected exactly one done frame, got %d", h.sink.done)
	}
	if types[len(types)-1] != contractx.EventDone {
		t.Fatalf("done must be the final frame, got %v", types)
	}
}

func TestHandleMessageReusesConversation(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.conversations.existing[42] = true
	h.conversations.history = []contractx.Message{
		{ConversationID: 42, Role: contractx.RoleUser, Content: "earlier"},
	}

	h.service.HandleMessage(context.Background(), Request{Message: "again", ConversationID: 42}, h.sink)

	var idData contractx.ConversationIDData
	for _, ev := range h.sink.events() {
		if ev.Type == contractx.EventConversationID {
			idData = ev.Data.(contractx.ConversationIDData)
		}
	}
	if idData.ConversationID != 42 {
		t.Fatalf("expected conversation 42, got %+v", idData)
	}
	if len(h.planner.req.History) != 1 || h.planner.req.History[0].Content != "earlier" {
		t.Fatalf("planner should see prior history, got %+v", h.planner.req.History)
	}
}
