package stream

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	contractx "github.com/pattarawat/steward/agent/contract"
	logx "github.com/pattarawat/steward/pkg/logger"
	metricsx "github.com/pattarawat/steward/pkg/metrics"
)

// FrameWriter is the transport half of the stream: it encodes and flushes
// one frame. Implementations are not required to be goroutine safe; the
// Mux is the only writer.
type FrameWriter interface {
	WriteFrame(ev contractx.StreamEvent) error
}

// Mux serializes all stage and reconciler events onto one outbound
// channel. Frames go out in Send call order. After the channel dies or
// Done has been emitted, further writes degrade to logged no-ops.
type Mux struct {
	mu       sync.Mutex
	w        FrameWriter
	closed   bool
	doneSent bool
	log      zerolog.Logger
}

func NewMux(w FrameWriter) *Mux {
	return &Mux{w: w, log: logx.Component("stream")}
}

func (m *Mux) Send(ev contractx.StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.log.Warn().Str("event", string(ev.Type)).Msg("write after stream close dropped")
		return contractx.ErrStreamClosed
	}
	if ev.Type == contractx.EventDone {
		return m.sendDoneLocked()
	}
	return m.writeLocked(ev)
}

// Done emits the terminal frame exactly once and closes the mux. Safe to
// call from any exit path, including after a transport failure.
func (m *Mux) Done() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		_ = m.sendDoneLocked()
	}
	m.closed = true
}

// Close marks the mux dead without emitting anything further. Used when
// the client is known to be gone.
func (m *Mux) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *Mux) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mux) sendDoneLocked() error {
	if m.doneSent {
		return nil
	}
	err := m.writeLocked(contractx.StreamEvent{Type: contractx.EventDone})
	if err == nil {
		m.doneSent = true
	}
	m.closed = true
	return err
}

func (m *Mux) writeLocked(ev contractx.StreamEvent) error {
	if err := m.w.WriteFrame(ev); err != nil {
		// A failed write means the peer is gone; everything after
		// this is dropped rather than surfaced to the run.
		m.closed = true
		m.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("stream write failed")
		return fmt.Errorf("%w: %v", contractx.ErrStreamClosed, err)
	}
	metricsx.StreamFrames.WithLabelValues(string(ev.Type)).Inc()
	return nil
}
