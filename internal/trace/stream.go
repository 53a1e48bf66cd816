package trace

import (
	"io"
	"sync"
	"time"
)

// StreamTracer writes events immediately to an io.Writer.
type StreamTracer struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	level   Level
	format  Format
	started time.Time
}

// NewStreamTracer creates a new StreamTracer.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	return &StreamTracer{
		w:       w,
		level:   level,
		format:  format,
		started: time.Now(),
	}
}

// Emit writes an event to the output.
func (t *StreamTracer) Emit(ev *Event) {
	if ev == nil {
		return
	}
	if ev.Kind != KindError && !t.level.ShouldEmit(ev.Scope) {
		return
	}
	if ev.Seq == 0 {
		ev.Seq = NextSeq()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	data := FormatEvent(ev, t.format, t.started)

	t.mu.Lock()
	defer t.mu.Unlock()
	// Trace output must never fail a build.
	_, _ = t.w.Write(data) //nolint:errcheck
}

// Flush is a no-op since events are written immediately.
func (t *StreamTracer) Flush() error {
	return nil
}

// Close releases the output file when the tracer opened it.
func (t *StreamTracer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	return err
}

// Level returns the configured level.
func (t *StreamTracer) Level() Level {
	return t.level
}

// Enabled reports whether tracing is active.
func (t *StreamTracer) Enabled() bool {
	return t.level > LevelOff
}
