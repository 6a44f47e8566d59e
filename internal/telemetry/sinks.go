package telemetry

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink writes each event as one slog record.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "simulation")}
}

func (s *LogSink) Record(ctx context.Context, ev Event) {
	level := slog.LevelInfo
	switch ev.Kind {
	case KindAttempt, KindResponse:
		level = slog.LevelDebug
	case KindRetry, KindFallback, KindPersistFailed:
		level = slog.LevelWarn
	case KindFailure, KindRunFailed:
		level = slog.LevelError
	}

	attrs := []slog.Attr{slog.String("kind", string(ev.Kind))}
	if ev.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ev.RunID))
	}
	if ev.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", ev.Attempt), slog.Int("max_attempts", ev.MaxAttempts))
	}
	if ev.Status != 0 {
		attrs = append(attrs, slog.Int("status", ev.Status))
	}
	if ev.DelayMs != 0 {
		attrs = append(attrs, slog.Int64("delay_ms", ev.DelayMs))
	}
	if ev.ElapsedMs != 0 {
		attrs = append(attrs, slog.Int64("elapsed_ms", ev.ElapsedMs))
	}
	if ev.Class != "" {
		attrs = append(attrs, slog.String("class", ev.Class))
	}
	msg := ev.Message
	if msg == "" {
		msg = string(ev.Kind)
	}
	s.logger.LogAttrs(ctx, level, msg, attrs...)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			Safe(s).Record(ctx, ev)
		}
	}
}

// Safe wraps sink so that a panicking sink cannot escape into the caller.
func Safe(sink Sink) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) {
		defer func() {
			if r := recover(); r != nil {
				slog.Default().Error("telemetry sink panicked", "panic", r, "kind", string(ev.Kind))
			}
		}()
		sink.Record(ctx, ev)
	})
}

// Hub broadcasts events to live subscribers such as WebSocket clients.
// Slow subscribers lose events rather than block the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func must be
// called to release it; it closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Record(_ context.Context, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
