// Package telemetry carries diagnostic events out of the simulation flow.
//
// Sinks are fire-and-forget: nothing they do may change how a simulation
// run proceeds, so Record has no error return and panics are contained by
// Safe.
package telemetry

import (
	"context"
	"errors"
	"time"
)

type Kind string

const (
	KindAttempt       Kind = "attempt"
	KindResponse      Kind = "response"
	KindRetry         Kind = "retry_scheduled"
	KindSuccess       Kind = "success"
	KindFailure       Kind = "failure"
	KindFallback      Kind = "fallback"
	KindRunStarted    Kind = "run_started"
	KindRunCompleted  Kind = "run_completed"
	KindRunFailed     Kind = "run_failed"
	KindPersistFailed Kind = "persist_failed"
)

// Event is one structured diagnostic record.
type Event struct {
	Kind        Kind      `json:"kind"`
	RunID       string    `json:"run_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	MaxAttempts int       `json:"max_attempts,omitempty"`
	Status      int       `json:"status,omitempty"`
	DelayMs     int64     `json:"delay_ms,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms,omitempty"`
	Class       string    `json:"class,omitempty"`
	Message     string    `json:"message,omitempty"`
	Time        time.Time `json:"time"`
}

// Sink accepts events.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Record(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

type runIDKey struct{}

// WithRunID tags ctx so that events recorded below it carry the run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id stored by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Emit stamps ev with the time and run id and hands it to sink.
func Emit(ctx context.Context, sink Sink, ev Event) {
	if sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.RunID == "" {
		ev.RunID = RunIDFrom(ctx)
	}
	sink.Record(ctx, ev)
}

// Classifier is implemented by errors that know their diagnostic class.
type Classifier interface {
	Class() string
}

// ClassOf returns the class of the first error in err's chain that has
// one, "canceled" for context errors, and "internal" otherwise.
func ClassOf(err error) string {
	if err == nil {
		return ""
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.Class()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "internal"
}
