package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopSinkDiscardsEvents(t *testing.T) {
	var sink Sink = NoopSink{}
	require.NotPanics(t, func() { sink.Record(Event{RequestID: "r1"}) })
}

func TestPostgresMirrorQueuesUntilFlush(t *testing.T) {
	var flushed []Event
	mirror := NewPostgresMirror(func(events []Event) error {
		flushed = append(flushed, events...)
		return nil
	})

	mirror.Record(Event{RequestID: "a"})
	mirror.Record(Event{RequestID: "b"})
	require.Empty(t, flushed)

	mirror.Flush()
	require.Len(t, flushed, 2)
}

func TestPostgresMirrorFlushFailureDoesNotPanic(t *testing.T) {
	mirror := NewPostgresMirror(func(events []Event) error {
		return errors.New("connection refused")
	})
	mirror.Record(Event{RequestID: "a"})
	require.NotPanics(t, mirror.Flush)
}

func TestPostgresMirrorFlushIsNoOpWhenEmpty(t *testing.T) {
	called := false
	mirror := NewPostgresMirror(func(events []Event) error {
		called = true
		return nil
	})
	mirror.Flush()
	require.False(t, called)
}
