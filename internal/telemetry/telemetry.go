// Package telemetry defines the Sink interface the pipeline writes
// request outcomes to. The core only needs a local log; the optional
// Postgres mirror spec.md §1 calls out as an external collaborator is a
// thin, best-effort implementation of this same interface.
package telemetry

import "time"

// Event is one completed request's outcome, the unit every Sink
// implementation receives.
type Event struct {
	RequestID    string
	Model        string
	RoutedModel  string
	TaskType     string
	CacheStatus  string // "hit" | "miss" | "bypass"
	Downgraded   bool
	Mode         string // "passthrough" | "complexity" | "cascade"
	Escalations  int
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	StatusCode   int
	DurationMs   int64
	Timestamp    time.Time
}

// Sink receives completed-request events. Record must never block the
// request path for long; implementations that talk to a remote store
// should queue and flush asynchronously the way internal/budget and
// internal/alerts do.
type Sink interface {
	Record(Event)
}

// NoopSink discards every event. NewDeps does not install it: the
// pipeline always records into a MemorySink, with a PostgresMirror added
// beside it when one is configured.
type NoopSink struct{}

func (NoopSink) Record(Event) {}
