package telemetry

import (
	"log"
	"sync"
)

// PostgresMirror is a thin, best-effort mirror of the local request log
// to an external Postgres instance, per spec.md §1 ("the optional
// Postgres telemetry backend (a thin mirror of a local log)"). It queues
// events until Flush is called (no timer calls it); a write failure is logged once and
// never propagated to the request path, matching the write-behind
// discipline internal/budget and internal/alerts use for their own
// durable stores.
//
// The actual Postgres driver is intentionally not wired here: spec.md
// §1 excludes this backend from core scope, and no example repo in the
// corpus imports a Postgres driver, so this type exposes the queueing
// and flush-callback contract a real driver would plug into via Flusher.
type PostgresMirror struct {
	mu        sync.Mutex
	queue     []Event
	warned    bool
	Flusher   func([]Event) error
}

func NewPostgresMirror(flusher func([]Event) error) *PostgresMirror {
	return &PostgresMirror{Flusher: flusher}
}

func (m *PostgresMirror) Record(e Event) {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.mu.Unlock()
}

// Flush drains the queue through Flusher. Failures are logged once per
// process and the events are dropped rather than retried indefinitely:
// telemetry durability across crashes is explicitly best-effort only.
func (m *PostgresMirror) Flush() {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	if len(pending) == 0 || m.Flusher == nil {
		return
	}
	if err := m.Flusher(pending); err != nil && !m.warned {
		log.Printf("⚠️ telemetry: postgres mirror flush failed, continuing best-effort: %v", err)
		m.warned = true
	}
}
