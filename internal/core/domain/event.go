package domain

import "time"

// EventKind identifies an event emitted to the event sink.
type EventKind string

const (
	EventSyncResult  EventKind = "sync_result"
	EventSchemaDrift EventKind = "schema_drift"
	EventQueryResult EventKind = "query_result"
)

// Event is a notification for observability consumers.
// Payload is a SyncResult, SchemaDriftEvent or QueryEvent.
type Event struct {
	Kind    EventKind
	Source  string
	At      time.Time
	Payload any
}

// QueryEvent summarises a federated query.
type QueryEvent struct {
	Query         string
	Candidates    int
	NonResponding []string
	Latency       time.Duration
}
