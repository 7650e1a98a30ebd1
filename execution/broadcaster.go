// Package execution mirrors the lifecycle of external code-execution
// requests into the room document and onto the transient event channel.
package execution

import (
	"time"

	"roomsync/crdtpatch"
	"roomsync/roomdoc"
)

// Event types fanned out to connections as soon as a transition happens.
const (
	EventStart    = "execution_start"
	EventOutput   = "execution_output"
	EventComplete = "execution_complete"
	EventError    = "execution_error"
)

// Event is a transient execution lifecycle notification. Events are
// fire-and-forget latency optimizations; the replicated record, not the
// event stream, is the source of truth for late joiners.
type Event struct {
	Type      string `json:"type"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Record is the replicated execution state a (re)connecting client hydrates.
type Record struct {
	IsRunning bool   `json:"isRunning"`
	Output    string `json:"output"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster owns the execution map field of one room document. Like every
// document mutator it runs on the room's actor goroutine.
type Broadcaster struct {
	doc *roomdoc.RoomDocument
}

// NewBroadcaster creates a broadcaster over the given document.
func NewBroadcaster(doc *roomdoc.RoomDocument) *Broadcaster {
	return &Broadcaster{doc: doc}
}

// Record reads the current replicated execution record.
func (b *Broadcaster) Record() Record {
	value := b.doc.MapValue(roomdoc.FieldExecution)
	rec := Record{}
	rec.IsRunning, _ = value["isRunning"].(bool)
	rec.Output, _ = value["output"].(string)
	rec.Error, _ = value["error"].(string)
	switch ts := value["timestamp"].(type) {
	case int64:
		rec.Timestamp = ts
	case float64:
		rec.Timestamp = int64(ts)
	}
	return rec
}

// IsRunning reports whether an execution is in flight.
func (b *Broadcaster) IsRunning() bool {
	return b.Record().IsRunning
}

// Start marks an execution as running, clearing the previous output and
// error. The returned patch updates the replicated record; the event is
// fanned out immediately so connections do not wait for the next sync.
func (b *Broadcaster) Start() (*crdtpatch.Patch, Event, error) {
	now := time.Now().UnixMilli()
	patch, err := b.doc.SetMapKeys(roomdoc.FieldExecution, map[string]interface{}{
		"isRunning": true,
		"output":    "",
		"error":     "",
		"timestamp": now,
	})
	if err != nil {
		return nil, Event{}, err
	}
	return patch, Event{Type: EventStart, Timestamp: now}, nil
}

// Output produces a transient output event. Intermediate output is not
// replicated; the terminal Complete call stores the full output.
func (b *Broadcaster) Output(chunk string) Event {
	return Event{Type: EventOutput, Output: chunk, Timestamp: time.Now().UnixMilli()}
}

// Complete stores the terminal output and appends a history entry, both in
// one atomic patch.
func (b *Broadcaster) Complete(output string) (*crdtpatch.Patch, Event, error) {
	return b.finish(output, "")
}

// Fail stores the terminal error and appends a history entry.
func (b *Broadcaster) Fail(errMsg string) (*crdtpatch.Patch, Event, error) {
	return b.finish("", errMsg)
}

func (b *Broadcaster) finish(output, errMsg string) (*crdtpatch.Patch, Event, error) {
	now := time.Now().UnixMilli()

	exec, err := b.doc.MapField(roomdoc.FieldExecution)
	if err != nil {
		return nil, Event{}, err
	}
	history, err := b.doc.ArrayField(roomdoc.FieldExecutionHistory)
	if err != nil {
		return nil, Event{}, err
	}

	builder := b.doc.Builder()
	builder.SetKey(exec.ID(), "isRunning", false)
	builder.SetKey(exec.ID(), "output", output)
	builder.SetKey(exec.ID(), "error", errMsg)
	builder.SetKey(exec.ID(), "timestamp", now)
	builder.InsertElement(history.ID(), history.LastID(), map[string]interface{}{
		"output":    output,
		"error":     errMsg,
		"timestamp": now,
	})

	patch := builder.Flush()
	if err := patch.Apply(b.doc.Document()); err != nil {
		return nil, Event{}, err
	}

	event := Event{Type: EventComplete, Output: output, Timestamp: now}
	if errMsg != "" {
		event = Event{Type: EventError, Error: errMsg, Timestamp: now}
	}
	return patch, event, nil
}
