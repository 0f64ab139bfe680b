package types

import "time"

// MemoryEventType defines the type of event emitted by the memory core.
type MemoryEventType string

const (
	EventTypeObservationsAppended  MemoryEventType = "observations_appended"  // EventTypeObservationsAppended indicates new observations were added to short-term memory.
	EventTypeConsolidationStart    MemoryEventType = "consolidation_start"    // EventTypeConsolidationStart indicates an STM-to-LTM consolidation pass began.
	EventTypeConsolidationComplete MemoryEventType = "consolidation_complete" // EventTypeConsolidationComplete indicates a consolidation pass replaced the long-term profile.
	EventTypeConsolidationError    MemoryEventType = "consolidation_error"    // EventTypeConsolidationError indicates a consolidation pass failed and prior state was retained.
	EventTypeLTMTrimmed            MemoryEventType = "ltm_trimmed"            // EventTypeLTMTrimmed indicates the long-term profile was reduced to fit its budget.
	EventTypeWMRederived           MemoryEventType = "wm_rederived"           // EventTypeWMRederived indicates the working-memory board was replaced.
	EventTypeWMRederivationError   MemoryEventType = "wm_rederivation_error"  // EventTypeWMRederivationError indicates a re-derivation response was rejected and prior WM kept.
	EventTypeWMTrimmed             MemoryEventType = "wm_trimmed"             // EventTypeWMTrimmed indicates the working-memory board was reduced to fit its budget.
	EventTypeSnapshotSaved         MemoryEventType = "snapshot_saved"         // EventTypeSnapshotSaved indicates a full snapshot was persisted.
	EventTypeRecordingAnalyzed     MemoryEventType = "recording_analyzed"     // EventTypeRecordingAnalyzed indicates a completed recording produced an analysis result.
)

// MemoryEvent is a notification emitted by the memory core during ingest.
// Events are informational only; dropping them never affects memory state.
type MemoryEvent struct {
	// Type indicates the kind of event.
	Type MemoryEventType `json:"type"`

	// Detail is a short human-readable description.
	Detail string `json:"detail,omitempty"`

	// Count carries an event-specific count (observations appended,
	// STM entries consolidated, WM entries dropped).
	Count int `json:"count,omitempty"`

	// Tokens carries the relevant tier's estimated token size after the
	// operation, when the event concerns a budget check.
	Tokens int `json:"tokens,omitempty"`

	// Timestamp records when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// NewMemoryEvent creates an event of the given type with a detail message.
func NewMemoryEvent(t MemoryEventType, detail string) *MemoryEvent {
	return &MemoryEvent{Type: t, Detail: detail, Timestamp: time.Now()}
}

// WithCount sets the event count and returns the event for chaining.
func (e *MemoryEvent) WithCount(n int) *MemoryEvent {
	e.Count = n
	return e
}

// WithTokens sets the event token size and returns the event for chaining.
func (e *MemoryEvent) WithTokens(n int) *MemoryEvent {
	e.Tokens = n
	return e
}
