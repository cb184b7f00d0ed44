package domain

import (
	"errors"
	"time"
)

// SessionState models the dictation session lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateReady      SessionState = "ready"
	SessionStateRecording  SessionState = "recording"
	SessionStateProcessing SessionState = "processing"
	SessionStateCompleted  SessionState = "completed"
	SessionStateError      SessionState = "error"
)

// ConnectionPhase models the protocol connection lifecycle.
type ConnectionPhase string

const (
	PhaseDisconnected ConnectionPhase = "disconnected"
	PhaseConnecting   ConnectionPhase = "connecting"
	PhaseConnected    ConnectionPhase = "connected"
	PhaseClosing      ConnectionPhase = "closing"
)

var (
	// ErrInvalidState is returned when an operation is not valid for the
	// current session or connection state.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimeout is returned when no recognition result arrived within the
	// bounded wait after finishing a session.
	ErrTimeout = errors.New("timed out waiting for recognition result")
)

// Utterance is one delimited spoken segment within a recognition result.
type Utterance struct {
	Text        string `json:"text"`
	StartTimeMs int64  `json:"startTimeMs"`
	EndTimeMs   int64  `json:"endTimeMs"`
	IsFinal     bool   `json:"isFinal"`
}

// RecognitionResult is one transcription update from the recognition service.
// Err carries soft protocol errors; such results never populate Text.
type RecognitionResult struct {
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances,omitempty"`
	IsPartial  bool        `json:"isPartial"`
	Err        string      `json:"error,omitempty"`
}

// RewriteResult is the outcome of polishing a transcript. Polished always
// holds usable text: the rewritten transcript on success, the original on
// failure.
type RewriteResult struct {
	Original string `json:"original"`
	Polished string `json:"polished"`
	Success  bool   `json:"success"`
	Err      string `json:"error,omitempty"`
}

// HistoryEntry is one completed transcription kept in session history.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	DurationMs int64     `json:"durationMs"`
}

// EventKind identifies a session lifecycle event.
type EventKind string

const (
	EventStateChange  EventKind = "state-change"
	EventResult       EventKind = "result"
	EventError        EventKind = "error"
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

// Event is one lifecycle notification delivered to subscribers. State is set
// for state-change events, Result for result events, Err for error events.
type Event struct {
	Kind      EventKind          `json:"kind"`
	State     SessionState       `json:"state,omitempty"`
	Result    *RecognitionResult `json:"result,omitempty"`
	Err       string             `json:"error,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}
