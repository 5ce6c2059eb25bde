package models

import "time"

// Event kinds published to the engine event topic.
const (
	EventSignalIssued     = "signal.issued"
	EventSignalVetoed     = "signal.vetoed"
	EventTradePlaced      = "trade.placed"
	EventTradeClosed      = "trade.closed"
	EventTradeRejected    = "trade.rejected"
	EventSessionCreated   = "session.created"
	EventSessionPaused    = "session.paused"
	EventSessionResumed   = "session.resumed"
	EventSessionCompleted = "session.completed"
	EventStreamDown       = "stream.down"
)

// EngineEvent is the envelope written to the event topic. Payload carries
// kind-specific fields and stays flat for downstream consumers.
type EngineEvent struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Market    string         `json:"market,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}
