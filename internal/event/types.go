// Package event defines event types for decoupling capture sessions and
// ledgers from whoever reports on them.
package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "capture.started", "tracker.channel_first_seen")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeCaptureStarted     = "capture.started"
	TypeCaptureStopped     = "capture.stopped"
	TypeCaptureDied        = "capture.died"
	TypeConnectionObserved = "tracker.connection_observed"
	TypeChannelFirstSeen   = "tracker.channel_first_seen"
	TypeArtifactCollected  = "artifact.collected"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Capture Lifecycle Events
// -----------------------------------------------------------------------------

// CaptureStartedEvent is emitted once the capture tool reports readiness.
type CaptureStartedEvent struct {
	baseEvent
	SessionID  string   // Unique identifier for the session
	Connection string   // Target name of the connection
	Argv       []string // Capture tool invocation
}

// NewCaptureStartedEvent creates a CaptureStartedEvent.
func NewCaptureStartedEvent(sessionID, connection string, argv []string) CaptureStartedEvent {
	return CaptureStartedEvent{
		baseEvent:  newBaseEvent(TypeCaptureStarted),
		SessionID:  sessionID,
		Connection: connection,
		Argv:       append([]string(nil), argv...),
	}
}

// CaptureStoppedEvent is emitted when a session has been stopped.
type CaptureStoppedEvent struct {
	baseEvent
	SessionID  string
	Connection string
	Killed     bool // The process ignored the interrupt and was killed
}

// NewCaptureStoppedEvent creates a CaptureStoppedEvent.
func NewCaptureStoppedEvent(sessionID, connection string, killed bool) CaptureStoppedEvent {
	return CaptureStoppedEvent{
		baseEvent:  newBaseEvent(TypeCaptureStopped),
		SessionID:  sessionID,
		Connection: connection,
		Killed:     killed,
	}
}

// CaptureDiedEvent is emitted when the capture process exits while its
// session is still active.
type CaptureDiedEvent struct {
	baseEvent
	SessionID  string
	Connection string
	Err        error // Exit error, nil for a clean exit
}

// NewCaptureDiedEvent creates a CaptureDiedEvent.
func NewCaptureDiedEvent(sessionID, connection string, err error) CaptureDiedEvent {
	return CaptureDiedEvent{
		baseEvent:  newBaseEvent(TypeCaptureDied),
		SessionID:  sessionID,
		Connection: connection,
		Err:        err,
	}
}

// -----------------------------------------------------------------------------
// Tracker Events
// -----------------------------------------------------------------------------

// ConnectionObservedEvent is emitted when a ledger counts a new distinct
// connection for a channel.
type ConnectionObservedEvent struct {
	baseEvent
	Channel  string
	Protocol string
	Peer     string // Peer endpoint that identifies the connection
	Count    int    // Channel count after this connection
}

// NewConnectionObservedEvent creates a ConnectionObservedEvent.
func NewConnectionObservedEvent(channel, protocol, peer string, count int) ConnectionObservedEvent {
	return ConnectionObservedEvent{
		baseEvent: newBaseEvent(TypeConnectionObserved),
		Channel:   channel,
		Protocol:  protocol,
		Peer:      peer,
		Count:     count,
	}
}

// ChannelFirstSeenEvent is emitted the first time a channel matches.
type ChannelFirstSeenEvent struct {
	baseEvent
	Channel   string
	FirstSeen time.Time
}

// NewChannelFirstSeenEvent creates a ChannelFirstSeenEvent.
func NewChannelFirstSeenEvent(channel string, firstSeen time.Time) ChannelFirstSeenEvent {
	return ChannelFirstSeenEvent{
		baseEvent: newBaseEvent(TypeChannelFirstSeen),
		Channel:   channel,
		FirstSeen: firstSeen,
	}
}

// -----------------------------------------------------------------------------
// Artifact Events
// -----------------------------------------------------------------------------

// ArtifactCollectedEvent is emitted after a collection attempt, successful or not.
type ArtifactCollectedEvent struct {
	baseEvent
	Connection string
	RemotePath string
	LocalPath  string
	Err        error
}

// NewArtifactCollectedEvent creates an ArtifactCollectedEvent.
func NewArtifactCollectedEvent(connection, remotePath, localPath string, err error) ArtifactCollectedEvent {
	return ArtifactCollectedEvent{
		baseEvent:  newBaseEvent(TypeArtifactCollected),
		Connection: connection,
		RemotePath: remotePath,
		LocalPath:  localPath,
		Err:        err,
	}
}
