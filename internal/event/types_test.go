package event

import (
	"errors"
	"testing"
	"time"
)

func TestEventTypes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"capture started", NewCaptureStartedEvent("s", "alpha", nil), TypeCaptureStarted},
		{"capture stopped", NewCaptureStoppedEvent("s", "alpha", false), TypeCaptureStopped},
		{"capture died", NewCaptureDiedEvent("s", "alpha", errors.New("exit 1")), TypeCaptureDied},
		{"connection observed", NewConnectionObservedEvent("derp_1", "tcp", "10.0.254.1:34567", 1), TypeConnectionObserved},
		{"channel first seen", NewChannelFirstSeenEvent("derp_1", time.Now()), TypeChannelFirstSeen},
		{"artifact collected", NewArtifactCollectedEvent("alpha", "/dump.pcap", "logs/alpha.pcap", nil), TypeArtifactCollected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
			if tt.event.Timestamp().IsZero() {
				t.Error("Timestamp() should be set")
			}
		})
	}
}

func TestNewCaptureStartedEvent_CopiesArgv(t *testing.T) {
	argv := []string{"tcpdump", "-n"}
	e := NewCaptureStartedEvent("s", "alpha", argv)
	argv[0] = "changed"

	if e.Argv[0] != "tcpdump" {
		t.Errorf("Argv[0] = %q, want %q", e.Argv[0], "tcpdump")
	}
}
