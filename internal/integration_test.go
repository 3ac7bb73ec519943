// Package internal contains integration tests that verify the capture,
// tracker, artifact and event packages work together.
package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/nettrace/internal/artifact"
	"github.com/Iron-Ham/nettrace/internal/capture"
	"github.com/Iron-Ham/nettrace/internal/config"
	"github.com/Iron-Ham/nettrace/internal/connection"
	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
	"github.com/Iron-Ham/nettrace/internal/testutil"
	"github.com/Iron-Ham/nettrace/internal/tracker"
)

const readyLine = "tcpdump: listening on any, link-type LINUX_SLL2 (Linux cooked v2), snapshot length 262144 bytes"

// peer emits the ready line followed by traffic from srcAddr.
func peer(name, srcAddr string, packets ...string) *testutil.FakeConnection {
	conn := testutil.NewFakeConnection(connection.Linux, name)
	conn.On("tcpdump", func(p *testutil.FakeProcess) {
		p.Emit(connection.Stderr, readyLine)
		for _, dst := range packets {
			p.Emit(connection.Stdout, "12:00:00.000001 IP "+srcAddr+".40000 > "+dst+": Flags [S], seq 1, length 0")
		}
	})
	conn.PutRemoteFile(artifact.LinuxPath, []byte("pcap"))
	return conn
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) record(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.EventType()
	}
	return types
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func TestCaptureGroupIntegration(t *testing.T) {
	bus := event.NewBus(logging.NopLogger())
	rec := &recorder{}
	bus.SubscribeAll(rec.record)

	cone := peer("cone-client-1", "192.168.101.2", "10.0.10.1.8765")
	sym := peer("symmetric-client-1", "192.168.103.88", "10.0.10.1.8765", "10.0.10.2.8765")

	tcfg, err := tracker.GenerateConfig(connection.TagConeClient1, tracker.ChannelLimits{
		tracker.ChannelDerp0: tracker.NewLimits(1, 2),
		tracker.ChannelDerp1: tracker.NewLimits(1, 1),
		tracker.ChannelDerp2: tracker.NewLimits(0, 1),
	})
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}

	fs := afero.NewMemMapFs()
	collector := artifact.NewCollector(config.ArtifactsConfig{LogDir: "/logs", Download: true, StoreIn: "test_derp"}, fs, logging.NopLogger(), bus)

	opts := capture.GroupOptions{
		SessionOptions: []capture.SessionOption{
			capture.WithBus(bus),
			capture.WithTracker(tcfg),
			capture.WithStartTimeout(2 * time.Second),
			capture.WithStopGracePeriod(100 * time.Millisecond),
		},
		Collector: collector,
	}

	conns := []connection.Connection{cone, sym}
	res, err := capture.RunGroup(context.Background(), conns, opts, func(ctx context.Context, sessions []*capture.Session) error {
		for _, s := range sessions {
			if err := s.WaitForEvent(ctx, tracker.ChannelDerp1, 2*time.Second); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunGroup: %v", err)
	}

	if len(res.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(res.Sessions))
	}
	for _, s := range res.Sessions {
		if s.State() != capture.StateStopped {
			t.Errorf("%s: state = %s, want stopped", s.Connection().TargetName(), s.State())
		}
		if !s.Ledger().Frozen() {
			t.Errorf("%s: ledger not frozen after stop", s.Connection().TargetName())
		}
		if v := s.OutOfLimits(); v != nil {
			t.Errorf("%s: unexpected violations %v", s.Connection().TargetName(), v)
		}
	}

	if n, _ := res.Sessions[1].Ledger().Count(tracker.ChannelDerp0); n != 1 {
		t.Errorf("symmetric derp_0 count = %d, want 1 (same source endpoint)", n)
	}

	if len(res.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(res.Artifacts))
	}
	for _, a := range res.Artifacts {
		if a.Err != nil {
			t.Errorf("%s: collect failed: %v", a.Connection, a.Err)
		}
		if ok, _ := afero.Exists(cone.Fs, a.LocalPath); a.Connection == "cone-client-1" && !ok {
			t.Errorf("%s: %s not downloaded", a.Connection, a.LocalPath)
		}
	}
	if cone.RemoteFileExists(artifact.LinuxPath) || sym.RemoteFileExists(artifact.LinuxPath) {
		t.Error("capture files left on peers")
	}

	if got := rec.count(event.TypeCaptureStarted); got != 2 {
		t.Errorf("capture.started events = %d, want 2", got)
	}
	if got := rec.count(event.TypeCaptureStopped); got != 2 {
		t.Errorf("capture.stopped events = %d, want 2", got)
	}
	if got := rec.count(event.TypeArtifactCollected); got != 2 {
		t.Errorf("artifact.collected events = %d, want 2", got)
	}
	if got := rec.count(event.TypeCaptureDied); got != 0 {
		t.Errorf("capture.died events = %d, want 0", got)
	}
}

func TestCaptureGroupViolationIntegration(t *testing.T) {
	conn := peer("cone-client-1", "192.168.101.2", "10.0.10.1.8765", "10.0.10.2.8765")

	tcfg, err := tracker.GenerateConfig(connection.TagConeClient1, tracker.ChannelLimits{
		tracker.ChannelDerp0: tracker.NewLimits(1, 1),
		tracker.ChannelDerp1: tracker.NewLimits(1, 1),
	})
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}

	opts := capture.GroupOptions{
		SessionOptions: []capture.SessionOption{
			capture.WithTracker(tcfg),
			capture.WithStopGracePeriod(100 * time.Millisecond),
		},
	}
	res, err := capture.RunGroup(context.Background(), []connection.Connection{conn}, opts, func(ctx context.Context, sessions []*capture.Session) error {
		return sessions[0].WaitForEvent(ctx, tracker.ChannelDerp2, 2*time.Second)
	})
	if err != nil {
		t.Fatalf("RunGroup: %v", err)
	}

	got := res.Sessions[0].OutOfLimits()
	want := []string{tracker.ChannelDerp2}
	if len(got) != len(want) {
		t.Fatalf("violations = %v, want channels %v", got, want)
	}
	if got[0].Channel != tracker.ChannelDerp2 || got[0].Count != 1 {
		t.Errorf("violation = %+v, want derp_2 count 1", got[0])
	}

	// derp_0 matched both relays from one source endpoint, so it counts once.
	if n, _ := res.Sessions[0].Ledger().Count(tracker.ChannelDerp0); n != 1 {
		t.Errorf("derp_0 count = %d, want 1", n)
	}
	if res.Artifacts != nil {
		t.Errorf("artifacts collected without a collector: %v", res.Artifacts)
	}
}

func TestWaitAfterStopIntegration(t *testing.T) {
	conn := peer("cone-client-1", "192.168.101.2")

	tcfg, err := tracker.GenerateConfig(connection.TagConeClient1, nil)
	if err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	s, err := capture.New(conn, capture.Options{}, capture.WithTracker(tcfg), capture.WithStopGracePeriod(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	err = s.WaitForEvent(context.Background(), tracker.ChannelStun, time.Second)
	if !errors.Is(err, errors.ErrEventTimeout) {
		t.Errorf("WaitForEvent after stop = %v, want ErrEventTimeout", err)
	}
}
