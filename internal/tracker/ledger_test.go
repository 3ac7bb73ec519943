package tracker

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Iron-Ham/nettrace/internal/errors"
	"github.com/Iron-Ham/nettrace/internal/event"
	"github.com/Iron-Ham/nettrace/internal/logging"
)

func derpConfig(t testing.TB, limits Limits) Config {
	t.Helper()
	cfg, err := GenerateConfig("DOCKER_CONE_CLIENT_1", ChannelLimits{ChannelDerp1: limits})
	require.NoError(t, err)
	return cfg
}

func derpLine(srcPort int) string {
	return fmt.Sprintf("12:00:01.000001 IP 192.168.101.2.%d > 10.0.10.1.8765: Flags [S], seq 1, length 0", srcPort)
}

func violationFor(vs []Violation, name string) (Violation, bool) {
	for _, v := range vs {
		if v.Channel == name {
			return v, true
		}
	}
	return Violation{}, false
}

func TestLedger_OneConnectionWithinLimits(t *testing.T) {
	l, err := NewLedger(derpConfig(t, Limits{1, 1}))
	require.NoError(t, err)

	l.HandleLine(derpLine(41000))
	// Reply and retransmission of the same flow.
	l.HandleLine("12:00:01.000100 IP 10.0.10.1.8765 > 192.168.101.2.41000: Flags [S.], seq 9, ack 2, length 0")
	l.HandleLine(derpLine(41000))

	count, ok := l.Count(ChannelDerp1)
	require.True(t, ok)
	assert.Equal(t, 1, count)

	_, violated := violationFor(l.OutOfLimits(), ChannelDerp1)
	assert.False(t, violated)
}

func TestLedger_SecondConnectionViolates(t *testing.T) {
	l, err := NewLedger(derpConfig(t, Limits{1, 1}))
	require.NoError(t, err)

	l.HandleLine(derpLine(41000))
	l.HandleLine(derpLine(41001))

	v, ok := violationFor(l.OutOfLimits(), ChannelDerp1)
	require.True(t, ok)
	assert.Equal(t, 2, v.Count)
	assert.Equal(t, Limits{1, 1}, v.Limits)
	assert.Contains(t, v.String(), "derp_1")
}

func TestLedger_OutOfLimits_NilWhenClean(t *testing.T) {
	cfg := Config{Channels: []ChannelConfig{{
		Name:       "stun",
		Descriptor: Descriptor{Protocol: ProtocolUDP, Addresses: []string{"10.0.1.1"}, Port: 3478},
		Limits:     Limits{0, 2},
	}}}
	l, err := NewLedger(cfg)
	require.NoError(t, err)

	assert.Nil(t, l.OutOfLimits())
	l.HandleLine("12:00:01.000001 IP 192.168.101.2.41641 > 10.0.1.1.3478: UDP, length 20")
	assert.Nil(t, l.OutOfLimits())
}

func TestLedger_ViolationsInDeclarationOrder(t *testing.T) {
	// Every preset expects {0,0} except derp_1, so a derp_1 connection
	// violates derp_0 (any relay) and nothing violates derp_1.
	l, err := NewLedger(derpConfig(t, Limits{1, 1}))
	require.NoError(t, err)

	vs := l.OutOfLimits()
	require.Len(t, vs, 1)
	assert.Equal(t, ChannelDerp1, vs[0].Channel)
	assert.Equal(t, 0, vs[0].Count)

	l.HandleLine(derpLine(41000))
	vs = l.OutOfLimits()
	require.Len(t, vs, 1)
	assert.Equal(t, ChannelDerp0, vs[0].Channel)
}

func TestLedger_FreezeStopsCounting(t *testing.T) {
	l, err := NewLedger(derpConfig(t, Limits{1, 1}))
	require.NoError(t, err)

	l.HandleLine(derpLine(41000))
	l.Freeze()
	l.Freeze()
	assert.True(t, l.Frozen())

	l.HandleLine(derpLine(41001))
	count, _ := l.Count(ChannelDerp1)
	assert.Equal(t, 1, count)

	first := l.OutOfLimits()
	assert.Equal(t, first, l.OutOfLimits())
}

func TestLedger_WaitForEvent(t *testing.T) {
	t.Run("already seen returns immediately", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)
		l.HandleLine(derpLine(41000))

		assert.NoError(t, l.WaitForEvent(context.Background(), ChannelDerp1, time.Millisecond))
	})

	t.Run("resolves when the connection arrives later", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)

		errc := make(chan error, 1)
		go func() {
			errc <- l.WaitForEvent(context.Background(), ChannelDerp1, 5*time.Second)
		}()

		time.Sleep(20 * time.Millisecond)
		l.HandleLine(derpLine(41000))

		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("WaitForEvent did not return")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)

		err = l.WaitForEvent(context.Background(), ChannelDerp1, 10*time.Millisecond)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrEventTimeout))
		assert.True(t, errors.IsTimeout(err))

		// The ledger keeps working after a timed out wait.
		l.HandleLine(derpLine(41000))
		assert.NoError(t, l.WaitForEvent(context.Background(), ChannelDerp1, time.Second))
	})

	t.Run("unknown channel", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)

		err = l.WaitForEvent(context.Background(), "derp_9", time.Second)
		assert.True(t, errors.Is(err, errors.ErrUnknownChannel))
		assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	})

	t.Run("parent context cancelled", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err = l.WaitForEvent(ctx, ChannelDerp1, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("parent deadline is an event timeout", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err = l.WaitForEvent(ctx, ChannelDerp1, time.Minute)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrEventTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, errors.IsTimeout(err))
	})

	t.Run("frozen without event", func(t *testing.T) {
		l, err := NewLedger(derpConfig(t, Limits{1, 1}))
		require.NoError(t, err)
		l.Freeze()

		err = l.WaitForEvent(context.Background(), ChannelDerp1, time.Minute)
		assert.True(t, errors.Is(err, errors.ErrEventTimeout))
	})
}

func TestLedger_ProtocolSpellings(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
channels:
  - name: relay
    protocol: any
    addresses: ["10.0.10.1"]
    port: 8765
    limits: "1:1"
  - name: relay6
    protocol: icmp6
    addresses: ["fd00::1"]
    limits: "1:1"
  - name: stun
    protocol: " UDP "
    addresses: ["10.0.1.1"]
    port: 3478
    limits: "1:1"
`))
	require.NoError(t, err)
	l, err := NewLedger(cfg)
	require.NoError(t, err)

	l.HandleLine(derpLine(41000))
	l.HandleLine("12:00:01.000002 IP6 fd00::2 > fd00::1: ICMP6, echo request, id 1, seq 1, length 64")
	l.HandleLine("12:00:01.000003 IP 192.168.101.2.41641 > 10.0.1.1.3478: UDP, length 20")

	for _, name := range []string{"relay", "relay6", "stun"} {
		n, _ := l.Count(name)
		assert.Equal(t, 1, n, name)
	}
	assert.Nil(t, l.OutOfLimits())
}

func TestLedger_PingExchangeIsOneConnection(t *testing.T) {
	cfg, err := GenerateConfig("DOCKER_CONE_CLIENT_1", ChannelLimits{ChannelPing: {Min: 1, Max: 1}})
	require.NoError(t, err)

	t.Run("direction unknown", func(t *testing.T) {
		l, err := NewLedger(cfg)
		require.NoError(t, err)

		l.HandleLine("12:00:01.000001 IP 10.0.0.2 > 10.0.0.3: ICMP echo request, id 7, seq 1, length 64")
		l.HandleLine("12:00:01.000200 IP 10.0.0.3 > 10.0.0.2: ICMP echo reply, id 7, seq 1, length 64")

		n, _ := l.Count(ChannelPing)
		assert.Equal(t, 1, n)
		assert.Nil(t, l.OutOfLimits())
	})

	t.Run("direction from capture", func(t *testing.T) {
		l, err := NewLedger(cfg)
		require.NoError(t, err)

		l.HandleLine("12:00:01.000001 eth0 Out IP 10.0.11.2 > 10.0.0.3: ICMP echo request, id 7, seq 1, length 64")
		l.HandleLine("12:00:01.000200 eth0 In  IP 10.0.0.3 > 10.0.11.2: ICMP echo reply, id 7, seq 1, length 64")

		states := l.Snapshot()
		for _, s := range states {
			if s.Name == ChannelPing {
				assert.Equal(t, []string{"icmp 10.0.0.3"}, s.Connections)
			}
		}
	})
}

func TestLedger_PublishesEvents(t *testing.T) {
	bus := event.NewBus(nil)
	var (
		mu       sync.Mutex
		observed []event.ConnectionObservedEvent
		first    []event.ChannelFirstSeenEvent
	)
	bus.Subscribe(event.TypeConnectionObserved, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, e.(event.ConnectionObservedEvent))
	})
	bus.Subscribe(event.TypeChannelFirstSeen, func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, e.(event.ChannelFirstSeenEvent))
	})

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l, err := NewLedger(derpConfig(t, Limits{1, 1}), WithBus(bus), WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	l.HandleLine(derpLine(41000))
	l.HandleLine(derpLine(41001))

	mu.Lock()
	defer mu.Unlock()

	// derp_0 and derp_1 both match each connection.
	require.Len(t, observed, 4)
	require.Len(t, first, 2)
	assert.Equal(t, ChannelDerp0, first[0].Channel)
	assert.Equal(t, ChannelDerp1, first[1].Channel)
	assert.Equal(t, at, first[1].FirstSeen)
	assert.Equal(t, "192.168.101.2:41001", observed[3].Peer)
	assert.Equal(t, 2, observed[3].Count)
}

func TestLedger_Snapshot(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l, err := NewLedger(derpConfig(t, Limits{1, 1}),
		WithClock(func() time.Time { return at }),
		WithLocalNetworks(netip.MustParsePrefix("192.168.101.0/24")),
	)
	require.NoError(t, err)

	l.HandleLine(derpLine(41000))

	snap := l.Snapshot()
	require.Len(t, snap, len(PresetNames()))
	assert.Equal(t, PresetNames(), l.Names())

	derp1 := snap[1]
	assert.Equal(t, ChannelDerp1, derp1.Name)
	assert.Equal(t, 1, derp1.Count)
	assert.Equal(t, at, derp1.FirstSeen)
	assert.Equal(t, []string{"tcp 192.168.101.2:41000"}, derp1.Connections)
	assert.True(t, derp1.Within())

	assert.True(t, snap[4].FirstSeen.IsZero(), "stun never seen")
}

func TestLedger_LogsObservations(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, nil, logging.LevelDebug)

	l, err := NewLedger(derpConfig(t, Limits{1, 1}), WithLogger(logger))
	require.NoError(t, err)
	l.HandleLine(derpLine(41000))

	assert.Contains(t, buf.String(), "connection observed")
	assert.Contains(t, buf.String(), `"channel":"derp_1"`)
}

func TestNewLedger_InvalidConfig(t *testing.T) {
	_, err := NewLedger(Config{Channels: []ChannelConfig{
		{Name: "a", Descriptor: Descriptor{Addresses: []string{"10.0.0.1"}}},
		{Name: "a", Descriptor: Descriptor{Addresses: []string{"10.0.0.2"}}},
	}})
	assert.Error(t, err)
}

func TestLedger_ConcurrentObserve(t *testing.T) {
	l, err := NewLedger(derpConfig(t, Limits{0, 1000}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Go(func() {
			for i := range 50 {
				l.HandleLine(derpLine(40000 + w*50 + i))
				l.HandleLine(derpLine(40000 + i)) // overlapping keys
			}
		})
	}
	wg.Wait()

	count, _ := l.Count(ChannelDerp1)
	assert.Equal(t, 400, count)
}

// Property tests over random record streams.

var (
	peerAddrs = []string{"192.168.101.2", "192.168.101.3", "192.168.102.2"}
	servers   = []string{"10.0.10.1:8765", "10.0.10.2:8765", "10.0.1.1:3478", "10.0.100.1:51820", "10.0.100.1"}
)

func recordGen() *rapid.Generator[Record] {
	return rapid.Custom(func(t *rapid.T) Record {
		peer := ep(rapid.SampledFrom(peerAddrs).Draw(t, "peer"))
		server := ep(rapid.SampledFrom(servers).Draw(t, "server"))
		proto := rapid.SampledFrom([]Protocol{ProtocolTCP, ProtocolUDP, ProtocolICMP}).Draw(t, "proto")
		if proto != ProtocolICMP {
			peer.Port = uint16(rapid.IntRange(40000, 40005).Draw(t, "port"))
		}
		rec := Record{Protocol: proto, Src: peer, Dst: server}
		if rapid.Bool().Draw(t, "reply") {
			rec.Src, rec.Dst = rec.Dst, rec.Src
		}
		return rec
	})
}

func TestLedger_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg, err := GenerateConfig("LOCAL", ChannelLimits{
			ChannelDerp1: {Min: 0, Max: rapid.IntRange(0, 3).Draw(t, "max")},
		})
		if err != nil {
			t.Fatal(err)
		}
		l, err := NewLedger(cfg)
		if err != nil {
			t.Fatal(err)
		}

		records := rapid.SliceOfN(recordGen(), 0, 60).Draw(t, "records")
		prev := make(map[string]int)
		for _, rec := range records {
			l.Observe(rec)
			for _, s := range l.Snapshot() {
				// Counts never decrease.
				if s.Count < prev[s.Name] {
					t.Fatalf("%s count went from %d to %d", s.Name, prev[s.Name], s.Count)
				}
				prev[s.Name] = s.Count
				// Each counted key is distinct.
				if len(s.Connections) != s.Count {
					t.Fatalf("%s has %d keys for count %d", s.Name, len(s.Connections), s.Count)
				}
			}
		}

		// Replaying the stream adds nothing.
		before := l.Snapshot()
		for _, rec := range records {
			l.Observe(rec)
		}
		after := l.Snapshot()
		for i := range before {
			if before[i].Count != after[i].Count {
				t.Fatalf("%s recounted: %d then %d", before[i].Name, before[i].Count, after[i].Count)
			}
		}

		// Violations agree with the snapshot and are stable once frozen.
		l.Freeze()
		vs := l.OutOfLimits()
		for _, s := range after {
			_, violated := violationFor(vs, s.Name)
			if violated == s.Within() {
				t.Fatalf("%s: within=%v but violated=%v", s.Name, s.Within(), violated)
			}
		}
		if len(vs) == 0 && vs != nil {
			t.Fatal("OutOfLimits returned an empty non-nil slice")
		}
		again := l.OutOfLimits()
		if len(again) != len(vs) {
			t.Fatalf("OutOfLimits not idempotent: %v vs %v", vs, again)
		}
	})
}
