package client

import (
	"context"
	"encoding/json"
	"maps"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/protocol"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/session"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/transport/ws"
)

const waitFor = 2 * time.Second

type testRelay struct {
	url   string
	relay *relay.Relay
	acc   *ws.Acceptor
}

// startTestRelay runs a relay and acceptor on a random port.
func startTestRelay(t *testing.T) *testRelay {
	t.Helper()
	logger := zaptest.NewLogger(t)
	scfg := config.ServerConfig{
		Host:           "127.0.0.1",
		WSPath:         "/ws",
		AllowedOrigins: []string{"*"},
	}
	rcfg := config.RelayConfig{
		DefaultRoom:  "main",
		SendBuffer:   256,
		InboxBuffer:  256,
		ReadLimit:    65536,
		WriteTimeout: time.Second,
	}

	r := relay.New(rcfg, session.NewRegistry(rcfg.SendBuffer), room.NewStore(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = r.Run(ctx)
	}()

	acc := ws.NewAcceptor(scfg, rcfg, r, logger)
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = acc.ListenAndServe()
	}()
	require.Eventually(t, func() bool { return acc.Addr() != "" }, waitFor, 10*time.Millisecond)

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), waitFor)
		defer stopCancel()
		acc.Stop(stopCtx)
		<-serveDone
		cancel()
		<-runDone
	})
	return &testRelay{url: "ws://" + acc.Addr() + "/ws", relay: r, acc: acc}
}

func connectAdapter(t *testing.T, url, name string) *Adapter {
	t.Helper()
	a := New(Config{URL: url, Room: "main", Name: name, TickRate: 50}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, a.Connect(ctx))
	require.Eventually(t, func() bool { return a.SelfID() != "" }, waitFor, 10*time.Millisecond)
	t.Cleanup(a.Leave)
	return a
}

func envelope(t *testing.T, frame []byte) protocol.Envelope {
	t.Helper()
	env, err := protocol.DecodeEnvelope(frame)
	require.NoError(t, err)
	return env
}

func keys(m map[string]room.Snapshot) []string {
	return slices.Sorted(maps.Keys(m))
}

func f64(v float64) *float64 { return &v }
func flag(v bool) *bool      { return &v }

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "ws://x"}.withDefaults()
	assert.Equal(t, "main", cfg.Room)
	assert.Equal(t, "Player", cfg.Name)
	assert.Equal(t, DefaultTickRate, cfg.TickRate)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, time.Second/DefaultTickRate, cfg.tickPeriod())
}

func TestConfigTickRateIsClamped(t *testing.T) {
	for _, rate := range []int{-5, 0, 1, 60, MaxTickRate, MaxTickRate + 1, 2_000_000_000} {
		cfg := Config{URL: "ws://x", TickRate: rate}.withDefaults()
		assert.GreaterOrEqual(t, cfg.TickRate, 1, "rate %d", rate)
		assert.LessOrEqual(t, cfg.TickRate, MaxTickRate, "rate %d", rate)
		assert.Positive(t, cfg.tickPeriod(), "rate %d", rate)
	}
	assert.Equal(t, MaxTickRate, Config{URL: "ws://x", TickRate: 2_000_000_000}.withDefaults().TickRate)
}

func TestNotConnected(t *testing.T) {
	a := New(Config{URL: "ws://127.0.0.1:1/ws"}, zaptest.NewLogger(t))
	assert.False(t, a.Connected())
	assert.ErrorIs(t, a.Action("boost", nil), ErrNotConnected)
	a.UpdateLocal(room.Patch{X: f64(1)})
	a.Leave()
	assert.Empty(t, a.Players())
}

func TestConnectFailureFallsBackToSinglePlayer(t *testing.T) {
	a := New(Config{URL: "ws://127.0.0.1:1/ws"}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	assert.Error(t, a.Connect(ctx))
	assert.False(t, a.Connected())
}

func TestRemotePlayersExcludeSelf(t *testing.T) {
	tr := startTestRelay(t)
	alice := connectAdapter(t, tr.url, "Alice")
	bob := connectAdapter(t, tr.url, "Bob")

	require.Eventually(t, func() bool {
		return len(alice.Players()) == 1 && len(bob.Players()) == 1
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, "Bob", alice.Players()[bob.SelfID()].Name)
	assert.Equal(t, "Alice", bob.Players()[alice.SelfID()].Name)
	assert.NotContains(t, alice.Players(), alice.SelfID())
}

func TestUpdateLocalStreamsSnapshot(t *testing.T) {
	tr := startTestRelay(t)
	alice := connectAdapter(t, tr.url, "Alice")
	bob := connectAdapter(t, tr.url, "Bob")
	require.Eventually(t, func() bool { return len(bob.Players()) == 1 }, waitFor, 10*time.Millisecond)

	alice.UpdateLocal(room.Patch{X: f64(10), Y: f64(20), Angle: f64(0), Alive: flag(true)})

	require.Eventually(t, func() bool {
		p := bob.Players()[alice.SelfID()]
		return p.X != nil && *p.X == 10
	}, waitFor, 10*time.Millisecond)

	p := bob.Players()[alice.SelfID()]
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, 20.0, *p.Y)
	assert.True(t, *p.Alive)

	// A partial update keeps earlier fields.
	alice.UpdateLocal(room.Patch{X: f64(11)})
	require.Eventually(t, func() bool {
		p := bob.Players()[alice.SelfID()]
		return p.X != nil && *p.X == 11
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 20.0, *bob.Players()[alice.SelfID()].Y)
}

func TestUpdateLocalKeepsOnlyNewestSnapshot(t *testing.T) {
	a := New(Config{URL: "ws://x"}, zaptest.NewLogger(t))
	a.connected = true
	a.UpdateLocal(room.Patch{X: f64(1)})
	a.UpdateLocal(room.Patch{X: f64(2)})

	frame, ok := a.takePending()
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"sync_state","data":{"room":"main","state":{"name":"Player","x":2}}}`, string(frame))

	_, ok = a.takePending()
	assert.False(t, ok, "a snapshot is sent once")
}

func TestActionReachesOthers(t *testing.T) {
	tr := startTestRelay(t)
	alice := connectAdapter(t, tr.url, "Alice")
	bob := connectAdapter(t, tr.url, "Bob")
	require.Eventually(t, func() bool { return len(alice.Players()) == 1 }, waitFor, 10*time.Millisecond)

	var mu sync.Mutex
	var got []string
	bob.OnAction(func(id string, action json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, id+" "+string(action))
	})
	aliceGotAction := make(chan struct{}, 1)
	alice.OnAction(func(string, json.RawMessage) { aliceGotAction <- struct{}{} })

	require.NoError(t, alice.Action("boost", map[string]int{"power": 3}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, alice.SelfID()+` {"type":"boost","data":{"power":3}}`, got[0])
	mu.Unlock()

	select {
	case <-aliceGotAction:
		t.Fatal("sender received its own action")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLeaveRemovesPlayerForOthers(t *testing.T) {
	tr := startTestRelay(t)
	alice := connectAdapter(t, tr.url, "Alice")
	bob := connectAdapter(t, tr.url, "Bob")
	require.Eventually(t, func() bool { return len(alice.Players()) == 1 }, waitFor, 10*time.Millisecond)

	bob.Leave()
	assert.False(t, bob.Connected())
	assert.Empty(t, bob.Players())

	require.Eventually(t, func() bool { return len(alice.Players()) == 0 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return tr.relay.Sessions() == 1 }, waitFor, 10*time.Millisecond)
}

func TestRelayShutdownClearsPlayers(t *testing.T) {
	tr := startTestRelay(t)
	alice := connectAdapter(t, tr.url, "Alice")
	bob := connectAdapter(t, tr.url, "Bob")
	require.Eventually(t, func() bool { return len(alice.Players()) == 1 }, waitFor, 10*time.Millisecond)

	updates := make(chan map[string]room.Snapshot, 8)
	alice.OnPlayersUpdate(func(p map[string]room.Snapshot) { updates <- p })

	alice.mu.Lock()
	l := alice.link
	alice.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	tr.acc.Stop(ctx)

	require.Eventually(t, func() bool { return !alice.Connected() && !bob.Connected() }, waitFor, 10*time.Millisecond)
	assert.Empty(t, alice.Players())

	// The writer closes the socket when the relay drops the connection.
	select {
	case <-l.writerDone:
	case <-time.After(waitFor):
		t.Fatal("write loop did not exit after the relay closed")
	}
	_, err := l.conn.NetConn().Write([]byte{0})
	assert.ErrorIs(t, err, net.ErrClosed, "socket should be closed locally")

	var last map[string]room.Snapshot
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Empty(t, last)
	assert.ErrorIs(t, alice.Action("boost", nil), ErrNotConnected)
}

func TestPlayerDisconnectedNoticeRemovesRider(t *testing.T) {
	a := New(Config{URL: "ws://x"}, zaptest.NewLogger(t))
	a.applyRoster([]room.Member{{ID: "b", Name: "Bob"}, {ID: "c", Name: "Carol"}})

	a.handle(envelope(t, []byte(`{"type":"player_disconnected","data":{"id":"b"}}`)))

	assert.Equal(t, []string{"c"}, keys(a.Players()))
}

func TestStateUpdateDoesNotDropOtherRiders(t *testing.T) {
	a := New(Config{URL: "ws://x"}, zaptest.NewLogger(t))
	a.applyRoster([]room.Member{{ID: "b", Name: "Bob"}, {ID: "c", Name: "Carol"}})

	a.handle(envelope(t, []byte(`{"type":"state_update","data":{"b":{"id":"b","name":"Bob","x":3}}}`)))

	players := a.Players()
	assert.Len(t, players, 2)
	assert.Equal(t, 3.0, *players["b"].X)
}
