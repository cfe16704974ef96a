package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"
	"crypto_feed/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test doubles ---

type fakeProtocol struct {
	resets atomic.Int32
	subErr error
}

func (p *fakeProtocol) Name() string { return "fake:TEST" }

func (p *fakeProtocol) SubscribeMessages() ([][]byte, error) {
	if p.subErr != nil {
		return nil, p.subErr
	}
	return [][]byte{[]byte(`{"op":"subscribe"}`)}, nil
}

func (p *fakeProtocol) UnsubscribeMessages() ([][]byte, error) {
	return [][]byte{[]byte(`{"op":"unsubscribe"}`)}, nil
}

func (p *fakeProtocol) HandleFrame(msg []byte) ([]event.Event, error) {
	switch string(msg) {
	case "hb":
		return nil, nil
	case "bad":
		return nil, domain.ErrMalformedPayload
	case "partial":
		return []event.Event{event.NewTrade("TEST", "fake", 1, 100, 1, event.SideBuy)}, domain.ErrMalformedPayload
	}
	return []event.Event{event.NewTrade("TEST", "fake", 1, 100, 1, event.SideBuy)}, nil
}

func (p *fakeProtocol) Reset() { p.resets.Add(1) }

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.State
	ch     chan domain.State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan domain.State, 256)}
}

func (r *stateRecorder) hook(_ string, _, to domain.State, _ error) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
	select {
	case r.ch <- to:
	default:
	}
}

func (r *stateRecorder) count(s domain.State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

func (r *stateRecorder) waitFor(t *testing.T, want domain.State) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

type testServer struct {
	*httptest.Server
	accepted atomic.Int32
	received chan string
}

// newTestServer runs a websocket server; handle drives connection n (1-based).
// A nil conn means the handshake should be rejected.
func newTestServer(t *testing.T, reject func(n int32) bool, handle func(n int32, conn *websocket.Conn, s *testServer)) *testServer {
	t.Helper()
	s := &testServer{received: make(chan string, 64)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.accepted.Add(1)
		if reject != nil && reject(n) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(n, conn, s)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// readAll consumes client frames until the client goes away.
func (s *testServer) readAll(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.received <- string(msg)
	}
}

func expectReceived(t *testing.T, s *testServer, want string) {
	t.Helper()
	select {
	case got := <-s.received:
		assert.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatalf("server never received %s", want)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopHandler([]event.Event) error { return nil }

// --- tests ---

func TestManager_LivenessTimeoutSchedulesSingleReconnect(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		s.readAll(conn) // never sends anything
	})

	proto := &fakeProtocol{}
	rec := newStateRecorder()
	m := NewManager(proto, Options{
		URL:               srv.wsURL(),
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatGrace:    50 * time.Millisecond,
		Retry:             RetryPolicy{Delay: 10 * time.Second},
		Logger:            quietLogger(),
		OnState:           rec.hook,
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))
	rec.waitFor(t, domain.StateFaulted)
	rec.waitFor(t, domain.StateDisconnected)

	snap := m.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.LivenessTimeouts)
	assert.EqualValues(t, 1, snap.Reconnects)
	assert.EqualValues(t, 1, proto.resets.Load())
	assert.ErrorIs(t, m.Send(context.Background(), []byte("x")), domain.ErrNotConnected,
		"no writes while waiting to reconnect")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.ErrorIs(t, m.Err(), domain.ErrStopped)
	assert.Equal(t, 1, rec.count(domain.StateOpen), "no session may open after Stop")
	assert.EqualValues(t, 1, srv.accepted.Load())
}

func TestManager_RetriesExhausted(t *testing.T) {
	srv := newTestServer(t,
		func(n int32) bool { return n > 1 },
		func(_ int32, _ *websocket.Conn, _ *testServer) {
			// Drop the first session right away.
		})

	rec := newStateRecorder()
	m := NewManager(&fakeProtocol{}, Options{
		URL:     srv.wsURL(),
		Retry:   RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond},
		Logger:  quietLogger(),
		OnState: rec.hook,
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))

	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connector did not give up")
	}

	assert.Equal(t, domain.StateFailed, m.State())
	assert.ErrorIs(t, m.Err(), domain.ErrRetriesExhausted)
	assert.EqualValues(t, 3, srv.accepted.Load())

	snap := m.Metrics().Snapshot()
	assert.EqualValues(t, 2, snap.Reconnects)
	assert.True(t, snap.Failed)

	assert.NoError(t, m.Stop(context.Background()))
}

func TestManager_FatalFaultDoesNotReconnect(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		s.readAll(conn)
	})

	buildErr := errors.New("unsupported channel")
	rec := newStateRecorder()
	m := NewManager(&fakeProtocol{subErr: buildErr}, Options{
		URL:     srv.wsURL(),
		Retry:   RetryPolicy{Delay: 20 * time.Millisecond}, // unbounded
		Logger:  quietLogger(),
		OnState: rec.hook,
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))

	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("connector kept retrying a fatal fault")
	}

	assert.Equal(t, domain.StateFailed, m.State())
	assert.ErrorIs(t, m.Err(), buildErr)
	assert.False(t, domain.IsRetriable(m.Err()))

	snap := m.Metrics().Snapshot()
	assert.Zero(t, snap.Reconnects)
	assert.True(t, snap.Failed)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, srv.accepted.Load())
	assert.Equal(t, 1, rec.count(domain.StateOpen))
}

func TestManager_GracefulStop(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		s.readAll(conn)
	})

	rec := newStateRecorder()
	m := NewManager(&fakeProtocol{}, Options{
		URL:     srv.wsURL(),
		Logger:  quietLogger(),
		OnState: rec.hook,
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))
	rec.waitFor(t, domain.StateStreaming)
	expectReceived(t, srv, `{"op":"subscribe"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	expectReceived(t, srv, `{"op":"unsubscribe"}`)
	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.Equal(t, 1, rec.count(domain.StateClosing))
	assert.ErrorIs(t, m.Err(), domain.ErrStopped)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	assert.ErrorIs(t, m.Connect(context.Background(), noopHandler), domain.ErrAlreadyConnected)
}

func TestManager_StopCloseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, nil, func(_ int32, _ *websocket.Conn, _ *testServer) {
		<-release // never reads, so the close frame is never echoed
	})
	t.Cleanup(func() { close(release) })

	rec := newStateRecorder()
	m := NewManager(&fakeProtocol{}, Options{
		URL:          srv.wsURL(),
		CloseTimeout: 100 * time.Millisecond,
		Logger:       quietLogger(),
		OnState:      rec.hook,
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))
	rec.waitFor(t, domain.StateStreaming)

	start := time.Now()
	err := m.Stop(context.Background())
	assert.ErrorIs(t, err, domain.ErrCloseTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.StateDisconnected, m.State())
}

func TestManager_HandlerPanicIsIsolated(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		if _, _, err := conn.ReadMessage(); err != nil { // subscribe
			return
		}
		for _, msg := range []string{"t1", "hb", "bad", "t2"} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		s.readAll(conn)
	})

	var calls atomic.Int32
	handler := func(events []event.Event) error {
		if calls.Add(1) == 1 {
			panic("consumer bug")
		}
		return nil
	}

	m := NewManager(&fakeProtocol{}, Options{URL: srv.wsURL(), Logger: quietLogger()})
	require.NoError(t, m.Connect(context.Background(), handler))
	defer m.Destroy()

	assert.Eventually(t, func() bool {
		return m.Metrics().Snapshot().FramesReceived == 4
	}, 3*time.Second, 10*time.Millisecond)

	snap := m.Metrics().Snapshot()
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, snap.HandlerErrors)
	assert.EqualValues(t, 2, snap.EventsEmitted)
	assert.EqualValues(t, 1, snap.FramesDropped)
	assert.Equal(t, domain.StateStreaming, m.State())
}

func TestManager_HandlerErrorIsCounted(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("t1"))
		s.readAll(conn)
	})

	m := NewManager(&fakeProtocol{}, Options{URL: srv.wsURL(), Logger: quietLogger()})
	require.NoError(t, m.Connect(context.Background(), func([]event.Event) error {
		return errors.New("downstream full")
	}))
	defer m.Destroy()

	assert.Eventually(t, func() bool {
		return m.Metrics().Snapshot().HandlerErrors == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StateStreaming, m.State())
}

func TestManager_PartialFrameDeliversValidEvents(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("partial"))
		s.readAll(conn)
	})

	var calls atomic.Int32
	m := NewManager(&fakeProtocol{}, Options{URL: srv.wsURL(), Logger: quietLogger()})
	require.NoError(t, m.Connect(context.Background(), func(events []event.Event) error {
		calls.Add(int32(len(events)))
		return nil
	}))
	defer m.Destroy()

	assert.Eventually(t, func() bool {
		return m.Metrics().Snapshot().FramesReceived == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap := m.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.FramesDropped)
	assert.EqualValues(t, 1, snap.EventsEmitted)
	assert.EqualValues(t, 1, calls.Load())
}

func TestManager_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	m := NewManager(&fakeProtocol{}, Options{URL: url, Logger: quietLogger()})
	err := m.Connect(context.Background(), noopHandler)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectionFailed)
	assert.True(t, domain.IsRetriable(err))
	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.NoError(t, m.Stop(context.Background()))
}

func TestManager_SubscribeDelayAndSend(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		s.readAll(conn)
	})

	rec := newStateRecorder()
	m := NewManager(&fakeProtocol{}, Options{
		URL:            srv.wsURL(),
		SubscribeDelay: 100 * time.Millisecond,
		Logger:         quietLogger(),
		OnState:        rec.hook,
		Metrics:        infra.NewMetrics(),
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))
	assert.Equal(t, domain.StateOpen, m.State())

	require.NoError(t, m.Send(context.Background(), []byte(`{"op":"probe"}`)))
	expectReceived(t, srv, `{"op":"probe"}`)

	rec.waitFor(t, domain.StateStreaming)
	expectReceived(t, srv, `{"op":"subscribe"}`)

	m.Destroy()
	assert.ErrorIs(t, m.Send(context.Background(), []byte("x")), domain.ErrNotConnected)
}

func TestManager_PingKeepsSessionAlive(t *testing.T) {
	srv := newTestServer(t, nil, func(_ int32, conn *websocket.Conn, s *testServer) {
		s.readAll(conn) // default ping handler answers with pongs
	})

	rec := newStateRecorder()
	m := NewManager(&fakeProtocol{}, Options{
		URL:               srv.wsURL(),
		HeartbeatInterval: 150 * time.Millisecond,
		HeartbeatGrace:    50 * time.Millisecond,
		PingInterval:      40 * time.Millisecond,
		Retry:             RetryPolicy{Delay: time.Second},
		Logger:            quietLogger(),
		OnState:           rec.hook,
	})

	require.NoError(t, m.Connect(context.Background(), noopHandler))
	defer m.Destroy()

	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 0, rec.count(domain.StateFaulted))
	assert.EqualValues(t, 0, m.Metrics().Snapshot().LivenessTimeouts)
}
