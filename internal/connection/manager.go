package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/event"
	"crypto_feed/internal/infra"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultCloseTimeout = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Protocol is the exchange-specific half of a connector. All methods are
// called from the session loop only.
type Protocol interface {
	// Name identifies the connector in logs, metrics and state hooks.
	Name() string
	// SubscribeMessages returns the control frames sent once the session is open.
	SubscribeMessages() ([][]byte, error)
	// UnsubscribeMessages returns the control frames sent by a graceful stop.
	UnsubscribeMessages() ([][]byte, error)
	// HandleFrame turns one inbound frame into canonical events. Acks and
	// heartbeats yield no events and no error. A frame that is only partly
	// usable returns its valid events together with an error.
	HandleFrame(msg []byte) ([]event.Event, error)
	// Reset drops per-session state before a reconnect.
	Reset()
}

// Options configures a Manager. Zero durations fall back to package defaults
// where noted.
type Options struct {
	URL string

	// HeartbeatInterval + HeartbeatGrace is the liveness window; 0 disables it.
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	// PingInterval is the outbound ping period; 0 disables pings.
	PingInterval time.Duration
	// SubscribeDelay postpones the subscription requests after open.
	SubscribeDelay time.Duration
	// CloseTimeout bounds the wait for the close echo on Stop. Default 5s.
	CloseTimeout time.Duration
	// WriteTimeout is the deadline of each outbound write. Default 5s.
	WriteTimeout time.Duration

	Retry   RetryPolicy
	Dialer  Dialer
	Logger  *slog.Logger
	Metrics *infra.Metrics
	OnState domain.StateHook
}

type frame struct {
	gen  uint64
	data []byte
	pong bool
	err  error
}

type dialResult struct {
	conn Conn
	err  error
}

type commandKind int

const (
	cmdStop commandKind = iota
	cmdDestroy
	cmdSend
)

type command struct {
	kind  commandKind
	data  []byte
	reply chan error
}

// Manager drives one connector's session through the connection lifecycle.
// Frame handling, timers and reconnects run on a single loop goroutine, so
// the Protocol and the event handler are never entered concurrently.
type Manager struct {
	proto   Protocol
	opts    Options
	log     *slog.Logger
	metrics *infra.Metrics

	state atomic.Int32

	mu      sync.Mutex
	started bool

	errMu sync.Mutex
	err   error

	cmds    chan command
	inbound chan frame
	dialed  chan dialResult
	done    chan struct{}
	wg      sync.WaitGroup

	// Loop-owned.
	handler        domain.EventHandler
	conn           Conn
	gen            uint64
	session        string
	keepAlive      *KeepAlive
	retries        int
	backOff        backoff.BackOff
	subTimer       *time.Timer
	reconnectTimer *time.Timer
	closeTimer     *time.Timer
	dialCancel     context.CancelFunc
	stopReply      chan error
	exited         bool
}

// NewManager creates a Manager for proto.
func NewManager(proto Protocol, opts Options) *Manager {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.NewMetrics()
	}

	m := &Manager{
		proto:     proto,
		opts:      opts,
		log:       opts.Logger.With(slog.String("connector", proto.Name())),
		metrics:   opts.Metrics,
		cmds:      make(chan command),
		inbound:   make(chan frame, 64),
		dialed:    make(chan dialResult),
		done:      make(chan struct{}),
		keepAlive: NewKeepAlive(opts.HeartbeatInterval, opts.HeartbeatGrace, opts.PingInterval),
		backOff:   opts.Retry.NewBackOff(),
	}
	m.state.Store(int32(domain.StateDisconnected))
	return m
}

// Name returns the connector name.
func (m *Manager) Name() string { return m.proto.Name() }

// State returns the current lifecycle state.
func (m *Manager) State() domain.State { return domain.State(m.state.Load()) }

// Metrics returns the connector's counters.
func (m *Manager) Metrics() *infra.Metrics { return m.metrics }

// Done is closed once the session loop has terminated.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the terminal error, nil while running.
func (m *Manager) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Connect dials the exchange and returns once the transport is open. A failed
// initial dial is returned to the caller and leaves the Manager reusable.
func (m *Manager) Connect(ctx context.Context, onEvents domain.EventHandler) error {
	if onEvents == nil {
		return errors.New("connect: nil event handler")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return domain.ErrAlreadyConnected
	}

	m.handler = onEvents
	m.setState(domain.StateConnecting, nil)
	conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
	if err != nil {
		err = domain.NewNetworkError("dial", fmt.Errorf("%w: %s: %v", domain.ErrConnectionFailed, m.opts.URL, err))
		m.setState(domain.StateDisconnected, err)
		return err
	}

	m.started = true
	m.open(conn)
	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop unsubscribes, sends a close frame and waits for the close handshake,
// bounded by CloseTimeout and ctx. A pending reconnect is cancelled.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.isStarted() {
		return nil
	}

	reply := make(chan error, 1)
	select {
	case m.cmds <- command{kind: cmdStop, reply: reply}:
	case <-m.done:
		return nil
	case <-ctx.Done():
		m.Destroy()
		return ctx.Err()
	}

	select {
	case err := <-reply:
		<-m.done
		m.wg.Wait()
		return err
	case <-ctx.Done():
		m.Destroy()
		return ctx.Err()
	}
}

// Destroy closes the transport without a close handshake and cancels any
// pending reconnect. It must not be called from the event handler.
func (m *Manager) Destroy() {
	if !m.isStarted() {
		return
	}
	select {
	case m.cmds <- command{kind: cmdDestroy}:
	case <-m.done:
	}
	<-m.done
	m.wg.Wait()
}

// Send writes a text frame on the live session.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	if !m.isStarted() {
		return domain.ErrNotConnected
	}
	reply := make(chan error, 1)
	select {
	case m.cmds <- command{kind: cmdSend, data: data, reply: reply}:
	case <-m.done:
		return domain.ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Manager) run() {
	defer m.wg.Done()
	defer close(m.done)

	for !m.exited {
		select {
		case f := <-m.inbound:
			m.handleInbound(f)

		case <-m.keepAlive.Expired():
			m.metrics.RecordLivenessTimeout()
			m.fault(domain.NewNetworkError("keepalive",
				fmt.Errorf("%w: no frame for %s", domain.ErrLivenessTimeout, m.keepAlive.Timeout())))

		case <-m.keepAlive.PingDue():
			if m.State() != domain.StateStreaming {
				continue
			}
			// A failed ping does not fault the session; the watchdog does.
			if err := m.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.opts.WriteTimeout)); err != nil {
				m.log.Debug("ping failed", slog.Any("error", err))
			}

		case <-timerC(m.subTimer):
			m.subTimer = nil
			m.subscribe()

		case <-timerC(m.reconnectTimer):
			m.reconnectTimer = nil
			m.startDial()

		case res := <-m.dialed:
			if m.dialCancel != nil {
				m.dialCancel()
				m.dialCancel = nil
			}
			if res.err != nil {
				m.fault(domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, res.err)))
				continue
			}
			m.open(res.conn)

		case <-timerC(m.closeTimer):
			m.closeTimer = nil
			m.log.Warn("close handshake timed out", slog.Duration("timeout", m.opts.CloseTimeout))
			m.closeConn()
			m.finish(domain.ErrCloseTimeout)

		case cmd := <-m.cmds:
			m.handleCommand(cmd)
		}
	}
}

func (m *Manager) handleInbound(f frame) {
	if f.gen != m.gen || m.conn == nil {
		return
	}

	if m.State() == domain.StateClosing {
		if f.err != nil {
			m.closeConn()
			m.finish(nil)
		}
		return
	}

	if f.err != nil {
		m.fault(domain.NewNetworkError("read", f.err))
		return
	}

	m.keepAlive.Touch()
	if f.pong {
		return
	}
	m.handleFrame(f.data)
}

func (m *Manager) handleFrame(data []byte) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordDropped()
			m.log.Error("frame handler panicked", slog.Any("panic", r))
		}
		m.metrics.RecordFrame(time.Since(start).Nanoseconds())
	}()

	events, err := m.proto.HandleFrame(data)
	if err != nil {
		m.metrics.RecordDropped()
		m.log.Debug("frame dropped", slog.Any("error", err))
	}
	if len(events) > 0 {
		m.dispatch(events)
	}
}

// dispatch hands events to the consumer. Errors and panics stay here.
func (m *Manager) dispatch(events []event.Event) {
	m.metrics.RecordEvents(len(events))
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordHandlerError()
			m.log.Error("event handler panicked", slog.Any("panic", r))
		}
	}()
	if err := m.handler(events); err != nil {
		m.metrics.RecordHandlerError()
		m.log.Warn("event handler failed", slog.Any("error", err))
	}
}

func (m *Manager) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdSend:
		if !m.State().IsLive() {
			cmd.reply <- domain.ErrNotConnected
			return
		}
		cmd.reply <- m.write(cmd.data)

	case cmdDestroy:
		m.log.Info("destroying session")
		m.cancelPending()
		m.closeConn()
		if m.stopReply != nil {
			m.stopReply <- domain.ErrStopped
			m.stopReply = nil
		}
		m.finish(nil)

	case cmdStop:
		if m.stopReply != nil {
			// Already closing; the first Stop gets the outcome.
			cmd.reply <- nil
			return
		}
		m.cancelPending()
		if m.conn == nil {
			m.setState(domain.StateClosing, nil)
			cmd.reply <- nil
			m.finish(nil)
			return
		}
		m.gracefulClose(cmd.reply)
	}
}

func (m *Manager) gracefulClose(reply chan error) {
	m.setState(domain.StateClosing, nil)

	msgs, err := m.proto.UnsubscribeMessages()
	if err != nil {
		m.log.Warn("build unsubscribe failed", slog.Any("error", err))
	}
	for _, msg := range msgs {
		if err := m.write(msg); err != nil {
			m.log.Warn("unsubscribe failed", slog.Any("error", err))
			break
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := m.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(m.opts.WriteTimeout)); err != nil {
		m.log.Debug("close frame failed", slog.Any("error", err))
		m.closeConn()
		reply <- nil
		m.finish(nil)
		return
	}

	m.stopReply = reply
	m.closeTimer = time.NewTimer(m.opts.CloseTimeout)
}

// open adopts a freshly dialed transport.
func (m *Manager) open(conn Conn) {
	m.gen++
	m.conn = conn
	m.session = uuid.NewString()
	m.retries = 0
	m.backOff.Reset()
	m.metrics.IncrementConnections()
	m.setState(domain.StateOpen, nil)
	m.log.Info("session open", slog.String("session", m.session), slog.String("url", m.opts.URL))

	m.wg.Add(1)
	go m.readLoop(conn, m.gen)

	m.keepAlive.Start()
	if m.opts.SubscribeDelay > 0 {
		m.subTimer = time.NewTimer(m.opts.SubscribeDelay)
		return
	}
	m.subscribe()
}

func (m *Manager) subscribe() {
	m.setState(domain.StateSubscribing, nil)

	msgs, err := m.proto.SubscribeMessages()
	if err != nil {
		m.fault(domain.NewFatalNetworkError("subscribe", err))
		return
	}
	for _, msg := range msgs {
		if err := m.write(msg); err != nil {
			m.fault(domain.NewNetworkError("subscribe", err))
			return
		}
	}
	m.setState(domain.StateStreaming, nil)
}

// fault tears the session down and either schedules one reconnect or, when
// err is not retriable or the retry budget is spent, fails the connector.
func (m *Manager) fault(err error) {
	m.log.Warn("session faulted", slog.String("session", m.session), slog.Any("error", err))
	m.closeConn()
	m.setState(domain.StateFaulted, err)
	m.proto.Reset()

	if !domain.IsRetriable(err) {
		m.fail(fmt.Errorf("unrecoverable fault: %w", err))
		return
	}

	m.retries++
	if m.opts.Retry.Exhausted(m.retries) {
		m.fail(fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, m.opts.Retry.MaxAttempts, err))
		return
	}

	delay := m.backOff.NextBackOff()
	if delay == backoff.Stop || delay < 0 {
		delay = m.opts.Retry.Delay
	}
	m.metrics.RecordReconnect()
	m.setState(domain.StateDisconnected, nil)
	m.log.Info("reconnect scheduled", slog.Int("attempt", m.retries), slog.Duration("delay", delay))
	m.reconnectTimer = time.NewTimer(delay)
}

// fail moves the connector to its terminal Failed state.
func (m *Manager) fail(err error) {
	m.log.Error("giving up", slog.Any("error", err))
	m.metrics.SetFailed(true)
	m.setState(domain.StateFailed, err)
	m.setErr(err)
	m.exited = true
}

func (m *Manager) startDial() {
	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.setState(domain.StateConnecting, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn, err := m.opts.Dialer.Dial(ctx, m.opts.URL)
		select {
		case m.dialed <- dialResult{conn: conn, err: err}:
		case <-m.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	defer m.wg.Done()

	conn.SetPongHandler(func(string) error {
		select {
		case m.inbound <- frame{gen: gen, pong: true}:
		case <-m.done:
		}
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		select {
		case m.inbound <- frame{gen: gen, data: data, err: err}:
		case <-m.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) write(data []byte) error {
	if m.conn == nil {
		return domain.ErrNotConnected
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
		return err
	}
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

// cancelPending stops every timer and an in-flight dial.
func (m *Manager) cancelPending() {
	m.keepAlive.Stop()
	stopTimer(&m.subTimer)
	stopTimer(&m.reconnectTimer)
	stopTimer(&m.closeTimer)
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

// closeConn force-terminates the current transport, if any.
func (m *Manager) closeConn() {
	m.keepAlive.Stop()
	stopTimer(&m.subTimer)
	if m.conn == nil {
		return
	}
	m.conn.Close()
	m.conn = nil
	m.metrics.DecrementConnections()
}

// finish ends the loop after an owner-requested shutdown.
func (m *Manager) finish(closeErr error) {
	m.cancelPending()
	if m.stopReply != nil {
		m.stopReply <- closeErr
		m.stopReply = nil
	}
	m.setState(domain.StateDisconnected, closeErr)
	m.setErr(domain.ErrStopped)
	m.exited = true
}

func (m *Manager) setErr(err error) {
	m.errMu.Lock()
	m.err = err
	m.errMu.Unlock()
}

func (m *Manager) setState(to domain.State, err error) {
	from := domain.State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.log.Info("state transition", slog.String("from", from.String()), slog.String("to", to.String()))
	if m.opts.OnState != nil {
		m.opts.OnState(m.proto.Name(), from, to, err)
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
