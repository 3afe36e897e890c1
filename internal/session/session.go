package session

import (
	"chatline/internal/envelope"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ManualCloseCode marks an intentional close; the session never reconnects after it.
const ManualCloseCode = websocket.CloseNormalClosure

// Target binds a session to one conversation on the transport.
type Target struct {
	WorkspaceID string
	// ChannelID addresses the socket; direct messages share one channel.
	ChannelID string
	// Topic filters inbound records.
	Topic string
	Token string
}

// Conn is the transport handle. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// Event is delivered to listeners in the order the session produced it.
// Exactly one of Message or State is meaningful.
type Event struct {
	Message *models.ChatMessage
	State   models.ConnectionState
	Attempt int
	Delay   time.Duration
	Err     error
}

type Listener func(Event)

type Config struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  5,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

type stopper interface {
	Stop() bool
}

type Option func(*Session)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session owns at most one live transport handle for the bound conversation.
type Session struct {
	id        string
	cfg       Config
	dialer    Dialer
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper

	mu         sync.Mutex
	target     Target
	bound      bool
	state      models.ConnectionState
	attempt    int
	gen        uint64
	conn       Conn
	cancelDial context.CancelFunc
	timer      stopper
	backoff    *backoff.ExponentialBackOff

	listeners map[uint64]Listener
	nextSub   uint64
	queue     []Event
	draining  bool

	writeMu sync.Mutex
}

func New(dialer Dialer, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		dialer:    dialer,
		log:       zerolog.Nop(),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		state:     models.StateIdle,
		backoff:   NewBackoff(cfg),
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "session").Str("session_id", s.id).Logger()
	return s
}

// NewBackoff returns the reconnect schedule: BaseDelay doubling per attempt, capped at MaxDelay.
func NewBackoff(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Subscribe registers l and returns a function removing it.
func (s *Session) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Connect binds the session to target and opens the transport. A session
// bound elsewhere is torn down first. Calling it again for the same target
// while a connection is open or in progress does nothing.
func (s *Session) Connect(target Target) {
	s.mu.Lock()
	if s.bound && s.target == target {
		switch s.state {
		case models.StateOpen, models.StateConnecting, models.StateReconnecting:
			s.mu.Unlock()
			return
		}
	}
	if s.bound {
		s.teardownLocked()
	}

	s.target = target
	s.bound = true
	s.attempt = 0
	s.backoff.Reset()
	s.log.Info().Str("workspace_id", target.WorkspaceID).Str("channel_id", target.ChannelID).Str("topic", target.Topic).Msg("connecting")
	s.dialLocked()
	s.mu.Unlock()
	s.flush()
}

// Reconnect drops the current transport and starts over with a fresh retry budget.
func (s *Session) Reconnect() {
	s.mu.Lock()
	if !s.bound {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.attempt = 0
	s.backoff.Reset()
	s.dialLocked()
	s.mu.Unlock()
	s.flush()
}

// Disconnect cancels any scheduled reconnect and closes the transport with
// the manual close code.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.bound {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.bound = false
	if s.state != models.StateClosed {
		s.setStateLocked(Event{State: models.StateClosed})
	}
	s.mu.Unlock()
	s.flush()
}

// Send publishes msg on the open transport. Outside the Open state it
// returns ErrNotConnected and sends nothing. Delivery is the transport's job.
func (s *Session) Send(msg models.ChatMessage) error {
	s.mu.Lock()
	if s.state != models.StateOpen || s.conn == nil {
		state := s.state
		s.mu.Unlock()
		s.log.Warn().Str("state", string(state)).Msg("send while not connected")
		return fmt.Errorf("%w: session is %s", models.ErrNotConnected, state)
	}
	conn := s.conn
	if msg.Topic == "" {
		msg.Topic = s.target.Topic
	}
	s.mu.Unlock()

	data, err := envelope.Encode(msg, s.now())
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Warn().Err(err).Msg("send failed")
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (s *Session) dialLocked() {
	s.gen++
	gen := s.gen
	target := s.target

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	s.cancelDial = cancel
	s.setStateLocked(Event{State: models.StateConnecting, Attempt: s.attempt})

	go s.dial(ctx, cancel, gen, target)
}

func (s *Session) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, target Target) {
	conn, err := s.dialer.Dial(ctx, target)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.cancelDial = nil

	if err != nil {
		s.log.Warn().Err(err).Int("attempt", s.attempt).Msg("dial failed")
		s.handleFailureLocked(err)
		s.mu.Unlock()
		s.flush()
		return
	}

	s.conn = conn
	s.attempt = 0
	s.backoff.Reset()
	s.setStateLocked(Event{State: models.StateOpen})
	s.log.Info().Msg("connected")
	go s.readLoop(gen, conn)
	s.mu.Unlock()
	s.flush()
}

func (s *Session) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(gen, err)
			return
		}
		s.onFrame(gen, data)
	}
}

func (s *Session) onFrame(gen uint64, data []byte) {
	s.metrics.FrameReceived()

	res, err := envelope.Decode(data)
	if err != nil {
		s.log.Debug().Err(err).Int("size", len(data)).Msg("dropping malformed frame")
		s.metrics.RecordsDropped("malformed", 1)
		return
	}
	if res.Dropped > 0 {
		s.log.Debug().Int("dropped", res.Dropped).Msg("dropping incomplete records")
		s.metrics.RecordsDropped("incomplete", res.Dropped)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	filtered := 0
	for _, m := range res.Messages {
		if m.Topic != s.target.Topic {
			filtered++
			continue
		}
		m := m
		s.queue = append(s.queue, Event{Message: &m})
	}
	s.mu.Unlock()

	s.metrics.RecordsDropped("topic", filtered)
	s.flush()
}

func (s *Session) handleClose(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == ManualCloseCode {
		s.gen++
		s.bound = false
		s.log.Info().Str("reason", closeErr.Text).Msg("closed by peer")
		s.setStateLocked(Event{State: models.StateClosed})
		s.mu.Unlock()
		s.flush()
		return
	}

	s.log.Warn().Err(err).Msg("connection lost")
	s.handleFailureLocked(err)
	s.mu.Unlock()
	s.flush()
}

// handleFailureLocked schedules the next attempt or gives up once the
// retry budget is spent.
func (s *Session) handleFailureLocked(err error) {
	if s.attempt >= s.cfg.MaxAttempts {
		s.gen++
		s.log.Error().Err(err).Int("attempts", s.attempt).Msg("giving up reconnecting")
		s.metrics.SessionFailed()
		s.setStateLocked(Event{State: models.StateFailed, Attempt: s.attempt, Err: err})
		return
	}

	delay := s.backoff.NextBackOff()
	if delay > s.cfg.MaxDelay || delay == backoff.Stop {
		delay = s.cfg.MaxDelay
	}
	s.attempt++
	s.gen++
	gen := s.gen
	s.timer = s.afterFunc(delay, func() { s.fireReconnect(gen) })

	s.log.Info().Int("attempt", s.attempt).Int("max_attempts", s.cfg.MaxAttempts).Dur("delay", delay).Msg("reconnect scheduled")
	s.metrics.ReconnectScheduled()
	s.setStateLocked(Event{State: models.StateReconnecting, Attempt: s.attempt, Delay: delay, Err: err})
}

func (s *Session) fireReconnect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != models.StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.dialLocked()
	s.mu.Unlock()
	s.flush()
}

// teardownLocked invalidates every pending callback and releases the transport.
func (s *Session) teardownLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	if s.conn != nil {
		s.closeManual(s.conn)
		s.conn = nil
	}
}

func (s *Session) closeManual(conn Conn) {
	msg := websocket.FormatCloseMessage(ManualCloseCode, "manual disconnect")
	if err := conn.WriteControl(websocket.CloseMessage, msg, s.now().Add(s.cfg.WriteTimeout)); err != nil {
		s.log.Debug().Err(err).Msg("close frame not sent")
	}
	if err := conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("error closing transport")
	}
}

func (s *Session) setStateLocked(ev Event) {
	s.state = ev.State
	s.queue = append(s.queue, ev)
}

// flush delivers queued events outside the lock. Only one goroutine drains
// at a time, so listeners observe events in production order and may call
// back into the session.
func (s *Session) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		events := s.queue
		s.queue = nil
		listeners := make([]Listener, 0, len(s.listeners))
		for i := uint64(0); i < s.nextSub; i++ {
			if l, ok := s.listeners[i]; ok {
				listeners = append(listeners, l)
			}
		}
		s.mu.Unlock()

		for _, ev := range events {
			for _, l := range listeners {
				l(ev)
			}
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}
