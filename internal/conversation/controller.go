// Package conversation owns the active conversation: its session, message
// buffer and read state. Switching conversations discards everything bound
// to the previous one.
package conversation

import (
	"chatline/internal/chat"
	"chatline/internal/content"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"chatline/internal/notify"
	"chatline/internal/readstate"
	"chatline/internal/session"
	"chatline/internal/topic"
	"chatline/internal/view"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const notifyTimeout = 10 * time.Second

// Session is the live transport of one conversation. *session.Session implements it.
type Session interface {
	Connect(target session.Target)
	Disconnect()
	Reconnect()
	Send(msg models.ChatMessage) error
	Subscribe(l session.Listener) func()
}

type SessionFactory func() Session

type HistoryLoader interface {
	Load(ctx context.Context, target session.Target) ([]models.ChatMessage, error)
}

type NameResolver interface {
	Name(ctx context.Context, publisher string) string
}

type Config struct {
	WorkspaceID string
	// DMChannelID is the workspace channel carrying every direct message.
	DMChannelID string
	LocalUserID string
	Token       func() string
}

type Deps struct {
	NewSession SessionFactory
	History    HistoryLoader
	Tracker    *readstate.Tracker
	// Names and Notifier are optional.
	Names    NameResolver
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Conversation models.Conversation
	Topic        string
	Messages     []models.ChatMessage
	Divider      int
	Unread       int
	State        models.ConnectionState
	Attempt      int
	Loading      bool
	HistoryErr   error
}

type Controller struct {
	cfg  Config
	deps Deps
	log  zerolog.Logger

	buffer  *chat.Buffer
	tracker *readstate.Tracker

	mu          sync.Mutex
	gen         uint64
	conv        models.Conversation
	target      session.Target
	sess        Session
	unsubscribe func()
	cancelLoad  context.CancelFunc
	loading     bool
	historyErr  error
	state       models.ConnectionState
	attempt     int

	changes chan struct{}
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	return &Controller{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.With().Str("component", "conversation").Logger(),
		buffer:  chat.New(""),
		tracker: deps.Tracker,
		state:   models.StateIdle,
		changes: make(chan struct{}, 1),
	}
}

// Changes signals after any visible state change. Signals coalesce.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// Select makes conv the active conversation. The previous session is
// discarded and the list is cleared at once; history is then fetched and
// the new session opens once the snapshot is in place, so live messages
// never precede it. Results of a superseded Select are dropped.
func (c *Controller) Select(ctx context.Context, conv models.Conversation) error {
	t, err := topic.Resolve(conv)
	if err != nil {
		return err
	}
	target := c.targetFor(conv, t)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.detachLocked()

	c.conv = conv
	c.target = target
	c.buffer.Reset(t, nil)
	c.tracker.SetConversation(t)
	c.loading = true
	c.historyErr = nil
	c.state = models.StateIdle
	c.attempt = 0

	loadCtx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	c.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	c.log.Info().Str("topic", t).Str("channel_id", target.ChannelID).Msg("conversation selected")
	c.signal()

	go c.load(loadCtx, gen, target)
	return nil
}

func (c *Controller) targetFor(conv models.Conversation, t string) session.Target {
	channelID := t
	if _, ok := conv.(models.DirectMessage); ok {
		channelID = c.cfg.DMChannelID
	}
	return session.Target{
		WorkspaceID: c.cfg.WorkspaceID,
		ChannelID:   channelID,
		Topic:       t,
		Token:       c.cfg.Token(),
	}
}

func (c *Controller) load(ctx context.Context, gen uint64, target session.Target) {
	msgs, err := c.deps.History.Load(ctx, target)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		c.log.Debug().Str("topic", target.Topic).Msg("discarding superseded history")
		return
	}
	c.cancelLoad = nil
	c.loading = false
	if err != nil {
		c.historyErr = err
		msgs = nil
	}
	c.buffer.Reset(target.Topic, msgs)
	c.tracker.Observe(c.buffer.Messages())

	sess := c.deps.NewSession()
	c.sess = sess
	c.unsubscribe = sess.Subscribe(func(ev session.Event) {
		c.onEvent(gen, ev)
	})
	c.mu.Unlock()
	c.signal()

	sess.Connect(target)

	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		sess.Disconnect()
	}
}

func (c *Controller) onEvent(gen uint64, ev session.Event) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	if ev.Message == nil {
		c.state = ev.State
		c.attempt = ev.Attempt
		c.mu.Unlock()
		c.signal()
		return
	}

	msg := *ev.Message
	if !c.buffer.Ingest(msg) {
		c.mu.Unlock()
		return
	}
	c.tracker.Observe(c.buffer.Messages())
	alert := !c.tracker.Focused() && msg.Publisher != c.cfg.LocalUserID
	c.mu.Unlock()

	c.signal()
	if alert && c.deps.Notifier != nil {
		go c.notify(msg)
	}
}

func (c *Controller) notify(msg models.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	sender := msg.Publisher
	if c.deps.Names != nil {
		sender = c.deps.Names.Name(ctx, msg.Publisher)
	}
	n := notify.Build(msg, content.PlainText(sender))
	n.Body = content.PlainText(n.Body)

	if err := c.deps.Notifier.Notify(ctx, n); err != nil {
		c.log.Warn().Err(err).Str("topic", msg.Topic).Msg("notification failed")
		c.deps.Metrics.Notification("failed")
		return
	}
	c.deps.Metrics.Notification("sent")
}

// Send publishes text to the active conversation. The message shows up in
// the list when the platform echoes it back.
func (c *Controller) Send(text string) error {
	text, err := content.PrepareMessage(text)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sess := c.sess
	t := c.target.Topic
	c.mu.Unlock()

	if sess == nil {
		return fmt.Errorf("%w: no active session", models.ErrNotConnected)
	}
	return sess.Send(models.ChatMessage{Topic: t, Publisher: c.cfg.LocalUserID, Value: text})
}

// Focus records a window focus transition. Regaining focus marks the list read.
func (c *Controller) Focus(focused bool) {
	c.mu.Lock()
	c.tracker.SetFocused(focused)
	if focused {
		c.tracker.Observe(c.buffer.Messages())
	}
	c.mu.Unlock()
	c.signal()
}

// Retry reconnects the active session with a fresh retry budget.
func (c *Controller) Retry() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.Reconnect()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.buffer.Messages()
	return Snapshot{
		Conversation: c.conv,
		Topic:        c.target.Topic,
		Messages:     msgs,
		Divider:      c.tracker.DividerIndex(msgs),
		Unread:       c.tracker.Unread(msgs),
		State:        c.state,
		Attempt:      c.attempt,
		Loading:      c.loading,
		HistoryErr:   c.historyErr,
	}
}

// View builds the render model of the active conversation.
func (c *Controller) View(ctx context.Context, loc *time.Location, now time.Time) view.Model {
	snap := c.Snapshot()

	names := make(map[string]string)
	if c.deps.Names != nil {
		for _, m := range snap.Messages {
			if _, ok := names[m.Publisher]; !ok {
				names[m.Publisher] = c.deps.Names.Name(ctx, m.Publisher)
			}
		}
	}

	status := view.Status{State: snap.State, Attempt: snap.Attempt, Unread: snap.Unread}
	if snap.HistoryErr != nil {
		status.HistoryError = snap.HistoryErr.Error()
	}
	return view.Model{
		Topic: snap.Topic,
		Sections: view.Build(view.Input{
			Messages: snap.Messages,
			Divider:  snap.Divider,
			Names:    names,
			LocalID:  c.cfg.LocalUserID,
			Loc:      loc,
			Now:      now,
		}),
		Status: status,
	}
}

// Close discards the active conversation's session.
func (c *Controller) Close() {
	c.mu.Lock()
	c.gen++
	old := c.detachLocked()
	c.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
}

// detachLocked cancels pending work and returns the session to disconnect
// once the lock is released.
func (c *Controller) detachLocked() Session {
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	old := c.sess
	c.sess = nil
	return old
}

func (c *Controller) signal() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
