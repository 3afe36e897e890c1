package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

type wsConnection interface {
	Close() error
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

type messageHub interface {
	Join(workspaceID, channelID, connID string) chan []byte
	Leave(workspaceID, channelID, connID string)
	Dispatch(workspaceID, channelID, clientID string, frame []byte) error
}

// Subscription identifies who is connected and to which channel.
type Subscription struct {
	ConnID      string
	ClientID    string
	WorkspaceID string
	ChannelID   string
}

// Connection pumps frames between one socket and the hub.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	sub        Subscription
	limiter    *rate.Limiter
	log        zerolog.Logger
	fromClient chan []byte
	fromServer chan []byte
	errorCh    chan error
}

// NewConnection joins the hub. Inbound frames above perSecond are dropped.
func NewConnection(
	hub messageHub,
	ws wsConnection,
	sub Subscription,
	perSecond float64,
	log zerolog.Logger,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		sub:        sub,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond))),
		log:        log.With().Str("conn", sub.ConnID).Str("client", sub.ClientID).Logger(),
		fromClient: make(chan []byte),
		fromServer: hub.Join(sub.WorkspaceID, sub.ChannelID, sub.ConnID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Leave(c.sub.WorkspaceID, c.sub.ChannelID, c.sub.ConnID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if !c.limiter.Allow() {
			c.log.Warn().Msg("inbound rate exceeded, dropping frame")
			continue
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case frame := <-c.fromClient:
			if err := c.hub.Dispatch(c.sub.WorkspaceID, c.sub.ChannelID, c.sub.ClientID, frame); err != nil {
				// A bad frame does not end the subscription.
				c.log.Warn().Err(err).Msg("frame rejected")
			}
		case frame, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
