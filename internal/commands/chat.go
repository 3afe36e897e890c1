package commands

import (
	"bufio"
	"chatline/internal/config"
	"chatline/internal/conversation"
	"chatline/internal/directory"
	"chatline/internal/history"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"chatline/internal/notify"
	"chatline/internal/readstate"
	"chatline/internal/remote"
	"chatline/internal/session"
	"chatline/internal/view"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const chatHelp = `commands: /switch <channel|@user>, /focus, /blur, /retry, /quit`

// ParseConversation reads "general" as a channel and "@bob" as a direct
// message between localID and bob.
func ParseConversation(arg, localID string) models.Conversation {
	if peer, ok := strings.CutPrefix(arg, "@"); ok {
		return models.DirectMessage{LocalUserID: localID, PeerUserID: peer}
	}
	return models.Channel{ID: arg}
}

// RunChat runs the interactive client: lines read from in are sent to the
// active conversation, slash commands drive it, and the rendered
// conversation is written to out after every change.
func RunChat(ctx context.Context, cfg *config.Config, initial string, in io.Reader, out io.Writer, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	out = &lockedWriter{w: out}

	client := remote.New(cfg.APIURL, cfg.Token, remote.WithLogger(log))
	if cfg.Token == "" {
		if _, err := client.IssueToken(ctx, cfg.UserID, cfg.UserSecret); err != nil {
			return err
		}
	}

	localID := cfg.UserID
	var markers map[string]int64
	profile, err := client.Profile(ctx)
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return err
	case err != nil:
		log.Warn().Err(err).Msg("failed to read profile, starting without read markers")
	default:
		localID = profile.ID
		markers = profile.Metadata.UI.LastRead
	}
	if localID == "" {
		return errors.New("cannot determine the local user id")
	}

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
	}

	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return err
	}

	ctrl, tracker := NewController(ctx, cfg, client, localID, markers, notifier, m, log)
	defer tracker.Close()
	defer ctrl.Close()

	if err := ctrl.Select(ctx, ParseConversation(initial, localID)); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, chatHelp)

	g, gCtx := errgroup.WithContext(ctx)

	if m != nil {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ctrl.Changes():
				model := ctrl.View(gCtx, time.Local, time.Now())
				_, _ = fmt.Fprintf(out, "\n# %s\n", model.Topic)
				if err := view.Text(out, model, time.Local); err != nil {
					return err
				}
			}
		}
	})

	// The scanner cannot be interrupted, so it feeds lines from outside the group.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(gCtx, ctrl, localID, line, out); quit {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// NewController wires a conversation controller to the platform behind
// client. Closing the returned tracker flushes pending read markers.
func NewController(
	ctx context.Context,
	cfg *config.Config,
	client *remote.Client,
	localID string,
	markers map[string]int64,
	notifier notify.Notifier,
	m *metrics.Metrics,
	log zerolog.Logger,
) (*conversation.Controller, *readstate.Tracker) {
	tracker := readstate.NewTracker(client, markers, log, m)

	sessCfg := session.DefaultConfig()
	sessCfg.BaseDelay = cfg.ReconnectBaseDelay
	sessCfg.MaxDelay = cfg.ReconnectMaxDelay
	sessCfg.MaxAttempts = cfg.ReconnectMaxAttempts
	dialer := session.NewGorillaDialer(cfg.WSURL)
	dialer.TokenSource = client.Token

	ctrl := conversation.New(conversation.Config{
		WorkspaceID: cfg.WorkspaceID,
		DMChannelID: cfg.DMChannelID,
		LocalUserID: localID,
		Token:       client.Token,
	}, conversation.Deps{
		NewSession: func() conversation.Session {
			return session.New(dialer, sessCfg, session.WithLogger(log), session.WithMetrics(m))
		},
		History:  history.NewLoader(client, cfg.HistoryPage, log, m),
		Tracker:  tracker,
		Names:    directory.NewResolver(ctx, client, cfg.WorkspaceID, cfg.PublisherTTL, log),
		Notifier: notifier,
		Metrics:  m,
		Log:      log,
	})
	return ctrl, tracker
}

// handleLine applies one line of input and reports whether the user quit.
func handleLine(ctx context.Context, ctrl *conversation.Controller, localID, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return true
	case "/focus":
		ctrl.Focus(true)
	case "/blur":
		ctrl.Focus(false)
	case "/retry":
		ctrl.Retry()
	case "/switch":
		if err := ctrl.Select(ctx, ParseConversation(strings.TrimSpace(arg), localID)); err != nil {
			_, _ = fmt.Fprintf(out, "cannot switch: %v\n", err)
		}
	case "/help":
		_, _ = fmt.Fprintln(out, chatHelp)
	default:
		if err := ctrl.Send(line); err != nil {
			_, _ = fmt.Fprintf(out, "not sent: %v\n", err)
		}
	}
	return false
}

func newNotifier(cfg *config.Config, log zerolog.Logger) (notify.Notifier, error) {
	if cfg.PushSubscription == "" || cfg.VAPIDPrivateKey == "" {
		return notify.NewLog(log), nil
	}
	return notify.NewWebPush(notify.WebPushConfig{
		Subscriber:      cfg.VAPIDSubject,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscription:    cfg.PushSubscription,
	}, http.DefaultClient)
}

// lockedWriter serializes writes from the render loop and the input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
