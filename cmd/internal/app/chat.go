package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"devmatch/cmd/internal/api"
	"devmatch/cmd/internal/chat"
	"devmatch/cmd/internal/realtime"
	apiv1 "devmatch/contracts/api/v1"

	"golang.org/x/sync/errgroup"
)

// ChatOptions configures one terminal chat session.
type ChatOptions struct {
	CounterpartID string
	// Login, when set, logs in as this user before opening the conversation.
	Login *apiv1.User

	In  io.Reader
	Out io.Writer
}

// RunChat opens the conversation with opts.CounterpartID and runs the
// read-eval-print loop until ctx is done, input ends or "/quit".
func RunChat(ctx context.Context, cfg ChatConfig, opts ChatOptions, log Logger) error {
	if log == nil {
		log = NewLoggerTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	}
	peer := strings.TrimSpace(opts.CounterpartID)
	if peer == "" {
		return chat.ErrMissingCounterpart
	}

	client, local, err := resolveLocalUser(ctx, cfg, opts.Login, log)
	if err != nil {
		return err
	}
	if local.ID == peer {
		return errors.New("cannot chat with yourself")
	}

	mgr := realtime.NewManager(realtime.Options{
		URL:          cfg.WSURL,
		SessionToken: client.SessionToken(),
		Origin:       cfg.Origin,
		Logger:       log,
	})
	defer func() { _ = mgr.Close() }()

	conv, err := chat.NewConversation(chat.Config{
		LocalUser:     chat.LocalUserFromWire(local),
		CounterpartID: peer,
		API:           client,
		Connector:     managerConnector(mgr),
		Logger:        log,
		AckTimeout:    cfg.AckTimeout,
	})
	if err != nil {
		return err
	}
	defer conv.Close()

	out := newTranscript(opts.Out, chat.NewFormatter(cfg.Locale), conv.LocalUser().ID, nil)

	if err := conv.Open(ctx); err != nil {
		// History is still shown; sends stay disabled until /reload reconnects.
		log.Warn("chat.open.realtime.fail", "counterpart_id", conv.CounterpartID(), "err", err)
		out.printf("realtime unavailable: %v", err)
	}
	out.printf("== [%s] %s ==  (/reload, /quit)", conv.Initial(), conv.Title())
	out.render(conv.State(), conv.Messages())

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan string)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-conv.Updates():
				out.render(conv.State(), conv.Messages())
			}
		}
	})

	// The scanner goroutine cannot be interrupted; it exits with the process
	// or at EOF.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(opts.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := handleChatLine(gctx, conv, out, line); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

var errQuit = errors.New("quit")

func handleChatLine(ctx context.Context, conv *chat.Conversation, out *transcript, line string) error {
	switch strings.TrimSpace(line) {
	case "":
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/reload":
		// Open refetches history too, and rebinds a dropped channel.
		reload := conv.Reload
		if conv.State() == chat.StateDisconnected {
			reload = conv.Open
		}
		if err := reload(ctx); err != nil {
			out.printf("reload failed: %v", err)
		}
		return nil
	}

	conv.SetDraft(line)
	err := conv.Send(ctx)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotConnected):
		out.printf("not connected; try /reload")
	case errors.Is(err, chat.ErrSendInFlight):
		out.printf("still sending the previous message")
	case errors.Is(err, chat.ErrEmptyMessage):
	default:
		out.printf("send failed: %v", err)
	}
	return nil
}

// managerConnector adapts the shared realtime manager to the chat core.
func managerConnector(m *realtime.Manager) chat.Connector {
	return chat.ConnectorFunc(func(ctx context.Context) (chat.Lease, error) {
		l, err := m.Acquire(ctx)
		if err != nil {
			// Avoid handing back a typed nil inside the interface.
			return nil, err
		}
		return l, nil
	})
}

// resolveLocalUser returns an API client carrying a session plus the user it
// belongs to. An explicit login wins; otherwise the stored user file and
// session are used, confirmed against GET /profile.
func resolveLocalUser(ctx context.Context, cfg ChatConfig, login *apiv1.User, log Logger) (*api.Client, apiv1.User, error) {
	uf, err := loadUserFile(cfg.UserFile)
	if err != nil {
		return nil, apiv1.User{}, err
	}

	tok := cfg.SessionToken
	if tok == "" {
		tok = uf.SessionToken
	}

	client, err := api.New(api.Options{BaseURL: cfg.APIURL, SessionToken: tok, Logger: log})
	if err != nil {
		return nil, apiv1.User{}, err
	}

	if login != nil {
		u, err := client.Login(ctx, *login)
		if err != nil {
			return nil, apiv1.User{}, fmt.Errorf("login: %w", err)
		}
		uf = userFile{User: u, SessionToken: client.SessionToken()}
		if err := saveUserFile(cfg.UserFile, uf); err != nil {
			log.Warn("chat.userfile.save.fail", "path", cfg.UserFile, "err", err)
		}
		return client, u, nil
	}

	if client.SessionToken() == "" {
		return nil, apiv1.User{}, errors.New("not logged in: pass --login or set DEVMATCH_SESSION_TOKEN")
	}

	u, err := client.GetProfile(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			return nil, apiv1.User{}, errors.New("session expired: log in again with --login")
		}
		return nil, apiv1.User{}, fmt.Errorf("profile: %w", err)
	}
	if u.ID != uf.User.ID || tok != uf.SessionToken {
		uf = userFile{User: u, SessionToken: client.SessionToken()}
		if err := saveUserFile(cfg.UserFile, uf); err != nil {
			log.Warn("chat.userfile.save.fail", "path", cfg.UserFile, "err", err)
		}
	}
	return client, u, nil
}
