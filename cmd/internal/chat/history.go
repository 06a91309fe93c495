package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apiv1 "devmatch/contracts/api/v1"

	"golang.org/x/sync/errgroup"
)

// HistorySink receives the History Loader's results as each fetch resolves.
type HistorySink interface {
	HistoryLoaded(msgs []Message)
	HeaderResolved(h Header)
}

// HistoryLoader fetches persisted history and counterpart profile.
type HistoryLoader struct {
	api API
	log *slog.Logger
	now func() time.Time
}

// NewHistoryLoader constructs a loader. now may be nil.
func NewHistoryLoader(api API, log *slog.Logger, now func() time.Time) *HistoryLoader {
	if log == nil {
		log = discardLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &HistoryLoader{api: api, log: log, now: now}
}

// Load issues the history and profile fetches concurrently. Each result is
// delivered to sink as soon as its own fetch resolves; a failure of one never
// blocks the other. Failures are logged and the first one is returned.
func (l *HistoryLoader) Load(ctx context.Context, localUserID, counterpartID string, sink HistorySink) error {
	var g errgroup.Group

	g.Go(func() error {
		chat, err := l.api.GetChat(ctx, counterpartID)
		if err != nil {
			l.log.Error("chat.history.fail", "counterpart_id", counterpartID, "err", err)
			return fmt.Errorf("fetch history: %w", err)
		}

		sink.HistoryLoaded(l.normalize(chat))

		if p, ok := participantOf(chat.Participants, localUserID); ok {
			sink.HeaderResolved(Header{Counterpart: counterpartFromWire(p), Source: HeaderParticipants})
		}
		return nil
	})

	g.Go(func() error {
		u, err := l.api.GetUser(ctx, counterpartID)
		if err != nil {
			l.log.Error("chat.profile.fail", "counterpart_id", counterpartID, "err", err)
			return fmt.Errorf("fetch profile: %w", err)
		}
		sink.HeaderResolved(Header{Counterpart: counterpartFromWire(u), Source: HeaderProfile})
		return nil
	})

	return g.Wait()
}

func (l *HistoryLoader) normalize(chat apiv1.Chat) []Message {
	now := l.now()
	out := make([]Message, 0, len(chat.Messages))
	for _, rec := range chat.Messages {
		out = append(out, fromWire(rec, now))
	}
	return Dedupe(out)
}

func participantOf(ps []apiv1.User, localUserID string) (apiv1.User, bool) {
	for _, p := range ps {
		if p.ID != "" && p.ID != localUserID {
			return p, true
		}
	}
	return apiv1.User{}, false
}
