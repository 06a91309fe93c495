package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	rtv1 "devmatch/contracts/realtime/v1"
)

// DefaultAckTimeout bounds how long a persisted send keeps the compose box
// locked while waiting for messageDelivered or messageError.
const DefaultAckTimeout = 10 * time.Second

// Sender runs the optimistic-send protocol for one conversation:
// guard → local insert → persist → emit → reconcile, or roll back on persist failure.
type Sender struct {
	api      API
	channel  *Channel
	store    *Store
	composer *Composer
	log      *slog.Logger
	now      func() time.Time

	local         LocalUser
	counterpartID string
	ackTimeout    time.Duration
}

// Send sends the current draft.
//
// Guard rejections (ErrEmptyMessage, ErrSendInFlight, ErrNotConnected) leave
// every piece of state untouched. A persist failure removes the optimistic
// entry, restores the draft and returns the wrapped error.
func (s *Sender) Send(ctx context.Context) error {
	text, attempt, err := s.composer.begin(s.channel.Connected)
	if err != nil {
		return err
	}

	tempID := newTempID()
	s.store.Append(Message{
		ID:              tempID,
		TempID:          tempID,
		SenderID:        s.local.ID,
		SenderFirstName: s.local.FirstName,
		SenderLastName:  s.local.LastName,
		SenderPhotoURL:  s.local.PhotoURL,
		Text:            text,
		Timestamp:       s.now(),
		IsPending:       true,
	})

	chat, err := s.api.SendMessage(ctx, s.counterpartID, text)
	if err != nil {
		s.store.RemoveByTempID(tempID)
		s.composer.restoreDraft(text)
		s.composer.finishSend()
		s.log.Error("chat.send.persist.fail", "counterpart_id", s.counterpartID, "temp_id", tempID, "err", err)
		return fmt.Errorf("persist message: %w", err)
	}

	// The server id goes onto the entry before the announcement so an
	// acknowledgement racing back on the read goroutine finds it.
	serverID := tempID
	if last, ok := chat.Last(); ok && last.ID != "" {
		serverID = last.ID
	}
	s.store.UpsertByTempOrID(tempID, Patch{ID: ptr(serverID)})

	// The message is durable from here on; a failed announcement only delays
	// the counterpart until their next history load.
	emitErr := s.channel.Emit(ctx, rtv1.TypeSendMessage, rtv1.SendMessagePayload{
		SenderID:     s.local.ID,
		TargetUserID: s.counterpartID,
		Text:         text,
	})
	if emitErr != nil {
		s.log.Warn("chat.send.emit.fail", "counterpart_id", s.counterpartID, "temp_id", tempID, "err", emitErr)
	}

	s.store.UpsertByTempOrID(tempID, Patch{
		IsPending:   ptr(false),
		IsDelivered: ptr(true),
	})

	if emitErr != nil {
		// No acknowledgement can arrive for an announcement that never left.
		s.composer.finishSend()
	} else {
		s.composer.awaitAck(attempt, s.ackTimeout)
	}

	s.log.Debug("chat.send.ok", "temp_id", tempID, "message_id", serverID)
	return nil
}
