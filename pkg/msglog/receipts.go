package msglog

import (
	"context"
	"encoding/json"
	"time"

	"campuschat/pkg/apperr"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
)

// Delivery and read receipts are idempotent set insertions; the sets only
// ever grow. Marking read also records delivery at the same instant when
// no delivery entry exists yet.

// MarkDelivered records that the message reached userID's device.
func (s *Service) MarkDelivered(ctx context.Context, roomID, msgID, userID string) error {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.IsParticipant(userID) {
		return apperr.Forbidden("not a participant of this room")
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return err
	}
	if models.HasReceipt(m.DeliveredTo, userID) {
		return nil
	}
	m.DeliveredTo = append(m.DeliveredTo, models.Receipt{UserID: userID, TS: time.Now().UTC().UnixNano()})
	return s.commitQuiet(m)
}

// MarkRead records that userID saw the message, recording delivery in the
// same write when absent.
func (s *Service) MarkRead(ctx context.Context, roomID, msgID, userID string) error {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.IsParticipant(userID) {
		return apperr.Forbidden("not a participant of this room")
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return err
	}
	if !markRead(m, userID) {
		return nil
	}
	if err := s.commitQuiet(m); err != nil {
		return err
	}
	s.publishRead(roomID, userID)
	return nil
}

// markRead inserts read (and delivery, if missing) receipts, reporting
// whether anything changed.
func markRead(m *models.Message, userID string) bool {
	if models.HasReceipt(m.ReadBy, userID) {
		return false
	}
	now := time.Now().UTC().UnixNano()
	if !models.HasReceipt(m.DeliveredTo, userID) {
		m.DeliveredTo = append(m.DeliveredTo, models.Receipt{UserID: userID, TS: now})
	}
	m.ReadBy = append(m.ReadBy, models.Receipt{UserID: userID, TS: now})
	return true
}

// MarkRoomRead marks the given messages read, or, when no explicit ids
// are passed, every message in the room not authored by the actor and not
// yet read by them. Idempotent: a second call changes nothing.
func (s *Service) MarkRoomRead(ctx context.Context, roomID, actor string, explicitIDs []string) (int, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !r.IsParticipant(actor) {
		return 0, apperr.Forbidden("not a participant of this room")
	}

	changed := 0
	if len(explicitIDs) > 0 {
		for _, id := range explicitIDs {
			m, err := s.loadMessage(roomID, id)
			if err != nil {
				return changed, err
			}
			if markRead(m, actor) {
				if err := s.commitQuiet(m); err != nil {
					return changed, err
				}
				changed++
			}
		}
	} else {
		var pending []models.Message
		err := store.ListMessages(roomID, func(data []byte) bool {
			var m models.Message
			if err := json.Unmarshal(data, &m); err != nil {
				return true
			}
			if m.Sender == actor || models.HasReceipt(m.ReadBy, actor) {
				return true
			}
			pending = append(pending, m)
			return true
		})
		if err != nil {
			return 0, apperr.Internal(err)
		}
		for i := range pending {
			m := pending[i]
			if markRead(&m, actor) {
				if err := s.commitQuiet(&m); err != nil {
					return changed, err
				}
				changed++
			}
		}
	}

	if changed > 0 {
		s.publishRead(roomID, actor)
	}
	return changed, nil
}

// UnreadCount counts messages the user has not read: not their own, not
// globally deleted, not hidden for them.
func (s *Service) UnreadCount(ctx context.Context, roomID, userID string) (int, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !r.IsParticipant(userID) {
		return 0, apperr.Forbidden("not a participant of this room")
	}
	count := 0
	err = store.ListMessages(roomID, func(data []byte) bool {
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return true
		}
		if m.Sender == userID || m.Deleted || m.HiddenFor(userID) {
			return true
		}
		if !models.HasReceipt(m.ReadBy, userID) {
			count++
		}
		return true
	})
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return count, nil
}

func (s *Service) publishRead(roomID, userID string) {
	payload, _ := json.Marshal(models.MessagesReadPayload{UserID: userID})
	s.pub.Publish(models.Event{Type: models.EventMessagesRead, Room: roomID, Payload: payload})
}
