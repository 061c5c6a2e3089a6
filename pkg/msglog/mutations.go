package msglog

import (
	"context"
	"encoding/json"
	"time"

	"campuschat/pkg/apperr"
	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
	"campuschat/pkg/utils"
)

// Mutations operate on individual log entries in place. The log is never
// reordered; concurrent mutations of the same entry resolve last-write-
// wins under the per-room lock, with the losing write archived in the
// version trail.

// Edit replaces a message's content. Only the sender may edit, and only
// while the room allows edits.
func (s *Service) Edit(ctx context.Context, roomID, actor, msgID, content string) (*models.Message, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return nil, err
	}
	if m.Sender != actor {
		return nil, apperr.Forbidden("only the sender may edit a message")
	}
	if !r.Settings.AllowEditMessages {
		return nil, apperr.Forbidden("editing is disabled in this room")
	}
	if m.Deleted {
		return nil, apperr.Forbidden("cannot edit a deleted message")
	}
	if content == "" {
		return nil, apperr.Validation("edited content must not be empty")
	}

	prev := *m
	m.Content = content
	m.EditedTS = time.Now().UTC().UnixNano()
	if err := s.commit(&prev, m); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(models.MessageEditedPayload{
		MessageID: m.ID, Content: m.Content, EditedTS: m.EditedTS,
	})
	s.pub.Publish(models.Event{Type: models.EventMessageEdited, Room: roomID, Payload: payload})
	return m, nil
}

// DeleteForEveryone irreversibly tombstones a message: every viewer sees
// the fixed replacement content from then on. Only the sender may do
// this, and only while the room allows deletes.
func (s *Service) DeleteForEveryone(ctx context.Context, roomID, actor, msgID string) (*models.Message, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return nil, err
	}
	if m.Sender != actor {
		return nil, apperr.Forbidden("only the sender may delete for everyone")
	}
	if !r.Settings.AllowDeleteMessages {
		return nil, apperr.Forbidden("deleting is disabled in this room")
	}
	if m.Deleted {
		return m, nil
	}

	prev := *m
	m.Deleted = true
	m.Content = models.Tombstone
	m.Attachments = nil
	if err := s.commit(&prev, m); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(models.MessageDeletedPayload{MessageID: m.ID, DeleteForEveryone: true})
	s.pub.Publish(models.Event{Type: models.EventMessageDeleted, Room: roomID, Payload: payload})
	logger.AuditEvent("message_deleted_for_everyone", "room", roomID, "msg_id", msgID, "actor", actor)
	return m, nil
}

// DeleteForMe hides the message for the actor only; other viewers are
// unaffected. Idempotent and irreversible per user.
func (s *Service) DeleteForMe(ctx context.Context, roomID, actor, msgID string) error {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.IsParticipant(actor) {
		return apperr.Forbidden("not a participant of this room")
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return err
	}
	for _, u := range m.DeletedFor {
		if u == actor {
			return nil
		}
	}

	prev := *m
	m.DeletedFor = append(m.DeletedFor, actor)
	if err := s.commit(&prev, m); err != nil {
		return err
	}

	payload, _ := json.Marshal(models.MessageDeletedPayload{MessageID: m.ID, DeleteForEveryone: false})
	s.pub.Publish(models.Event{Type: models.EventMessageDeleted, Room: roomID, Payload: payload})
	return nil
}

// ToggleReaction flips the (actor, emoji) mark: a second identical call
// removes it, a different emoji by the same user is independent.
func (s *Service) ToggleReaction(ctx context.Context, roomID, actor, msgID, emoji string) (*models.Message, error) {
	if emoji == "" {
		return nil, apperr.Validation("missing emoji")
	}
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(actor) {
		return nil, apperr.Forbidden("not a participant of this room")
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return nil, err
	}
	if m.Deleted {
		return nil, apperr.Forbidden("cannot react to a deleted message")
	}

	prev := *m
	removed := false
	kept := m.Reactions[:0:0]
	for _, re := range m.Reactions {
		if re.UserID == actor && re.Emoji == emoji {
			removed = true
			continue
		}
		kept = append(kept, re)
	}
	if removed {
		m.Reactions = kept
	} else {
		m.Reactions = append(m.Reactions, models.Reaction{
			UserID: actor, Emoji: emoji, TS: time.Now().UTC().UnixNano(),
		})
	}
	if err := s.commit(&prev, m); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(models.MessageReactionPayload{MessageID: m.ID, Reactions: m.Reactions})
	s.pub.Publish(models.Event{Type: models.EventMessageReaction, Room: roomID, Payload: payload})
	return m, nil
}

// ToggleStar flips the actor's star on a message. Stars are private to
// each user and not broadcast.
func (s *Service) ToggleStar(ctx context.Context, roomID, actor, msgID string) (*models.Message, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(actor) {
		return nil, apperr.Forbidden("not a participant of this room")
	}
	m, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return nil, err
	}

	prev := *m
	removed := false
	kept := m.Starred[:0:0]
	for _, st := range m.Starred {
		if st.UserID == actor {
			removed = true
			continue
		}
		kept = append(kept, st)
	}
	if removed {
		m.Starred = kept
	} else {
		m.Starred = append(m.Starred, models.Receipt{UserID: actor, TS: time.Now().UTC().UnixNano()})
	}
	if err := s.commit(&prev, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Forward copies a message into another room with a provenance tag. The
// actor must be a participant of both rooms and the source must not be
// globally deleted; the original is untouched.
func (s *Service) Forward(ctx context.Context, sourceRoomID, actor, msgID, targetRoomID string) (*models.Message, error) {
	unlock := store.LockRooms(sourceRoomID, targetRoomID)
	defer unlock()

	src, err := s.rooms.Get(ctx, sourceRoomID)
	if err != nil {
		return nil, err
	}
	dst, err := s.rooms.Get(ctx, targetRoomID)
	if err != nil {
		return nil, err
	}
	if !src.IsParticipant(actor) {
		return nil, apperr.Forbidden("not a participant of the source room")
	}
	if !dst.IsParticipant(actor) {
		return nil, apperr.Forbidden("not a participant of the target room")
	}
	orig, err := s.loadMessage(sourceRoomID, msgID)
	if err != nil {
		return nil, err
	}
	if orig.Deleted || orig.HiddenFor(actor) {
		return nil, apperr.Forbidden("cannot forward a deleted message")
	}
	if err := s.checkSendAllowed(dst, actor); err != nil {
		return nil, err
	}

	last, err := store.LastSeq(targetRoomID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	fwd := &models.Message{
		ID:          utils.GenMsgID(),
		Room:        targetRoomID,
		Seq:         last + 1,
		Sender:      actor,
		Content:     orig.Content,
		Type:        orig.Type,
		Attachments: append([]models.Attachment(nil), orig.Attachments...),
		ForwardedFrom: &models.ForwardTag{
			MessageID: orig.ID, RoomName: src.Name,
		},
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	data, err := json.Marshal(fwd)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := store.AppendMessage(targetRoomID, fwd.Seq, fwd.ID, data); err != nil {
		return nil, apperr.Internal(err)
	}
	dst.LastSeq = fwd.Seq
	dst.UpdatedTS = fwd.CreatedTS
	if err := saveRoomDenorm(dst); err != nil {
		logger.Warn("room_denorm_rewrite_failed", "room", dst.ID, "err", err)
	}

	s.publishNewMessage(fwd)
	logger.Info("message_forwarded", "from_room", sourceRoomID, "to_room", targetRoomID, "msg_id", msgID)
	return fwd, nil
}
