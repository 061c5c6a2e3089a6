// Package msglog owns the per-room append-only message log: appends,
// windowed retrieval, search, per-entry mutation and delivery/read
// tracking. Entries are never physically removed, only flagged; every
// committed mutation hands exactly one event to the broadcaster.
package msglog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"campuschat/pkg/apperr"
	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/realtime"
	"campuschat/pkg/room"
	"campuschat/pkg/store"
	"campuschat/pkg/utils"
)

// DefaultPageSize bounds retrieval windows when the caller passes zero.
const DefaultPageSize = 50

// Service is the message log plus its visibility, mutation and receipt
// layers. All writes are single-room and serialized per room.
type Service struct {
	rooms *room.Registry
	pub   realtime.Publisher
}

// New builds a Service publishing committed mutations to pub.
func New(rooms *room.Registry, pub realtime.Publisher) *Service {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	return &Service{rooms: rooms, pub: pub}
}

// SendRequest is the payload of an append. Exactly one of content or
// attachments may be empty, never both.
type SendRequest struct {
	Content     string              `json:"content"`
	Type        models.MessageType  `json:"type"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
}

// Append validates the sender and payload, commits the message at the
// next log position and publishes it. The returned message is the
// committed entry with empty delivery/read sets.
func (s *Service) Append(ctx context.Context, roomID, sender string, req SendRequest) (*models.Message, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSendAllowed(r, sender); err != nil {
		return nil, err
	}
	m, err := s.buildMessage(r, sender, req)
	if err != nil {
		return nil, err
	}

	last, err := store.LastSeq(roomID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	m.Seq = last + 1

	data, err := json.Marshal(m)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := store.AppendMessage(roomID, m.Seq, m.ID, data); err != nil {
		return nil, apperr.Internal(err)
	}
	r.LastSeq = m.Seq
	r.UpdatedTS = m.CreatedTS
	if err := saveRoomDenorm(r); err != nil {
		logger.Warn("room_denorm_rewrite_failed", "room", r.ID, "err", err)
	}

	s.publishNewMessage(m)
	logger.Info("message_appended", "room", roomID, "seq", m.Seq, "msg_id", m.ID, "type", m.Type)
	return m, nil
}

// saveRoomDenorm rewrites the room entry after its LastSeq/UpdatedTS
// denormalization changed. The append itself already committed, so
// failures here are logged by the caller rather than surfaced.
func saveRoomDenorm(r *models.Room) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return store.SaveRoom(r.ID, b)
}

func (s *Service) checkSendAllowed(r *models.Room, sender string) error {
	p := r.Participant(sender)
	if p == nil {
		return apperr.Forbidden("sender is not a participant")
	}
	// announcement rooms are world-readable but only staff post to them
	if r.Type == models.RoomAnnouncement && p.Role == models.RoleMember {
		return apperr.Forbidden("only admins or moderators may post announcements")
	}
	if r.Settings.AllowOnlyAdmins && p.Role == models.RoleMember {
		return apperr.Forbidden("only admins or moderators may post in this room")
	}
	return nil
}

func (s *Service) buildMessage(r *models.Room, sender string, req SendRequest) (*models.Message, error) {
	if req.Type == "" {
		req.Type = models.TypeText
	}
	if !models.ValidMessageType(req.Type) {
		return nil, apperr.Validation(fmt.Sprintf("invalid message type %q", req.Type))
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, apperr.Validation("a message needs content or at least one attachment")
	}
	if len(req.Attachments) > 0 {
		if !r.Settings.AllowFileSharing {
			return nil, apperr.Forbidden("file sharing is disabled in this room")
		}
		for _, a := range req.Attachments {
			if a.StorageRef == "" {
				return nil, apperr.Validation("attachment missing storage reference")
			}
			if r.Settings.MaxFileSize > 0 && a.Size > r.Settings.MaxFileSize {
				return nil, apperr.Validation(fmt.Sprintf("attachment %q exceeds the room size limit", a.OriginalName))
			}
		}
		// attachment-only sends display the first file name
		if req.Content == "" && req.Type != models.TypeText {
			req.Content = req.Attachments[0].OriginalName
		}
	}

	m := &models.Message{
		ID:          utils.GenMsgID(),
		Room:        r.ID,
		Sender:      sender,
		Content:     req.Content,
		Type:        req.Type,
		Attachments: req.Attachments,
		CreatedTS:   time.Now().UTC().UnixNano(),
	}

	if req.ReplyTo != "" {
		orig, err := s.loadMessage(r.ID, req.ReplyTo)
		if err != nil {
			return nil, err
		}
		if orig.Deleted || orig.HiddenFor(sender) {
			return nil, apperr.NotFound("reply target not found")
		}
		m.ReplyTo = &models.ReplySnapshot{
			ID: orig.ID, Sender: orig.Sender, Content: orig.Content, Type: orig.Type,
		}
	}
	return m, nil
}

// checkReadAccess gates retrieval: participants always, anyone for
// announcement rooms.
func checkReadAccess(r *models.Room, actor string) error {
	if r.Type == models.RoomAnnouncement {
		return nil
	}
	if !r.IsParticipant(actor) {
		return apperr.Forbidden("not a participant of this room")
	}
	return nil
}

// Retrieve returns one page of the log as the actor sees it. Pages are
// counted newest-first (page 1 holds the most recent entries) but each
// page is returned in ascending time order.
func (s *Service) Retrieve(ctx context.Context, roomID, actor string, page, pageSize int) ([]models.Message, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := checkReadAccess(r, actor); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	skip := (page - 1) * pageSize

	out := make([]models.Message, 0, pageSize)
	err = store.ListMessagesReverse(roomID, func(data []byte) bool {
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Warn("corrupt_log_entry", "room", roomID, "err", err)
			return true
		}
		if m.Deleted || m.HiddenFor(actor) {
			return true
		}
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, m)
		return len(out) < pageSize
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	// newest-first window back to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Search returns visible messages whose content contains the substring,
// case-insensitively, in log order.
func (s *Service) Search(ctx context.Context, roomID, actor, substring string) ([]models.Message, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := checkReadAccess(r, actor); err != nil {
		return nil, err
	}
	if substring == "" {
		return nil, apperr.Validation("empty search term")
	}
	needle := strings.ToLower(substring)

	var out []models.Message
	err = store.ListMessages(roomID, func(data []byte) bool {
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return true
		}
		if m.Deleted || m.HiddenFor(actor) {
			return true
		}
		if strings.Contains(strings.ToLower(m.Content), needle) {
			out = append(out, m)
		}
		return true
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// Versions returns the archived prior values of a message, oldest first,
// followed by the current entry.
func (s *Service) Versions(ctx context.Context, roomID, actor, msgID string) ([]models.Message, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := checkReadAccess(r, actor); err != nil {
		return nil, err
	}
	cur, err := s.loadMessage(roomID, msgID)
	if err != nil {
		return nil, err
	}
	raw, err := store.ListMessageVersions(msgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]models.Message, 0, len(raw)+1)
	for _, v := range raw {
		var m models.Message
		if err := json.Unmarshal(v, &m); err == nil {
			out = append(out, m)
		}
	}
	out = append(out, *cur)
	return out, nil
}

// loadMessage resolves msgID and verifies it belongs to roomID.
func (s *Service) loadMessage(roomID, msgID string) (*models.Message, error) {
	data, err := store.GetMessage(msgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("message %q not found", msgID))
		}
		return nil, apperr.Internal(err)
	}
	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperr.Internal(fmt.Errorf("corrupt message %s: %w", msgID, err))
	}
	if m.Room != roomID {
		return nil, apperr.NotFound(fmt.Sprintf("message %q not found in room %q", msgID, roomID))
	}
	return &m, nil
}

// commit rewrites a mutated entry in place, archiving the prior value.
func (s *Service) commit(prev, next *models.Message) error {
	pb, err := json.Marshal(prev)
	if err != nil {
		return apperr.Internal(err)
	}
	nb, err := json.Marshal(next)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := store.UpdateMessage(next.Room, next.Seq, next.ID, pb, nb); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// commitQuiet rewrites an entry without archiving a version. Receipt
// insertions use this; they are not edits and do not belong in the trail.
func (s *Service) commitQuiet(next *models.Message) error {
	nb, err := json.Marshal(next)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := store.UpdateMessage(next.Room, next.Seq, next.ID, nil, nb); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) publishNewMessage(m *models.Message) {
	payload, _ := json.Marshal(models.NewMessagePayload{Message: *m})
	s.pub.Publish(models.Event{Type: models.EventNewMessage, Room: m.Room, Payload: payload})
}
