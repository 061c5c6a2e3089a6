package models

import "encoding/json"

// EventType names a realtime event. One event is produced per committed
// mutation; typing and presence events are ephemeral and never persisted.
type EventType string

const (
	EventNewMessage        EventType = "new_message"
	EventMessageEdited     EventType = "message_edited"
	EventMessageDeleted    EventType = "message_deleted"
	EventMessageReaction   EventType = "message_reaction"
	EventMessagesRead      EventType = "messages_read"
	EventUserTyping        EventType = "user_typing"
	EventUserStoppedTyping EventType = "user_stopped_typing"
	EventUserOnline        EventType = "user_online"
	EventUserOffline       EventType = "user_offline"
)

// Event is the wire frame fanned out to subscribed sessions. Payload is a
// complete snapshot of the affected entity; consumers never need a prior
// read to interpret it.
type Event struct {
	Type    EventType       `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessagePayload carries the full committed message.
type NewMessagePayload struct {
	Message Message `json:"message"`
}

// MessageEditedPayload carries the new content of an edited message.
type MessageEditedPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	EditedTS  int64  `json:"edited_ts"`
}

// MessageDeletedPayload distinguishes the global tombstone from a
// per-viewer hide.
type MessageDeletedPayload struct {
	MessageID         string `json:"message_id"`
	DeleteForEveryone bool   `json:"delete_for_everyone"`
}

// MessageReactionPayload carries the full current reaction set.
type MessageReactionPayload struct {
	MessageID string     `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

// MessagesReadPayload announces that a user caught up on a room.
type MessagesReadPayload struct {
	UserID string `json:"user_id"`
}

// TypingPayload is relayed as-is and never persisted.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
}

// PresencePayload announces connection-scoped online state.
type PresencePayload struct {
	UserID string `json:"user_id"`
}
