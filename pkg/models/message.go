package models

// MessageType tags the payload variant a message carries.
type MessageType string

const (
	TypeText         MessageType = "text"
	TypeImage        MessageType = "image"
	TypeFile         MessageType = "file"
	TypeVideo        MessageType = "video"
	TypeVoice        MessageType = "voice"
	TypeSystem       MessageType = "system"
	TypeAnnouncement MessageType = "announcement"
	TypeSticker      MessageType = "sticker"
	TypeGif          MessageType = "gif"
	TypeLocation     MessageType = "location"
	TypeContact      MessageType = "contact"
)

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t MessageType) bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeVideo, TypeVoice, TypeSystem,
		TypeAnnouncement, TypeSticker, TypeGif, TypeLocation, TypeContact:
		return true
	}
	return false
}

// Tombstone is the fixed replacement content for messages deleted for
// everyone. It is what every viewer sees after a global delete.
const Tombstone = "This message was deleted"

// Attachment is a reference to an externally stored upload. The log never
// holds file bytes, only these tuples.
type Attachment struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name,omitempty"`
	StorageRef   string `json:"storage_ref"`
	Size         int64  `json:"size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
}

// ReplySnapshot is the denormalized view of the message being replied to,
// kept for display so clients need not re-fetch the original.
type ReplySnapshot struct {
	ID      string      `json:"id"`
	Sender  string      `json:"sender"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}

// ForwardTag records provenance of a forwarded message.
type ForwardTag struct {
	MessageID string `json:"message_id"`
	RoomName  string `json:"room_name,omitempty"`
}

// Reaction is a per-user emoji mark; entries are unique by (UserID, Emoji).
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
	TS     int64  `json:"ts"`
}

// Receipt is a per-user timestamped acknowledgment. Used for stars,
// delivery and read tracking; sets of receipts only ever grow.
type Receipt struct {
	UserID string `json:"user_id"`
	TS     int64  `json:"ts"`
}

// Message is one entry in a room's append-only log. Its position is Seq;
// mutations rewrite the entry in place and never reorder the log.
type Message struct {
	ID     string `json:"id"`
	Room   string `json:"room"`
	Seq    uint64 `json:"seq"`
	Sender string `json:"sender"`

	Content     string       `json:"content,omitempty"`
	Type        MessageType  `json:"type"`
	Attachments []Attachment `json:"attachments,omitempty"`

	ReplyTo       *ReplySnapshot `json:"reply_to,omitempty"`
	ForwardedFrom *ForwardTag    `json:"forwarded_from,omitempty"`

	Reactions []Reaction `json:"reactions,omitempty"`
	Starred   []Receipt  `json:"starred,omitempty"`

	DeliveredTo []Receipt `json:"delivered_to,omitempty"`
	ReadBy      []Receipt `json:"read_by,omitempty"`

	// EditedTS is set when content was mutated after creation.
	EditedTS int64 `json:"edited_ts,omitempty"`
	// Deleted is the irreversible global tombstone flag.
	Deleted bool `json:"deleted,omitempty"`
	// DeletedFor hides the message for the listed users only.
	DeletedFor []string `json:"deleted_for,omitempty"`

	CreatedTS int64 `json:"created_ts"`
}

// HiddenFor reports whether userID deleted this message for themselves.
// Global deletion is tracked separately on Deleted; callers that filter
// views check both.
func (m *Message) HiddenFor(userID string) bool {
	for _, u := range m.DeletedFor {
		if u == userID {
			return true
		}
	}
	return false
}

// HasReceipt reports whether rs contains an entry for userID.
func HasReceipt(rs []Receipt, userID string) bool {
	for _, r := range rs {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
