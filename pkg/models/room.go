package models

// RoomType classifies a room. Direct rooms always hold exactly two
// participants and are created idempotently per user pair.
type RoomType string

const (
	RoomDirect       RoomType = "direct"
	RoomGroup        RoomType = "group"
	RoomCourse       RoomType = "course"
	RoomAnnouncement RoomType = "announcement"
)

// Role controls what a participant may mutate inside a room.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Participant binds a user to a room. Participants are unique by UserID.
type Participant struct {
	UserID               string `json:"user_id"`
	Role                 Role   `json:"role"`
	JoinedTS             int64  `json:"joined_ts"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

// RoomSettings are per-room switches checked by the mutation layer.
type RoomSettings struct {
	AllowFileSharing    bool  `json:"allow_file_sharing"`
	AllowOnlyAdmins     bool  `json:"allow_only_admins"`
	MaxFileSize         int64 `json:"max_file_size"`
	AllowEditMessages   bool  `json:"allow_edit_messages"`
	AllowDeleteMessages bool  `json:"allow_delete_messages"`
}

// DefaultSettings returns the settings applied to newly created rooms.
func DefaultSettings() RoomSettings {
	return RoomSettings{
		AllowFileSharing:    true,
		MaxFileSize:         50 * 1024 * 1024,
		AllowEditMessages:   true,
		AllowDeleteMessages: true,
	}
}

// Room is the room metadata record. The message log is stored separately,
// keyed by (room id, sequence number); Room never embeds it.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	Type         RoomType      `json:"type"`
	Participants []Participant `json:"participants"`
	Settings     RoomSettings  `json:"settings"`
	// Course is a back-reference to the owning course, present only for
	// course-bound rooms.
	Course string `json:"course,omitempty"`
	// Created/Updated timestamps (ns)
	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// LastSeq is the highest message sequence committed to this room's log.
	LastSeq uint64 `json:"last_seq,omitempty"`
}

// Participant returns the participant entry for userID, or nil.
func (r *Room) Participant(userID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

// IsParticipant reports whether userID belongs to the room.
func (r *Room) IsParticipant(userID string) bool {
	return r.Participant(userID) != nil
}

// CanModerate reports whether userID holds an admin or moderator role.
func (r *Room) CanModerate(userID string) bool {
	p := r.Participant(userID)
	return p != nil && (p.Role == RoleAdmin || p.Role == RoleModerator)
}

// SettingsPatch is a merge-patch for RoomSettings; nil fields keep the
// current value.
type SettingsPatch struct {
	AllowFileSharing    *bool  `json:"allow_file_sharing,omitempty"`
	AllowOnlyAdmins     *bool  `json:"allow_only_admins,omitempty"`
	MaxFileSize         *int64 `json:"max_file_size,omitempty"`
	AllowEditMessages   *bool  `json:"allow_edit_messages,omitempty"`
	AllowDeleteMessages *bool  `json:"allow_delete_messages,omitempty"`
}

// Apply merges the patch into s.
func (p SettingsPatch) Apply(s *RoomSettings) {
	if p.AllowFileSharing != nil {
		s.AllowFileSharing = *p.AllowFileSharing
	}
	if p.AllowOnlyAdmins != nil {
		s.AllowOnlyAdmins = *p.AllowOnlyAdmins
	}
	if p.MaxFileSize != nil {
		s.MaxFileSize = *p.MaxFileSize
	}
	if p.AllowEditMessages != nil {
		s.AllowEditMessages = *p.AllowEditMessages
	}
	if p.AllowDeleteMessages != nil {
		s.AllowDeleteMessages = *p.AllowDeleteMessages
	}
}
