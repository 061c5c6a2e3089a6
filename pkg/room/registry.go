package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campuschat/pkg/apperr"
	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
	"campuschat/pkg/utils"
)

// UserResolver answers whether user ids resolve to real accounts.
// Identity is an external collaborator; only this narrow check is needed
// when assembling a room.
type UserResolver interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// ResolverFunc adapts a function to the UserResolver interface.
type ResolverFunc func(ctx context.Context, userID string) (bool, error)

func (f ResolverFunc) Exists(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}

// AllowAll accepts every non-empty user id. Useful for tests and for
// deployments where the gateway has already authenticated the id.
var AllowAll = ResolverFunc(func(_ context.Context, userID string) (bool, error) {
	return userID != "", nil
})

// Registry owns room metadata, participant membership and roles.
type Registry struct {
	users UserResolver
}

// NewRegistry builds a Registry backed by the opened store.
func NewRegistry(users UserResolver) *Registry {
	if users == nil {
		users = AllowAll
	}
	return &Registry{users: users}
}

// MinGroupParticipants is the smallest participant set a group room may
// be created with, the creator included.
const MinGroupParticipants = 2

// CreateGroupRoom validates every participant id, inserts the creator as
// admin (deduplicated), and persists the new room.
func (g *Registry) CreateGroupRoom(ctx context.Context, creator, name, description string, roomType models.RoomType, participantIDs []string, courseRef string) (*models.Room, error) {
	if name == "" {
		return nil, apperr.Validation("room name is required")
	}
	switch roomType {
	case models.RoomGroup, models.RoomCourse, models.RoomAnnouncement:
	case "":
		roomType = models.RoomGroup
	default:
		return nil, apperr.Validation(fmt.Sprintf("invalid room type %q", roomType))
	}
	if roomType == models.RoomCourse && courseRef == "" {
		return nil, apperr.Validation("course rooms require a course reference")
	}
	if roomType != models.RoomCourse && courseRef != "" {
		return nil, apperr.Validation("course reference is only valid for course rooms")
	}

	now := time.Now().UTC().UnixNano()
	r := &models.Room{
		ID:          utils.GenRoomID(),
		Name:        name,
		Description: description,
		Type:        roomType,
		Settings:    models.DefaultSettings(),
		Course:      courseRef,
		CreatedTS:   now,
	}
	r.Participants = append(r.Participants, models.Participant{
		UserID: creator, Role: models.RoleAdmin, JoinedTS: now, NotificationsEnabled: true,
	})
	for _, id := range participantIDs {
		if id == creator || r.IsParticipant(id) {
			continue
		}
		ok, err := g.users.Exists(ctx, id)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown user %q", id))
		}
		r.Participants = append(r.Participants, models.Participant{
			UserID: id, Role: models.RoleMember, JoinedTS: now, NotificationsEnabled: true,
		})
	}
	if len(r.Participants) < MinGroupParticipants {
		return nil, apperr.Validation("a group room needs at least one participant besides the creator")
	}

	if err := g.save(r); err != nil {
		return nil, err
	}
	for _, p := range r.Participants {
		if err := store.AddMembership(p.UserID, r.ID); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	logger.Info("room_created", "room", r.ID, "type", r.Type, "participants", len(r.Participants))
	return r, nil
}

// GetOrCreateDirectRoom returns the direct room for the unordered pair,
// creating it on first use. Calling it again for the same pair returns
// the identical room.
func (g *Registry) GetOrCreateDirectRoom(ctx context.Context, a, b string) (*models.Room, error) {
	if a == b {
		return nil, apperr.Validation("cannot open a direct room with yourself")
	}
	for _, id := range []string{a, b} {
		ok, err := g.users.Exists(ctx, id)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown user %q", id))
		}
	}

	// the pair index is the idempotence point; serialize on it
	unlock := store.LockRoom("direct:" + pairTag(a, b))
	defer unlock()

	if id, err := store.LookupDirectRoom(a, b); err == nil {
		return g.Get(ctx, id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(err)
	}

	now := time.Now().UTC().UnixNano()
	r := &models.Room{
		ID:        utils.GenRoomID(),
		Name:      a + ", " + b,
		Type:      models.RoomDirect,
		Settings:  models.DefaultSettings(),
		CreatedTS: now,
		Participants: []models.Participant{
			{UserID: a, Role: models.RoleMember, JoinedTS: now, NotificationsEnabled: true},
			{UserID: b, Role: models.RoleMember, JoinedTS: now, NotificationsEnabled: true},
		},
	}
	if err := g.save(r); err != nil {
		return nil, err
	}
	if err := store.SaveDirectRoom(a, b, r.ID); err != nil {
		return nil, apperr.Internal(err)
	}
	for _, p := range r.Participants {
		if err := store.AddMembership(p.UserID, r.ID); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	logger.Info("direct_room_created", "room", r.ID)
	return r, nil
}

func pairTag(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// AddParticipants inserts the given users; ids already present are
// silently skipped. The actor must be an admin or moderator.
func (g *Registry) AddParticipants(ctx context.Context, roomID, actor string, userIDs []string) (*models.Room, error) {
	if len(userIDs) == 0 {
		return nil, apperr.Validation("no participants given")
	}
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := g.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.CanModerate(actor) {
		return nil, apperr.Forbidden("only admins or moderators may add participants")
	}
	if r.Type == models.RoomDirect {
		return nil, apperr.Forbidden("direct rooms have a fixed pair of participants")
	}

	now := time.Now().UTC().UnixNano()
	var added []string
	for _, id := range userIDs {
		if r.IsParticipant(id) {
			continue
		}
		ok, err := g.users.Exists(ctx, id)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown user %q", id))
		}
		r.Participants = append(r.Participants, models.Participant{
			UserID: id, Role: models.RoleMember, JoinedTS: now, NotificationsEnabled: true,
		})
		added = append(added, id)
	}
	if len(added) == 0 {
		return r, nil
	}
	r.UpdatedTS = now
	if err := g.save(r); err != nil {
		return nil, err
	}
	for _, id := range added {
		if err := store.AddMembership(id, r.ID); err != nil {
			return nil, apperr.Internal(err)
		}
	}
	logger.Info("participants_added", "room", r.ID, "count", len(added))
	return r, nil
}

// RemoveParticipant removes target from the room. Allowed for admins and
// moderators, or for the target removing themselves.
func (g *Registry) RemoveParticipant(ctx context.Context, roomID, actor, target string) (*models.Room, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := g.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if r.Type == models.RoomDirect {
		return nil, apperr.Forbidden("direct rooms have a fixed pair of participants")
	}
	if actor != target && !r.CanModerate(actor) {
		return nil, apperr.Forbidden("only admins or moderators may remove other participants")
	}
	if !r.IsParticipant(target) {
		return nil, apperr.NotFound(fmt.Sprintf("user %q is not a participant", target))
	}

	kept := r.Participants[:0]
	for _, p := range r.Participants {
		if p.UserID != target {
			kept = append(kept, p)
		}
	}
	r.Participants = kept
	r.UpdatedTS = time.Now().UTC().UnixNano()
	if err := g.save(r); err != nil {
		return nil, err
	}
	if err := store.RemoveMembership(target, r.ID); err != nil {
		return nil, apperr.Internal(err)
	}
	logger.AuditEvent("participant_removed", "room", r.ID, "actor", actor, "target", target)
	return r, nil
}

// UpdateSettings merge-patches the room settings. The actor must be an
// admin or moderator.
func (g *Registry) UpdateSettings(ctx context.Context, roomID, actor string, patch models.SettingsPatch) (*models.Room, error) {
	unlock := store.LockRoom(roomID)
	defer unlock()

	r, err := g.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.CanModerate(actor) {
		return nil, apperr.Forbidden("only admins or moderators may change settings")
	}
	patch.Apply(&r.Settings)
	r.UpdatedTS = time.Now().UTC().UnixNano()
	if err := g.save(r); err != nil {
		return nil, err
	}
	logger.Info("room_settings_updated", "room", r.ID, "actor", actor)
	return r, nil
}

// Get loads a room by id.
func (g *Registry) Get(_ context.Context, roomID string) (*models.Room, error) {
	v, err := store.GetRoom(roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("room %q not found", roomID))
		}
		return nil, apperr.Internal(err)
	}
	var r models.Room
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, apperr.Internal(fmt.Errorf("corrupt room record %s: %w", roomID, err))
	}
	return &r, nil
}

// ListRooms returns every room the user belongs to.
func (g *Registry) ListRooms(ctx context.Context, userID string) ([]*models.Room, error) {
	ids, err := store.ListMemberships(userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]*models.Room, 0, len(ids))
	for _, id := range ids {
		r, err := g.Get(ctx, id)
		if err != nil {
			// stale index entries are skipped, not fatal
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (g *Registry) save(r *models.Room) error {
	b, err := json.Marshal(r)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := store.SaveRoom(r.ID, b); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
