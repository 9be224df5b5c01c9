package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/event"
	"github.com/yeheng/chatroom-server/internal/member"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/ratelimit"
	"github.com/yeheng/chatroom-server/internal/user"
)

// ErrTooManyAttempts is returned when a user exceeds the failed-password
// budget for private-room joins within the sliding window.
var ErrTooManyAttempts = errors.New("too many failed room secret attempts")

// CredentialVerifier hashes and verifies room secrets. Satisfied by the auth
// package's Hasher.
type CredentialVerifier interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) (bool, error)
}

// Service implements room lifecycle and membership operations. Every write to
// a given room runs under that room's lock from the shared LockTable, held
// across the repository write and the event emission.
type Service struct {
	rooms    Repository
	members  member.Repository
	users    user.Repository
	verifier CredentialVerifier
	locks    *LockTable
	attempts *ratelimit.Window
	pub      event.Publisher
	sinks    []event.Sink
	log      zerolog.Logger
}

// NewService creates the room service. attempts is the per-user failed
// password counter (5 failures per minute by default). Sinks are registered
// with AddSink before the server starts accepting traffic.
func NewService(
	rooms Repository,
	members member.Repository,
	users user.Repository,
	verifier CredentialVerifier,
	locks *LockTable,
	attempts *ratelimit.Window,
	pub event.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		rooms:    rooms,
		members:  members,
		users:    users,
		verifier: verifier,
		locks:    locks,
		attempts: attempts,
		pub:      pub,
		log:      logger.With().Str("component", "room-service").Logger(),
	}
}

// AddSink registers an in-process event sink. Must be called during startup,
// before the service receives traffic.
func (s *Service) AddSink(sink event.Sink) {
	s.sinks = append(s.sinks, sink)
}

// emit delivers the event to in-process sinks in commit order, then hands it
// to the replication publisher. Callers hold the room lock.
func (s *Service) emit(ctx context.Context, e event.Event) {
	for _, sink := range s.sinks {
		sink.HandleEvent(e)
	}
	s.pub.Publish(ctx, e)
}

// CreateParams groups the inputs for CreateRoom.
type CreateParams struct {
	Name        string
	OwnerID     uuid.UUID
	Description *string
	IsPrivate   bool
	Password    *string
	MaxMembers  *int
}

// CreateRoom validates the owner and name, hashes the secret for private
// rooms, persists the room, and inserts the owner as the first member.
func (s *Service) CreateRoom(ctx context.Context, params CreateParams) (*Room, error) {
	owner, err := s.users.FindByID(ctx, params.OwnerID)
	if err != nil {
		return nil, err
	}
	if !owner.IsActive() {
		return nil, user.ErrNotActive
	}

	name, err := ValidateName(params.Name)
	if err != nil {
		return nil, err
	}

	taken, err := s.rooms.NameExists(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameTaken
	}

	var passwordHash *string
	if params.IsPrivate {
		if params.Password == nil {
			return nil, ErrPasswordRequired
		}
		if err := ValidatePassword(*params.Password); err != nil {
			return nil, err
		}
		hash, err := s.verifier.Hash(*params.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = &hash
	} else if params.Password != nil {
		return nil, ErrPublicPassword
	}

	room := &Room{
		Name:         name,
		Description:  params.Description,
		IsPrivate:    params.IsPrivate,
		PasswordHash: passwordHash,
		OwnerID:      params.OwnerID,
		MaxMembers:   params.MaxMembers,
		MemberCount:  1,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	if err := s.members.Add(ctx, &member.Member{
		RoomID:               room.ID,
		UserID:               params.OwnerID,
		Role:                 member.RoleOwner,
		NotificationsEnabled: true,
	}); err != nil {
		return nil, fmt.Errorf("add owner membership: %w", err)
	}

	s.emit(ctx, event.New(event.RoomCreated, room.ID, params.OwnerID).
		WithPayload(map[string]any{"name": room.Name, "is_private": room.IsPrivate}))

	s.log.Info().Stringer("room_id", room.ID).Str("name", room.Name).Msg("Room created")
	return room, nil
}

// JoinRoom makes the user a durable member. Private rooms require the secret;
// failed attempts are counted per user and lock the user out with
// ErrTooManyAttempts after the configured budget.
func (s *Service) JoinRoom(ctx context.Context, roomID, userID uuid.UUID, password *string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.IsActive() {
		return user.ErrNotActive
	}

	lock := s.locks.Get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsActive() {
		return ErrDeleted
	}

	already, err := s.members.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if already {
		return ErrAlreadyJoined
	}

	if room.IsPrivate {
		if err := s.checkPassword(userID, room, password); err != nil {
			return err
		}
	}

	if !room.HasCapacityFor(1) {
		return ErrFull
	}

	if err := s.members.Add(ctx, &member.Member{
		RoomID:               roomID,
		UserID:               userID,
		Role:                 member.RoleMember,
		NotificationsEnabled: true,
	}); err != nil {
		if errors.Is(err, member.ErrAlreadyMember) {
			return ErrAlreadyJoined
		}
		return err
	}
	if err := s.rooms.UpdateMemberCount(ctx, roomID, 1); err != nil {
		return err
	}
	if err := s.rooms.UpdateLastActivity(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to bump room activity on join")
	}

	s.emit(ctx, event.New(event.UserJoinedRoom, roomID, userID).
		WithPayload(map[string]any{"username": u.Username}))
	return nil
}

// checkPassword verifies the room secret for a join attempt. The attempt
// budget is consumed only by failures; a success does not count against the
// window.
func (s *Service) checkPassword(userID uuid.UUID, room *Room, password *string) error {
	key := userID.String()

	if ok, _ := s.attempts.Peek(key); !ok {
		return ErrTooManyAttempts
	}

	if password == nil || room.PasswordHash == nil {
		s.recordFailure(key)
		return ErrInvalidPassword
	}

	match, err := s.verifier.Verify(*password, *room.PasswordHash)
	if err != nil {
		return err
	}
	if !match {
		s.recordFailure(key)
		return ErrInvalidPassword
	}
	return nil
}

func (s *Service) recordFailure(key string) {
	if ok, _ := s.attempts.Allow(key); !ok {
		// The failure that crossed the threshold is still an invalid-password
		// failure; the lockout applies from the next attempt.
		s.log.Debug().Str("user", key).Msg("Room secret attempt budget exhausted")
	}
}

// LeaveRoom removes the user's membership. The owner cannot leave; the room
// must be transferred or deleted instead.
func (s *Service) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	lock := s.locks.Get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}

	m, err := s.members.Find(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return ErrNotJoined
		}
		return err
	}
	if m.Role == member.RoleOwner && room.Status != StatusDeleted {
		return ErrOwnerCannotLeave
	}

	if err := s.members.Remove(ctx, roomID, userID); err != nil {
		return err
	}
	if err := s.rooms.UpdateMemberCount(ctx, roomID, -1); err != nil {
		return err
	}

	s.emit(ctx, event.New(event.UserLeftRoom, roomID, userID))
	return nil
}

// Changes records which fields an UpdateRoom call altered, for the
// RoomUpdated event payload.
type Changes struct {
	Name        bool `json:"name"`
	Description bool `json:"description"`
	MaxMembers  bool `json:"max_members"`
	Password    bool `json:"password"`
}

// UpdateRoom applies partial updates. The updater must be Owner or Admin. A
// new capacity must cover the current member count; a new secret must satisfy
// the strength rule and only applies to private rooms; a new name must stay
// unique among live rooms excluding this one.
func (s *Service) UpdateRoom(ctx context.Context, roomID, updaterID uuid.UUID, params UpdateParams) (*Room, error) {
	lock := s.locks.Get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive() {
		return nil, ErrDeleted
	}

	m, err := s.members.Find(ctx, roomID, updaterID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return nil, ErrNotAuthorized
		}
		return nil, err
	}
	if !m.Role.CanModerate() {
		return nil, ErrNotAuthorized
	}

	var changes Changes

	if params.Name != nil {
		name, err := ValidateName(*params.Name)
		if err != nil {
			return nil, err
		}
		taken, err := s.rooms.NameExists(ctx, name, &roomID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrNameTaken
		}
		room.Name = name
		changes.Name = true
	}

	if params.Description != nil {
		room.Description = params.Description
		changes.Description = true
	}

	if params.MaxMembers != nil {
		if *params.MaxMembers < room.MemberCount {
			return nil, ErrCapacityTooSmall
		}
		room.MaxMembers = params.MaxMembers
		changes.MaxMembers = true
	}

	if params.Password != nil {
		if !room.IsPrivate {
			return nil, ErrPublicPassword
		}
		if err := ValidatePassword(*params.Password); err != nil {
			return nil, err
		}
		hash, err := s.verifier.Hash(*params.Password)
		if err != nil {
			return nil, err
		}
		room.PasswordHash = &hash
		changes.Password = true
	}

	if err := s.rooms.Update(ctx, room); err != nil {
		return nil, err
	}

	s.emit(ctx, event.New(event.RoomUpdated, roomID, updaterID).WithPayload(map[string]any{
		"changes": changes,
	}))
	return room, nil
}

// DeleteRoom soft-deletes a room. Only the owner may delete; members,
// messages, and cache entries become unreachable through subsequent reads.
func (s *Service) DeleteRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	lock := s.locks.Get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != userID {
		return ErrOwnerOnly
	}

	if err := s.rooms.SoftDelete(ctx, roomID); err != nil {
		return err
	}

	s.emit(ctx, event.New(event.RoomDeleted, roomID, userID))
	s.log.Info().Stringer("room_id", roomID).Msg("Room deleted")
	return nil
}

// SetMemberRole changes a member's role. Only the owner may promote or
// demote, and the owner's own role is immutable here.
func (s *Service) SetMemberRole(ctx context.Context, roomID, targetID uuid.UUID, newRole member.Role, byID uuid.UUID) error {
	if !newRole.Valid() || newRole == member.RoleOwner {
		return member.ErrInvalidRole
	}

	lock := s.locks.Get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != byID {
		return ErrOwnerOnly
	}
	if targetID == room.OwnerID {
		return member.ErrOwnerImmune
	}

	if _, err := s.members.Find(ctx, roomID, targetID); err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return ErrNotJoined
		}
		return err
	}

	if err := s.members.UpdateRole(ctx, roomID, targetID, newRole); err != nil {
		return err
	}

	s.emit(ctx, event.New(event.MemberRoleChanged, roomID, byID).
		WithPayload(map[string]any{"user_id": targetID.String(), "role": string(newRole)}))
	return nil
}

// KickMember removes another member. Owner or Admin may kick; the owner can
// never be kicked, and admins cannot kick each other's superiors.
func (s *Service) KickMember(ctx context.Context, roomID, targetID, byID uuid.UUID) error {
	lock := s.locks.Get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if targetID == room.OwnerID {
		return member.ErrOwnerImmune
	}

	actor, err := s.members.Find(ctx, roomID, byID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return ErrNotAuthorized
		}
		return err
	}
	if !actor.Role.CanModerate() {
		return ErrNotAuthorized
	}

	if _, err := s.members.Find(ctx, roomID, targetID); err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return ErrNotJoined
		}
		return err
	}

	if err := s.members.Remove(ctx, roomID, targetID); err != nil {
		return err
	}
	if err := s.rooms.UpdateMemberCount(ctx, roomID, -1); err != nil {
		return err
	}

	s.emit(ctx, event.New(event.MemberKicked, roomID, byID).
		WithPayload(map[string]any{"user_id": targetID.String()}))
	return nil
}

// IsUserInRoom reports durable membership.
func (s *Service) IsUserInRoom(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return s.members.IsMember(ctx, roomID, userID)
}

// GetRoom returns a room. Deleted rooms surface as ErrDeleted.
func (s *Service) GetRoom(ctx context.Context, roomID uuid.UUID) (*Room, error) {
	return s.rooms.FindByID(ctx, roomID)
}

// GetRoomMembers lists a room's members. Non-members may not look.
func (s *Service) GetRoomMembers(ctx context.Context, roomID, callerID uuid.UUID, page pagination.Pagination) ([]member.Member, error) {
	if _, err := s.rooms.FindByID(ctx, roomID); err != nil {
		return nil, err
	}
	in, err := s.members.IsMember(ctx, roomID, callerID)
	if err != nil {
		return nil, err
	}
	if !in {
		return nil, ErrNotJoined
	}
	return s.members.FindByRoom(ctx, roomID, page)
}

// ListRooms returns a page of visible rooms for browsing.
func (s *Service) ListRooms(ctx context.Context, page pagination.Pagination) ([]Room, error) {
	return s.rooms.Search(ctx, SearchParams{}, page)
}

// TouchActivity bumps last_activity_at; called by the message service after a
// successful send.
func (s *Service) TouchActivity(ctx context.Context, roomID uuid.UUID) {
	if err := s.rooms.UpdateLastActivity(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Stringer("room_id", roomID).Msg("Failed to bump room activity")
	}
}
