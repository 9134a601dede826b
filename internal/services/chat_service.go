// Package services – ChatService
//
// This file implements the ChatService, which manages chats and their
// participant sets. Direct chats are fixed pairs; rooms can be joined when
// public or when the caller knows the room password (stored as a bcrypt
// hash). The service also answers the membership question the realtime
// gateway asks before a session may subscribe to a chat.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/repo"
)

// ChatRepo defines the repository contract required by ChatService.
type ChatRepo interface {
	// CreateChat inserts a chat together with its participants.
	CreateChat(ctx context.Context, db *gorm.DB, c *domain.Chat, participants []int64) error

	// GetChat fetches a chat by id.
	GetChat(ctx context.Context, db *gorm.DB, id int64) (*domain.Chat, error)

	// AddParticipant links a user to a chat; re-adding is a no-op.
	AddParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) error

	// IsParticipant reports chat membership.
	IsParticipant(ctx context.Context, db *gorm.DB, chatID, userID int64) (bool, error)

	// ListParticipants returns the user ids of a chat in join order.
	ListParticipants(ctx context.Context, db *gorm.DB, chatID int64) ([]int64, error)

	// GetUser fetches a user by id.
	GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error)
}

// CreateChatInput describes a chat to create.
type CreateChatInput struct {
	Kind         string  // direct or room; empty means room
	Title        string  // rooms only
	IsPublic     bool    // rooms only
	Password     string  // rooms only; empty for none
	Participants []int64 // besides the creator
}

// ChatDetails is a chat with its participant ids.
type ChatDetails struct {
	domain.Chat
	Participants []int64 `json:"participants"`
}

// ChatService provides chat creation, room joins and membership checks.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the chat repository used by this service.
	Repo ChatRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// PasswordCost is the bcrypt cost for room passwords.
	PasswordCost int
}

// NewChatService constructs a ChatService with default title and password
// settings.
func NewChatService(db *gorm.DB, r ChatRepo) *ChatService {
	return &ChatService{
		DB:           db,
		Repo:         r,
		TitleMaxLen:  120,
		PasswordCost: bcrypt.DefaultCost,
	}
}

func (s *ChatService) tracer() trace.Tracer { return otel.Tracer("services/ChatService") }

// Create inserts a chat created by creatorID. The creator is always a
// participant. Every participant must be a known user.
func (s *ChatService) Create(ctx context.Context, creatorID int64, in CreateChatInput) (*ChatDetails, error) {
	ctx, span := s.tracer().Start(ctx, "Create", trace.WithAttributes(attribute.Int64("user.id", creatorID)))
	defer span.End()

	kind := strings.ToLower(strings.TrimSpace(in.Kind))
	if kind == "" {
		kind = domain.ChatRoom
	}
	if kind != domain.ChatDirect && kind != domain.ChatRoom {
		return nil, ErrInvalidKind
	}

	members := []int64{creatorID}
	seen := map[int64]bool{creatorID: true}
	for _, id := range in.Participants {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	for _, id := range members {
		if _, err := s.Repo.GetUser(ctx, s.DB, id); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
			}
			return nil, err
		}
	}

	c := &domain.Chat{Kind: kind}
	switch kind {
	case domain.ChatDirect:
		if len(members) != 2 {
			return nil, ErrDirectParticipants
		}
	case domain.ChatRoom:
		c.Title = s.clip(normalizeTitle(in.Title))
		if c.Title == "" {
			c.Title = "New room"
		}
		c.IsPublic = in.IsPublic
		if in.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.PasswordCost)
			if err != nil {
				return nil, fmt.Errorf("hash room password: %w", err)
			}
			h := string(hash)
			c.PasswordHash = &h
		}
	}

	if err := s.Repo.CreateChat(ctx, s.DB, c, members); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("chat.id", c.ID))
	return &ChatDetails{Chat: *c, Participants: members}, nil
}

// Join adds userID to a room. Joining a chat one already belongs to
// succeeds without changes. Public rooms are open; password-protected rooms
// require the password; anything else is ErrNotJoinable.
func (s *ChatService) Join(ctx context.Context, chatID, userID int64, password string) error {
	ctx, span := s.tracer().Start(ctx, "Join", trace.WithAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	c, err := s.chat(ctx, chatID)
	if err != nil {
		return err
	}
	member, err := s.Repo.IsParticipant(ctx, s.DB, chatID, userID)
	if err != nil {
		return err
	}
	if member {
		return nil
	}
	if c.Kind != domain.ChatRoom {
		return ErrNotJoinable
	}
	switch {
	case c.PasswordHash != nil:
		if bcrypt.CompareHashAndPassword([]byte(*c.PasswordHash), []byte(password)) != nil {
			return ErrWrongPassword
		}
	case !c.IsPublic:
		return ErrNotJoinable
	}
	if _, err := s.Repo.GetUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return err
	}
	return s.Repo.AddParticipant(ctx, s.DB, chatID, userID)
}

// Get returns a chat and its participants. Only participants may read it.
func (s *ChatService) Get(ctx context.Context, chatID, userID int64) (*ChatDetails, error) {
	if err := s.CheckParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	c, err := s.chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ids, err := s.Repo.ListParticipants(ctx, s.DB, chatID)
	if err != nil {
		return nil, err
	}
	return &ChatDetails{Chat: *c, Participants: ids}, nil
}

// CheckParticipant returns InvalidChat when the chat does not exist and
// ForbiddenSender when userID is not one of its participants.
func (s *ChatService) CheckParticipant(ctx context.Context, chatID, userID int64) error {
	if _, err := s.chat(ctx, chatID); err != nil {
		return err
	}
	ok, err := s.Repo.IsParticipant(ctx, s.DB, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewError(domain.CodeForbiddenSender, fmt.Sprintf("user %d is not a participant of chat %d", userID, chatID))
	}
	return nil
}

func (s *ChatService) chat(ctx context.Context, chatID int64) (*domain.Chat, error) {
	c, err := s.Repo.GetChat(ctx, s.DB, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, domain.NewError(domain.CodeInvalidChat, fmt.Sprintf("chat %d does not exist", chatID))
	}
	return c, err
}

// clip truncates a title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
