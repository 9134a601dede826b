// Chat HTTP handlers.
//
// This file wires the handler set and exposes the chat directory endpoints:
//   - POST /chats                      (create a direct chat or a room)
//   - GET  /chats/{id}                 (chat with participants)
//   - POST /chats/{id}/participants    (join a room)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/services"
	"github.com/tbourn/unibabel/internal/translation"
)

//
// Service contracts (context-aware)
//

// ChatService creates chats and manages room membership.
type ChatService interface {
	Create(ctx context.Context, creatorID int64, in services.CreateChatInput) (*services.ChatDetails, error)
	Join(ctx context.Context, chatID, userID int64, password string) error
	Get(ctx context.Context, chatID, userID int64) (*services.ChatDetails, error)
}

// MessageService sends messages and reads history.
type MessageService interface {
	Send(ctx context.Context, userID, chatID int64, text, nonce string) (realtime.Ack, error)
	History(ctx context.Context, userID, chatID, before int64, limit int) ([]domain.Message, error)
	HistoryETag(ctx context.Context, chatID, before int64, limit int) (string, error)
}

// TranslationService runs the submission review pipeline, cache
// administration and one-off translations.
type TranslationService interface {
	Submit(ctx context.Context, userID int64, in services.SubmissionInput) (*domain.TranslationSubmission, error)
	Get(ctx context.Context, id int64) (*domain.TranslationSubmission, error)
	List(ctx context.Context, status string, page, pageSize int) ([]domain.TranslationSubmission, int64, error)
	Approve(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, *translation.Entry, error)
	Reject(ctx context.Context, id, reviewer int64, note string) (*domain.TranslationSubmission, error)
	AddCacheEntry(ctx context.Context, in services.CacheEntryInput) (*translation.Entry, error)
	EvictCacheEntry(ctx context.Context, id int64) error
	Translate(ctx context.Context, text, target, source string) (translation.Result, error)
}

// UserService administers users and reports quotas.
type UserService interface {
	Upsert(ctx context.Context, in services.UserInput) (*domain.User, error)
	Update(ctx context.Context, id int64, p services.UserPatch) (*domain.User, error)
	QuotaOf(ctx context.Context, userID int64) (services.Quota, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	chatSvc ChatService
	msgSvc  MessageService
	trSvc   TranslationService
	userSvc UserService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(chatSvc ChatService, msgSvc MessageService, trSvc TranslationService, userSvc UserService) *Handlers {
	return &Handlers{chatSvc: chatSvc, msgSvc: msgSvc, trSvc: trSvc, userSvc: userSvc}
}

// currentUser returns the authenticated caller or answers 401.
func currentUser(c *gin.Context) (int64, bool) {
	uid, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return uid, ok
}

// pathID parses a positive integer path parameter or answers 400.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat.
type CreateChatRequest struct {
	// Kind is "direct" or "room" (default).
	Kind string `json:"kind" example:"room" enums:"direct,room"`
	// Title names a room; a default is used when empty.
	Title string `json:"title" example:"Lisbon meetup"`
	// IsPublic opens a room to anyone.
	IsPublic bool `json:"is_public" example:"true"`
	// Password protects a room; joiners must present it.
	Password string `json:"password,omitempty" example:"hunter2"`
	// Participants are added besides the caller. A direct chat names exactly
	// one other user.
	Participants []int64 `json:"participants" example:"2,3"`
}

// JoinChatRequest is the JSON payload for joining a room.
type JoinChatRequest struct {
	Password string `json:"password,omitempty" example:"hunter2"`
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a chat
// @Description Creates a direct chat with exactly one other user, or a room with optional password.
// @Tags        Chats
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.CreateChatRequest  true  "Create chat payload"
//
// @Success     201  {object}  services.ChatDetails
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown participant"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ch, err := h.chatSvc.Create(c.Request.Context(), uid, services.CreateChatInput{
		Kind:         req.Kind,
		Title:        req.Title,
		IsPublic:     req.IsPublic,
		Password:     req.Password,
		Participants: req.Participants,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// GetChat godoc
// @ID          getChat
// @Summary     Get a chat
// @Description Returns a chat and its participants. Only participants may read it.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Chat ID"  minimum(1)
//
// @Success     200  {object}  services.ChatDetails
// @Failure     403  {object}  handlers.ErrorResponse  "Not a participant"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathID(c, "id")
	if !okID {
		return
	}
	ch, err := h.chatSvc.Get(c.Request.Context(), chatID, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ch)
}

// JoinChat godoc
// @ID          joinChat
// @Summary     Join a room
// @Description Adds the caller to a room. Public rooms are open; password-protected rooms need the password.
// @Description Joining a chat one already belongs to succeeds without changes.
// @Tags        Chats
// @Accept      json
// @Security    BearerAuth
//
// @Param       id    path  int                         true   "Chat ID"  minimum(1)
// @Param       body  body  handlers.JoinChatRequest    false  "Room password"
//
// @Success     204  {string}  string "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Wrong password or not joinable"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Router      /chats/{id}/participants [post]
func (h *Handlers) JoinChat(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathID(c, "id")
	if !okID {
		return
	}
	var req JoinChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	if err := h.chatSvc.Join(c.Request.Context(), chatID, uid, req.Password); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
