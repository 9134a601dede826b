// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - POST /chat/{id}/messages   (send, for clients without a socket)
//   - GET  /chat/{id}/messages   (history, newest first)
//
// A send over HTTP goes through the same dispatcher as a websocket send:
// admission, durable append, then fan-out to every live session of the
// chat's participants. The sender needs no session, so NotJoined never
// occurs here.
//
// Idempotency:
// The Idempotency-Key header is the send nonce. A retry with the same key
// returns the original message id with `replayed: true` and the header
// `Idempotency-Replayed: true`, without spending quota.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/domain"
	"github.com/tbourn/unibabel/internal/http/middleware"
	"github.com/tbourn/unibabel/internal/realtime"
	"github.com/tbourn/unibabel/internal/repo"
	"github.com/tbourn/unibabel/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message. Text is
// stored verbatim.
type PostMessageRequest struct {
	Text string `json:"text" binding:"required" example:"Good morning, everyone!"`
}

// PostMessageResponse acknowledges a stored message.
type PostMessageResponse struct {
	MessageID int64  `json:"message_id" example:"42"`
	CreatedAt string `json:"created_at" example:"2026-05-01T12:00:00.000Z"`
	Replayed  bool   `json:"replayed"   example:"false"`
}

// ListMessagesResponse is one history page. NextBefore, when non-zero,
// fetches the following (older) page.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	NextBefore int64            `json:"next_before,omitempty" example:"17"`
}

// clampLimit parses the history limit. Zero selects the store default.
func clampLimit(c *gin.Context) int {
	limit := utils.AtoiDefault(c.Query("limit"), 0)
	switch {
	case limit < 0:
		return 0
	case limit > repo.MaxHistoryLimit:
		return repo.MaxHistoryLimit
	}
	return limit
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Stores a message in the chat and delivers a translated copy to every connected participant.
// @Description Supports idempotent retries via the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Send nonce for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    int     true  "Chat ID"                      minimum(1)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Stored"
// @Success     200  {object}  handlers.PostMessageResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse        "ForbiddenSender"
// @Failure     404  {object}  handlers.ErrorResponse        "InvalidChat"
// @Failure     413  {object}  handlers.ErrorResponse        "MessageTooLarge"
// @Failure     429  {object}  handlers.ErrorResponse        "RateLimited or DailyQuotaExceeded"
// @Header      429  {integer} Retry-After                   "Seconds until a retry can succeed"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal"
// @Router      /chat/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathID(c, "id")
	if !okID {
		return
	}
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	nonce, _ := middleware.GetIdempotencyKey(c)

	ack, err := h.msgSvc.Send(c.Request.Context(), uid, chatID, req.Text, nonce)
	if err != nil {
		failErr(c, err)
		return
	}
	status := http.StatusCreated
	if ack.Replayed {
		status = http.StatusOK
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, status, PostMessageResponse{
		MessageID: ack.MessageID,
		CreatedAt: realtime.FormatTime(ack.CreatedAt),
		Replayed:  ack.Replayed,
	})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Chat history
// @Description Returns up to `limit` messages older than `before`, newest first. Messages of blocked senders are hidden.
// @Description Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    int     true  "Chat ID"                       minimum(1)
// @Param       before         query   int     false "Only messages with smaller id" minimum(1)
// @Param       limit          query   int     false "Page size"                     minimum(1) maximum(200) default(50)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chat/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	chatID, okID := pathID(c, "id")
	if !okID {
		return
	}
	before := utils.Atoi64Default(c.Query("before"), 0)
	if before < 0 {
		before = 0
	}
	limit := clampLimit(c)

	items, err := h.msgSvc.History(ctx, uid, chatID, before, limit)
	if err != nil {
		failErr(c, err)
		return
	}

	// ETag (best effort), computed after the membership check.
	if etag, err := h.msgSvc.HistoryETag(ctx, chatID, before, limit); err == nil {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	resp := ListMessagesResponse{Messages: items}
	want := limit
	if want == 0 {
		want = repo.DefaultHistoryLimit
	}
	if n := len(items); n > 0 && n == want {
		resp.NextBefore = items[n-1].ID
	}
	ok(c, http.StatusOK, resp)
}
