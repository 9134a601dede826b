// User HTTP handlers.
//
//   - POST  /admin/users         (create or refresh a user)
//   - PATCH /admin/users/{id}    (block/unblock, change language)
//   - GET   /users/me/quota      (remaining daily sends)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unibabel/internal/services"
)

// UpsertUserRequest seeds a user from the identity system.
type UpsertUserRequest struct {
	ID                int64  `json:"id"                           binding:"required" example:"42"`
	DisplayName       string `json:"display_name"                 example:"Ana"`
	PreferredLanguage string `json:"preferred_language,omitempty" example:"PT-BR"`
}

// PatchUserRequest changes selected fields; omitted fields stay as they are.
type PatchUserRequest struct {
	IsBlocked         *bool   `json:"is_blocked,omitempty"         example:"true"`
	PreferredLanguage *string `json:"preferred_language,omitempty" example:"JA"`
}

// UpsertUser godoc
// @ID          upsertUser
// @Summary     Create or refresh a user
// @Description The block flag is not changed by this call.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.UpsertUserRequest  true  "User"
//
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Admins only"
// @Router      /admin/users [post]
func (h *Handlers) UpsertUser(c *gin.Context) {
	var req UpsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id is required")
		return
	}
	u, err := h.userSvc.Upsert(c.Request.Context(), services.UserInput{
		ID:                req.ID,
		DisplayName:       req.DisplayName,
		PreferredLanguage: req.PreferredLanguage,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// PatchUser godoc
// @ID          patchUser
// @Summary     Block a user or change their language
// @Description A blocked user can no longer send, and their messages disappear from history reads.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                         true  "User ID"  minimum(1)
// @Param       body  body  handlers.PatchUserRequest   true  "Changes"
//
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown user"
// @Router      /admin/users/{id} [patch]
func (h *Handlers) PatchUser(c *gin.Context) {
	id, okID := pathID(c, "id")
	if !okID {
		return
	}
	var req PatchUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.IsBlocked == nil && req.PreferredLanguage == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nothing to change")
		return
	}
	u, err := h.userSvc.Update(c.Request.Context(), id, services.UserPatch{
		IsBlocked:         req.IsBlocked,
		PreferredLanguage: req.PreferredLanguage,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// MyQuota godoc
// @ID          myQuota
// @Summary     Remaining daily sends
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  services.Quota
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Router      /users/me/quota [get]
func (h *Handlers) MyQuota(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	q, err := h.userSvc.QuotaOf(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, q)
}
