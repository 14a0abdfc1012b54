package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"authgate/internal/service"
)

func (h HandlerSet) Profile(c *gin.Context) {
	p, err := h.users.Profile(c.Request.Context(), principal(c).User.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(p))
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

func (h HandlerSet) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.users.UpdateProfile(c.Request.Context(), principal(c).User.ID, service.ProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(p))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h HandlerSet) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), principal(c).User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ListRoles(c *gin.Context) {
	roles, err := h.users.ListRoles(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	items := make([]roleResponse, 0, len(roles))
	for _, r := range roles {
		items = append(items, newRoleResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{"roles": items})
}
