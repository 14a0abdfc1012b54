package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"authgate/internal/apperr"
	"authgate/internal/repository"
)

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	q, err := listUsersQuery(c)
	if err != nil {
		fail(c, err)
		return
	}

	page, err := h.users.ListUsers(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserPageResponse(page))
}

// listUsersQuery reads page, limit, sortBy and sortOrder. Omitted values
// fall back to the store defaults.
func listUsersQuery(c *gin.Context) (repository.ListUsersQuery, error) {
	var q repository.ListUsersQuery
	var err error

	if raw := c.Query("page"); raw != "" {
		if q.Page, err = strconv.Atoi(raw); err != nil {
			return q, apperr.E(apperr.InvalidInput, "page must be an integer")
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil {
			return q, apperr.E(apperr.InvalidInput, "limit must be an integer")
		}
	}
	q.SortBy = repository.UserSortField(c.Query("sortBy"))

	switch strings.ToLower(c.Query("sortOrder")) {
	case "", "asc":
	case "desc":
		q.Descending = true
	default:
		return q, apperr.E(apperr.InvalidInput, "sortOrder must be asc or desc")
	}
	return q, nil
}

func (h HandlerSet) AdminGetUser(c *gin.Context) {
	p, err := h.users.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(p))
}

type userStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h HandlerSet) AdminSetUserStatus(c *gin.Context) {
	var req userStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.IsActive == nil {
		fail(c, apperr.E(apperr.InvalidInput, "isActive must be a boolean"))
		return
	}

	p, err := h.users.SetUserStatus(c.Request.Context(), principal(c).User.ID, c.Param("id"), *req.IsActive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(p))
}

func (h HandlerSet) AdminDeleteUser(c *gin.Context) {
	if err := h.users.DeleteUser(c.Request.Context(), principal(c).User.ID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (h HandlerSet) AdminAssignRole(c *gin.Context) {
	var req assignRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.users.AssignRole(c.Request.Context(), principal(c).User.ID, c.Param("id"), req.Role)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(p))
}

func (h HandlerSet) AdminRevokeRole(c *gin.Context) {
	p, err := h.users.RevokeRole(c.Request.Context(), principal(c).User.ID, c.Param("id"), c.Param("role"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserResponse(p))
}
