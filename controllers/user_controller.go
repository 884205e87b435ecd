package controllers

import (
	"log/slog"
	"net/http"
	"time"

	"toolcustody/account"
	"toolcustody/app"
	"toolcustody/models"

	"github.com/gin-gonic/gin"
)

type UserController struct{ *Srv }

func GetUserController(s *Srv) *UserController { return &UserController{Srv: s} }

type userView struct {
	models.User
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// GET /api/users
func (uc *UserController) ListUsers(c *gin.Context) {
	users := uc.Accounts.Users()
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	seen, err := uc.Presence.LastSeen(c.Request.Context(), ids)
	if err != nil {
		// 列表照常返回，只是没有 lastSeen
		slog.Warn("load last seen", "err", err)
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{User: u}
		if ts, ok := seen[u.ID]; ok {
			v.LastSeen = &ts
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, app.H{"total": len(out), "users": out})
}

// POST /api/users (ADMIN only)
func (uc *UserController) CreateUser(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var in account.NewUser
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	u, res, err := uc.Accounts.CreateUser(c.Request.Context(), sess.User, in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, app.H{
		"user":              u,
		"temporaryPassword": res.TempPassword,
		"delivered":         res.Delivered,
	})
}

// PATCH /api/users/:id  {"role":"MANAGER"} / {"isEnabled":false}
func (uc *UserController) PatchUser(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var in struct {
		Role      *models.Role `json:"role"`
		IsEnabled *bool        `json:"isEnabled"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || (in.Role == nil && in.IsEnabled == nil) {
		c.JSON(http.StatusBadRequest, app.H{"error": "role or isEnabled is required"})
		return
	}
	id := c.Param("id")
	var (
		u   models.User
		err error
	)
	if in.Role != nil {
		if u, err = uc.Accounts.SetRole(c.Request.Context(), sess.User, id, *in.Role); err != nil {
			respondErr(c, err)
			return
		}
	}
	if in.IsEnabled != nil {
		if u, err = uc.Accounts.SetEnabled(c.Request.Context(), sess.User, id, *in.IsEnabled); err != nil {
			respondErr(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, app.H{"user": u})
}
