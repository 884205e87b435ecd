package controllers

import (
	"net/http"

	"toolcustody/app"
	"toolcustody/models"

	"github.com/gin-gonic/gin"
)

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

// POST /api/auth/login
func (s *Srv) Login(c *gin.Context) {
	var in loginReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "email and password are required"})
		return
	}
	res, err := s.Accounts.SignIn(c.Request.Context(), in.Email, in.Password, in.Remember)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.setAppCookie(c.Writer, res.Session)
	c.JSON(http.StatusOK, app.H{
		"user":               res.Session.User.Public(),
		"capabilities":       models.CapabilitiesOf(res.Session.User.Role),
		"mustChangePassword": res.Session.User.MustChangePassword,
		"promptBiometric":    res.PromptBiometric,
		"promptDelayMs":      res.PromptDelay.Milliseconds(),
	})
}

// POST /api/auth/logout
func (s *Srv) Logout(c *gin.Context) {
	if ck, err := c.Request.Cookie(app.AppSessionCookie); err == nil && ck.Value != "" {
		_ = s.Accounts.SignOut(c.Request.Context(), ck.Value)
	}
	s.clearAppCookie(c.Writer)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /api/auth/me
func (s *Srv) Me(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	enrolled, _ := s.Enrollment.IsEnrolled(c.Request.Context(), sess.User.ID)
	c.JSON(http.StatusOK, app.H{
		"user":               sess.User.Public(),
		"capabilities":       models.CapabilitiesOf(sess.User.Role),
		"mustChangePassword": sess.User.MustChangePassword,
		"biometricEnrolled":  enrolled,
		"remember":           sess.Remember,
		"expiresAt":          sess.ExpiresAt,
	})
}

// POST /api/auth/forgot-password
func (s *Srv) ForgotPassword(c *gin.Context) {
	var in struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "email is required"})
		return
	}
	res, err := s.Accounts.ForgotPassword(c.Request.Context(), in.Email)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/auth/change-password
func (s *Srv) ChangePassword(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var in struct {
		NewPassword string `json:"newPassword"`
		Confirm     string `json:"confirmPassword"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "bad request"})
		return
	}
	u, err := s.Accounts.ChangePassword(c.Request.Context(), sess, in.NewPassword, in.Confirm)
	if err != nil {
		respondErr(c, err)
		return
	}
	sess.User = u
	app.SetSession(c, sess)
	c.JSON(http.StatusOK, app.H{"ok": true, "user": u.Public()})
}
