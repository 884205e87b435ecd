// controllers/webauthn_controller.go
package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"toolcustody/app"
	"toolcustody/db"
	"toolcustody/models"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// ===== 生物识别注册（已登录） =====

func (s *Srv) BeginEnroll(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, sess.User.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	opts, sd, err := s.WA.BeginRegistration(
		wUser,
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			UserVerification:        protocol.VerificationRequired,
		}),
	)
	if err != nil {
		slog.Error("begin registration", "user", sess.User.ID, "err", err)
		c.JSON(http.StatusInternalServerError, app.H{"error": "could not start enrollment"})
		return
	}
	if err := s.Ceremonies.SaveReg(ctx, sess.User.ID, sd); err != nil {
		c.JSON(http.StatusServiceUnavailable, app.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, app.H{"opts": opts})
}

func (s *Srv) FinishEnroll(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, sess.User.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	sd, err := s.Ceremonies.TakeReg(ctx, sess.User.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}
	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	if err := s.Store.AddCredential(ctx, fromWaCred(sess.User.ID, cred)); err != nil {
		if db.IsAbsent(err) {
			c.JSON(http.StatusServiceUnavailable, app.H{"error": "biometric sign-in needs the database"})
			return
		}
		slog.Error("save credential", "user", sess.User.ID, "err", err)
		c.JSON(http.StatusServiceUnavailable, app.H{"error": db.ErrWriteFailed.Error()})
		return
	}
	if err := s.Enrollment.MarkEnrolled(ctx, sess.User.ID); err != nil {
		slog.Warn("mark enrolled", "user", sess.User.ID, "err", err)
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// POST /webauthn/enroll/dismiss  用户选择"以后再说"
func (s *Srv) DismissEnroll(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	if err := s.Enrollment.Dismiss(c.Request.Context(), sess.User.ID); err != nil {
		c.JSON(http.StatusServiceUnavailable, app.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// ===== 登录 =====

type loginBeginReq struct {
	Email        string `json:"email"`
	Discoverable bool   `json:"discoverable"`
}
type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

func (s *Srv) BeginLogin(c *gin.Context) {
	var req loginBeginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "bad request"})
		return
	}
	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Discoverable || req.Email == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		u, found := s.Accounts.Dir.ByEmail(req.Email)
		if !found {
			c.JSON(http.StatusNotFound, app.H{"error": "user not found"})
			return
		}
		wUser, err2 := s.loadWAUser(ctx, u)
		if err2 != nil {
			c.JSON(http.StatusServiceUnavailable, app.H{"error": "credentials unavailable"})
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}

	sid := uuid.NewString()
	if err := s.Ceremonies.SaveAuth(ctx, sid, sd); err != nil {
		c.JSON(http.StatusServiceUnavailable, app.H{"error": "session store unavailable"})
		return
	}
	c.JSON(http.StatusOK, loginBeginResp{Options: opts, SessionID: sid})
}

// POST /webauthn/login/finish?sessionId=&remember=true
func (s *Srv) FinishLogin(c *gin.Context) {
	sid := c.Query("sessionId")
	if sid == "" {
		c.JSON(http.StatusBadRequest, app.H{"error": "missing sessionId"})
		return
	}
	remember := c.Query("remember") == "true"

	ctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()
	sd, err := s.Ceremonies.TakeAuth(ctx, sid)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "session expired or invalid"})
		return
	}

	var (
		userID string
		cred   *webauthn.Credential
	)
	if len(sd.UserID) > 0 {
		wUser, err := s.loadWAUserByID(ctx, string(sd.UserID))
		if err != nil {
			respondErr(c, err)
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
			return
		}
		userID = wUser.user.ID
	} else {
		handler := func(rawID, userHandle []byte) (webauthn.User, error) {
			id, err := s.Store.FindUserIDByCredentialID(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			w, err := s.loadWAUserByID(ctx, id)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("user not found")
			}
			return w, nil
		}
		user, c2, err := s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, app.H{"error": err.Error()})
			return
		}
		userID = user.(*waUser).user.ID
		cred = c2
	}
	if err := s.Store.UpdateCredentialCounter(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		slog.Warn("update credential counter", "user", userID, "err", err)
	}

	sess, err := s.Accounts.SignInUser(ctx, userID, remember)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.setAppCookie(c.Writer, sess)
	c.JSON(http.StatusOK, app.H{
		"ok":                 true,
		"user":               sess.User.Public(),
		"capabilities":       models.CapabilitiesOf(sess.User.Role),
		"mustChangePassword": sess.User.MustChangePassword,
	})
}
