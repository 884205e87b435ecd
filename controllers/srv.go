// controllers/srv.go
package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"toolcustody/account"
	"toolcustody/app"
	"toolcustody/assistant"
	"toolcustody/custody"
	"toolcustody/db"
	"toolcustody/geo"
	"toolcustody/models"
	"toolcustody/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
)

type Srv struct {
	WA         *webauthn.WebAuthn
	Store      db.Store
	Ceremonies *session.Store
	Enrollment *session.EnrollmentStore
	Presence   *session.Presence
	Accounts   *account.Service
	Custody    *custody.Service
	Assistant  *assistant.Assistant
	Addresses  *geo.Lookup
	// SecureCookie sets the Secure attribute (https web origin).
	SecureCookie bool
}

func GetSrv(a *app.App) *Srv {
	return &Srv{
		WA:         a.WA,
		Store:      a.Store,
		Ceremonies: a.Ceremonies,
		Enrollment: a.Enrollment,
		Presence:   a.Presence,
		Accounts:   a.Accounts,
		Custody:    a.Custody,
		Assistant:  a.Assistant,
		Addresses:  a.Addresses,

		SecureCookie: a.Config.SecureCookies(),
	}
}

// --- helpers ---

// 统一设置业务会话 Cookie；remember 为 false 时是浏览器会话 Cookie
func (s *Srv) setAppCookie(w http.ResponseWriter, sess account.Session) {
	maxAge := 0
	if sess.Remember {
		maxAge = int(time.Until(sess.ExpiresAt) / time.Second)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.SecureCookie,
		MaxAge:   maxAge,
	})
}

func (s *Srv) clearAppCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // 删除
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.SecureCookie,
	})
}

func mustSession(c *gin.Context) (account.Session, bool) {
	sess, ok := app.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, app.H{"error": "unauthorized"})
	}
	return sess, ok
}

// respondErr maps service errors to status codes. Write failures keep the
// fixed retry message; internal details stay in the log.
func respondErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, db.ErrWriteFailed):
		status, msg = http.StatusServiceUnavailable, db.ErrWriteFailed.Error()
	case errors.Is(err, account.ErrDeliveryFailed):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, custody.ErrConflict), errors.Is(err, account.ErrEmailTaken):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, custody.ErrForbidden), errors.Is(err, account.ErrForbidden),
		errors.Is(err, custody.ErrNotHolder), errors.Is(err, account.ErrSelfChange):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, custody.ErrToolNotFound), errors.Is(err, account.ErrUserNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, account.ErrAccountDisabled):
		status, msg = http.StatusUnauthorized, err.Error()
	case custody.IsValidation(err), account.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	}
	c.JSON(status, app.H{"error": msg})
}

// WebAuthn: directory user -> waUser
type waUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *waUser) WebAuthnName() string                       { return u.user.Email }
func (u *waUser) WebAuthnDisplayName() string                { return u.user.Name }
func (u *waUser) WebAuthnIcon() string                       { return "" }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func fromWaCred(userID string, cred *webauthn.Credential) models.Credential {
	return models.Credential{
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}
}

func (s *Srv) loadWAUser(ctx context.Context, u models.User) (*waUser, error) {
	cs, err := s.Store.LoadUserCredentials(ctx, u.ID)
	if err != nil && !db.IsAbsent(err) {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{user: u, creds: ws}, nil
}

func (s *Srv) loadWAUserByID(ctx context.Context, id string) (*waUser, error) {
	u, ok := s.Accounts.Dir.ByID(id)
	if !ok {
		return nil, account.ErrUserNotFound
	}
	return s.loadWAUser(ctx, u)
}
