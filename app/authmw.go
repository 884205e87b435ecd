package app

import (
	"errors"
	"net/http"

	"toolcustody/account"
	"toolcustody/models"

	"github.com/gin-gonic/gin"
)

const AppSessionCookie = "app_session"

const ctxSession = "session"

// AuthRequired restores the session named by the cookie and puts it in the
// gin context. The user record is the freshly loaded one when it exists.
func AuthRequired(accounts *account.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ck, err := c.Request.Cookie(AppSessionCookie)
		if err != nil || ck.Value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		sess, err := accounts.Restore(c.Request.Context(), ck.Value)
		switch {
		case err == nil:
		case errors.Is(err, account.ErrAccountDisabled):
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": err.Error()})
			return
		case errors.Is(err, account.ErrUnauthenticated):
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid session"})
			return
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, H{"error": "session store unavailable"})
			return
		}
		c.Set(ctxSession, sess)
		c.Next()
	}
}

// CurrentSession returns the session set by AuthRequired.
func CurrentSession(c *gin.Context) (account.Session, bool) {
	v, ok := c.Get(ctxSession)
	if !ok {
		return account.Session{}, false
	}
	s, ok := v.(account.Session)
	return s, ok
}

// SetSession replaces the request's session after a change to the signed-in user.
func SetSession(c *gin.Context, s account.Session) { c.Set(ctxSession, s) }

// PasswordChangeGate blocks everything behind it while the user still has
// to replace a temporary password.
func PasswordChangeGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := CurrentSession(c)
		if ok && s.User.MustChangePassword {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "password change required"})
			return
		}
		c.Next()
	}
}

func RequireCapability(capability models.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := CurrentSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if !models.Can(s.User.Role, capability) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// AdminOnly gates by role name; managers share every capability with admins
// but not this.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := CurrentSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if s.User.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
