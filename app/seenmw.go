// app/seenmw.go
package app

import (
	"log/slog"
	"time"

	"toolcustody/session"

	"github.com/gin-gonic/gin"
)

func TouchLastSeen(presence *session.Presence) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := CurrentSession(c)
		if !ok || s.User.ID == "" {
			c.Next()
			return
		}
		// 忽略错误，不阻塞请求
		if err := presence.Touch(c.Request.Context(), s.User.ID, time.Now()); err != nil {
			slog.Debug("touch last seen", "user", s.User.ID, "err", err)
		}
		c.Next()
	}
}
