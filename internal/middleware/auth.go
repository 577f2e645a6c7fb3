package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/burakerenkisapro1122/bchat/internal/session"
)

// SessionKey is the gin context key the authenticated session is stored
// under.
const SessionKey = "session"

// TokenValidator resolves a bearer token to a live session.
type TokenValidator interface {
	Validate(token string) (*session.Session, error)
}

// SessionAuth resolves the Authorization bearer token to a live session and
// stores it (and the user id) on the request context. Tokens are session
// addressing, not authentication.
func SessionAuth(sessions TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		sess, err := sessions.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(SessionKey, sess)
		c.Set("userID", sess.User.ID)
		c.Next()
	}
}
