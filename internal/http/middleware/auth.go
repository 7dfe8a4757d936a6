package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/service"
)

const currentUserKey = "currentUser"

// Auth resolves the bearer token into a user record for downstream handlers.
type Auth struct {
	AuthService *service.AuthService
}

// RequireUser ensures the request carries a valid session token for an
// active account.
func (m *Auth) RequireUser(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		abortAuth(c, domain.ErrUnauthenticated())
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		abortAuth(c, domain.ErrUnauthenticated())
		return
	}

	user, err := m.AuthService.CurrentUser(c.Request.Context(), parts[1])
	if err != nil {
		abortAuth(c, err)
		return
	}

	c.Set(currentUserKey, user)
	c.Next()
}

// GetCurrentUser exposes the resolved user to handlers.
func GetCurrentUser(c *gin.Context) (domain.User, bool) {
	value, ok := c.Get(currentUserKey)
	if !ok {
		return domain.User{}, false
	}
	user, ok := value.(domain.User)
	return user, ok
}

func abortAuth(c *gin.Context, err error) {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		if ae.Status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Bearer")
		}
		c.AbortWithStatusJSON(ae.Status, gin.H{"error": ae.Code, "error_description": ae.Description})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.CodeUnauthenticated, "error_description": "Invalid authentication credentials."})
}
