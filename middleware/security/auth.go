package security

import (
	"net/http"
	"strings"

	config "ChatRelay/global/config"
	errs "ChatRelay/tools/errs"
	sec "ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
)

// Context keys; downstream handlers read the caller identity through these.
const (
	CtxAuthKey   = "authorization" // raw token, string
	CtxUserIDKey = "userId"        // verified subject, string
)

type Options struct {
	HeaderToken               string // default "authorization"
	EnableAuthorizationBearer bool   // default true
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               CtxAuthKey,
		EnableAuthorizationBearer: true,
	}
}

// Middleware verifies the bearer token and injects the user id into the
// gin context. Requests with a missing or bad token are rejected.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// compatibility: Authorization: Bearer xxx
		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
			return
		}

		userID, err := sec.Verify(sec.DefaultOptions(config.Global.JWTSecret), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}

		c.Set(CtxAuthKey, token)
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}
