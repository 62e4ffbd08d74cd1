package auth

import (
	"context"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

// UserUIDHeader carries the opaque caller identifier.
const UserUIDHeader = "User-Uid"

// MaxUserUIDLength matches the width of the user_uid column.
const MaxUserUIDLength = 128

type contextKey string

const userIDKey contextKey = "callerUserUID"

// GetUserID retrieves the caller identifier from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithUserID returns a copy of ctx carrying userUID.
func WithUserID(ctx context.Context, userUID string) context.Context {
	return context.WithValue(ctx, userIDKey, userUID)
}

// CallerIdentity injects the User-Uid header, when present, into the request
// context. Requests without the header continue as anonymous.
func CallerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userUID := strings.TrimSpace(c.GetHeader(UserUIDHeader))
		if userUID == "" {
			c.Next()
			return
		}
		if !validUserUID(userUID) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid User-Uid header"})
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), userUID))
		c.Set(string(userIDKey), userUID)
		c.Next()
	}
}

// RequireCaller rejects requests that carry no caller identifier.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c.Request.Context()); !ok {
			unauthorized(c, "User-Uid header is required")
			return
		}
		c.Next()
	}
}

func validUserUID(s string) bool {
	if len(s) > MaxUserUIDLength || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
