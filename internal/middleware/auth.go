package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	internalutils "fulfillment/internal/utils"
	"fulfillment/pkg/utils"
)

const (
	// AuthorizationHeader authorization header name
	AuthorizationHeader = "Authorization"
	// BearerPrefix bearer prefix
	BearerPrefix = "Bearer "
	// UserIDKey user id context key
	UserIDKey = "user_id"
	// UserRoleKey user role context key
	UserRoleKey = "user_role"
)

// UserInfo is the authenticated caller
type UserInfo struct {
	ID   uint64 `json:"id"`
	Role string `json:"role"`
}

// TokenValidator resolves a bearer token to its user
type TokenValidator func(token string) (*UserInfo, error)

// JWTValidator validates tokens with m
func JWTValidator(m *internalutils.JWTManager) TokenValidator {
	return func(token string) (*UserInfo, error) {
		claims, err := m.ValidateToken(token)
		if err != nil {
			return nil, err
		}
		return &UserInfo{ID: claims.UserID, Role: claims.Role}, nil
	}
}

// Auth requires a valid bearer token
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			utils.Error(c, utils.CodeUnauthorized, "Missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			utils.Error(c, utils.CodeUnauthorized, "Invalid authorization header format")
			return
		}

		token := strings.TrimPrefix(authHeader, BearerPrefix)
		if token == "" {
			utils.Error(c, utils.CodeUnauthorized, "Missing token")
			return
		}

		userInfo, err := validator(token)
		if err != nil {
			utils.Error(c, utils.CodeUnauthorized, "Invalid token")
			return
		}

		c.Set(UserIDKey, userInfo.ID)
		c.Set(UserRoleKey, userInfo.Role)
		c.Next()
	}
}

// RequireRoles allows the request only for one of roles. It must run after Auth.
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		role, ok := GetUserRole(c)
		if !ok || !allowed[role] {
			utils.Error(c, utils.CodeForbidden, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (uint64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint64)
	return id, ok
}

// GetUserRole returns the authenticated user role
func GetUserRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(UserRoleKey)
	if !exists {
		return "", false
	}
	roleStr, ok := role.(string)
	return roleStr, ok
}
