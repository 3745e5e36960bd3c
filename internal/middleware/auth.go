// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lex-assist-go/internal/model"
	"lex-assist-go/internal/service"
	"lex-assist-go/pkg/database"
	"lex-assist-go/pkg/token"
)

const bearerPrefix = "Bearer "

// ContextUserKey 是存入 Gin 上下文的用户对象键名。
const ContextUserKey = "user"

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性与黑名单状态，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := resolveUser(c, jwtManager, userService)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// OptionalAuth 与 AuthMiddleware 类似，但凭证缺失或无效时不终止请求，
// 而是以访客身份继续处理（不写入用户对象）。
func OptionalAuth(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := resolveUser(c, jwtManager, userService); ok {
			c.Set(ContextUserKey, user)
		}
		c.Next()
	}
}

// resolveUser 从 Authorization 头解析并验证用户身份。
// 任何一步失败（缺头、格式错误、token 无效、已登出、用户不存在）都返回 false。
func resolveUser(c *gin.Context, jwtManager *token.JWTManager, userService service.UserService) (*model.User, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return nil, false
	}
	tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

	claims, err := jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, false
	}

	// 已登出的 token 在 Redis 黑名单中
	if database.RDB != nil {
		if exists, err := database.RDB.Exists(context.Background(), "blacklist:"+tokenString).Result(); err == nil && exists > 0 {
			return nil, false
		}
	}

	user, err := userService.GetProfile(claims.Username)
	if err != nil {
		return nil, false
	}
	return user, true
}
