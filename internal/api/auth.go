package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/aiwuxian/project-syndicate/internal/logging"
)

const (
	ctxUserID    = "userId"
	ctxCharacter = "character"
)

// Claims 身份服务签发的令牌声明
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator 校验 HS256 令牌；签发不在本服务
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// ParseToken 返回令牌中的 userId
func (a *Authenticator) ParseToken(raw string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", oops.Code("INVALID_TOKEN").Wrap(err)
	}
	if claims.UserID == "" {
		return "", oops.Code("INVALID_TOKEN").Errorf("token has no userId")
	}
	return claims.UserID, nil
}

// SignToken 为测试与 seed 命令签发令牌
func (a *Authenticator) SignToken(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireAuth 从 Authorization 头（或 token 查询参数）解析身份
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "UNAUTHENTICATED"})
			return
		}
		userID, err := a.ParseToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "UNAUTHENTICATED"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Request = c.Request.WithContext(logging.WithFields(c.Request.Context(), slog.String("owner_id", userID)))
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
