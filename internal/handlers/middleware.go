package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bidlive/internal/auth"
)

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := getBearerToken(c.Request)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := s.authenticate(token)
		if err != nil {
			s.abortAuth(c, err)
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminToken := c.GetHeader("X-Admin-Token")
		if adminToken != "" && s.Cfg.AdminToken != "" && adminToken == s.Cfg.AdminToken {
			c.Set("admin", true)
			c.Next()
			return
		}
		token := getBearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing admin token"})
			return
		}
		claims, err := s.authenticate(token)
		if err != nil {
			s.abortAuth(c, err)
			return
		}
		if !claims.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin required"})
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

func (s *Server) abortAuth(c *gin.Context, err error) {
	switch err {
	case errInvalidToken:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	case errInvalidSession:
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session invalid"})
	default:
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
	}
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set("uid", claims.UserID)
	c.Set("nickname", claims.Nickname)
	c.Set("admin", claims.IsAdmin)
	c.Set("sid", claims.SessionID)
}
