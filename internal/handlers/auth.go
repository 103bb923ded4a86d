package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Nickname string `json:"nickname"`
}

type adminLoginRequest struct {
	Token string `json:"token"`
}

type userRow struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Login is the development login: any nickname gets (or creates) a user.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	nickname, err := normalizeNickname(req.Nickname)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.getOrCreateUser(nickname)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user error"})
		return
	}
	token, err := s.SignToken(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

func (s *Server) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if s.Cfg.AdminToken == "" || req.Token != s.Cfg.AdminToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
		return
	}
	token, err := s.SignAdminToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) GetMe(c *gin.Context) {
	user, err := s.getUserByID(c.GetInt64("uid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) getOrCreateUser(nickname string) (*userRow, error) {
	user, err := s.getUserByNickname(nickname)
	if err == nil {
		return user, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}
	isAdmin := s.Cfg.AdminNicknames[nickname]
	// a concurrent login for the same nickname may have inserted first
	if _, err := s.DB.Exec(`INSERT INTO users (nickname, is_admin, created_at, updated_at) VALUES (?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE updated_at=NOW()`, nickname, boolToInt(isAdmin)); err != nil {
		return nil, err
	}
	return s.getUserByNickname(nickname)
}

func (s *Server) getUserByNickname(nickname string) (*userRow, error) {
	return scanUser(s.DB.QueryRow(`SELECT id, nickname, is_admin, created_at FROM users WHERE nickname = ?`, nickname))
}

func (s *Server) getUserByID(uid int64) (*userRow, error) {
	return scanUser(s.DB.QueryRow(`SELECT id, nickname, is_admin, created_at FROM users WHERE id = ?`, uid))
}

func scanUser(row *sql.Row) (*userRow, error) {
	var u userRow
	var isAdmin int
	if err := row.Scan(&u.ID, &u.Nickname, &isAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin == 1
	return &u, nil
}

const maxNicknameLen = 32

func normalizeNickname(val string) (string, error) {
	name := strings.TrimSpace(val)
	if name == "" {
		return "", errors.New("nickname required")
	}
	if len([]rune(name)) > maxNicknameLen {
		return "", errors.New("nickname too long")
	}
	return name, nil
}
