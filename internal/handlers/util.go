package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errInvalidSession = errors.New("invalid session")
	errInvalidToken   = errors.New("invalid token")
)

func getBearerToken(r *http.Request) string {
	return bearerValue(r.Header.Get("Authorization"))
}

func bearerValue(val string) string {
	const prefix = "Bearer "
	if len(val) <= len(prefix) || val[:len(prefix)] != prefix {
		return ""
	}
	return strings.TrimSpace(val[len(prefix):])
}

func sessionKey(userID int64) string {
	return "session:uid:" + strconv.FormatInt(userID, 10)
}

func auctionEventsChannel(auctionID int64) string {
	return "auction_events:" + strconv.FormatInt(auctionID, 10)
}

func auctionViewersKey(auctionID int64) string {
	return "auction:" + strconv.FormatInt(auctionID, 10) + ":viewers"
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-session"
	}
	return hex.EncodeToString(b)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// auctionIDParam reads :id and answers 400 itself when it is not a
// positive integer.
func auctionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auction id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def, limit int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}
