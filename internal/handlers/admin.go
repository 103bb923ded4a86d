package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bidlive/internal/models"
	"bidlive/internal/stomp"
)

func (s *Server) ListAuctions(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 200)
	if limit == 0 {
		limit = 50
	}
	rows, err := s.DB.Query(`SELECT id, title, start_bid, current_bid_price, deposit_amount, bid_count, status, start_at, end_at, created_at
		FROM auctions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	defer rows.Close()
	now := time.Now()
	items := make([]models.Auction, 0)
	for rows.Next() {
		var a models.Auction
		var status string
		if err := rows.Scan(&a.ID, &a.Title, &a.StartBid, &a.CurrentBidPrice, &a.DepositAmount, &a.BidCount,
			&status, &a.StartAt, &a.EndAt, &a.CreatedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		a.HasAnyBid = a.BidCount > 0
		a.Status = auctionStatus(models.AuctionStatus(status), a.StartAt, a.EndAt, now)
		items = append(items, a)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// EndAuction closes an auction before its scheduled end.
func (s *Server) EndAuction(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		return
	}
	res, err := s.DB.Exec(`UPDATE auctions SET status=?, updated_at=NOW() WHERE id=?`, models.AuctionEnded, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.AuctionEnded})
}

func (s *Server) GetAuctionMetrics(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		return
	}
	var bidCount, current int64
	var endAt time.Time
	err := s.DB.QueryRow(`SELECT bid_count, current_bid_price, end_at FROM auctions WHERE id=?`, id).Scan(&bidCount, &current, &endAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	ctx := c.Request.Context()
	now := time.Now()
	avg, last := s.calcBidRate(ctx, id, now.Unix())
	timeLeft := endAt.Sub(now).Milliseconds()
	if timeLeft < 0 {
		timeLeft = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"auctionId":       id,
		"viewers":         s.Events.Viewers(ctx, id),
		"localSockets":    s.Hub.SubscriberCount(stomp.AuctionTopic(id)),
		"bidCount":        bidCount,
		"currentBidPrice": current,
		"bidsPerSec":      avg,
		"bidsLastSec":     last,
		"timeLeftMs":      timeLeft,
	})
}

var resetTables = []string{
	"deposit_ledger",
	"charge_orders",
	"deposit_accounts",
	"bids",
	"participations",
	"auctions",
	"users",
}

var resetPatterns = []string{"session:uid:*", "auction:*", "intent:*"}

// ResetAll wipes every table and the live Redis state. Only for
// development databases.
func (s *Server) ResetAll(c *gin.Context) {
	if !s.Cfg.ResetEnabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "reset disabled"})
		return
	}
	if s.Redis != nil {
		ctx := context.Background()
		for _, pattern := range resetPatterns {
			var cursor uint64
			for {
				keys, next, err := s.Redis.Scan(ctx, cursor, pattern, 1000).Result()
				if err != nil {
					c.JSON(http.StatusInternalServerError, gin.H{"error": "redis scan error"})
					return
				}
				if len(keys) > 0 {
					_ = s.Redis.Del(ctx, keys...).Err()
				}
				cursor = next
				if cursor == 0 {
					break
				}
			}
		}
	}
	if s.DB != nil {
		for _, table := range resetTables {
			if _, err := s.DB.Exec("TRUNCATE TABLE " + table); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "db error: truncate " + table})
				return
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
