package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bidlive/internal/bidding"
	"bidlive/internal/live"
	"bidlive/internal/models"
)

type createAuctionRequest struct {
	Title         string     `json:"title"`
	SellerID      int64      `json:"sellerId"`
	StartBid      int64      `json:"startBid"`
	DepositAmount int64      `json:"depositAmount"`
	StartAt       *time.Time `json:"startAt"`
	EndAt         *time.Time `json:"endAt"`
}

func (s *Server) CreateAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}
	if req.StartBid <= 0 || req.StartBid%bidding.BidIncrement != 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "startBid must be a positive multiple of 100"})
		return
	}
	if req.DepositAmount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depositAmount"})
		return
	}
	startAt := time.Now()
	if req.StartAt != nil {
		startAt = *req.StartAt
	}
	endAt := startAt.Add(time.Hour)
	if req.EndAt != nil {
		endAt = *req.EndAt
	}
	if !endAt.After(startAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endAt must be after startAt"})
		return
	}
	res, err := s.DB.Exec(`INSERT INTO auctions (title, seller_id, start_bid, current_bid_price, deposit_amount, status, start_at, end_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, NOW(), NOW())`,
		req.Title, req.SellerID, req.StartBid, req.DepositAmount, models.AuctionScheduled, startAt, endAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	id, _ := res.LastInsertId()
	a, err := s.loadAuction(c, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) GetAuction(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		return
	}
	a, err := s.loadAuction(c, id)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) loadAuction(c *gin.Context, id int64) (*models.Auction, error) {
	row := s.DB.QueryRow(`SELECT a.id, a.title, a.seller_id, a.start_bid, a.current_bid_price, a.deposit_amount, a.bid_count,
		a.highest_user_id, COALESCE(u.nickname, ''), a.status, a.start_at, a.end_at, a.created_at
		FROM auctions a LEFT JOIN users u ON u.id = a.highest_user_id WHERE a.id=?`, id)
	var a models.Auction
	var highest sql.NullInt64
	var status string
	if err := row.Scan(&a.ID, &a.Title, &a.SellerID, &a.StartBid, &a.CurrentBidPrice, &a.DepositAmount, &a.BidCount,
		&highest, &a.HighestUsername, &status, &a.StartAt, &a.EndAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.HasAnyBid = a.BidCount > 0
	if highest.Valid {
		a.HighestUserID = highest.Int64
	}
	a.Status = auctionStatus(models.AuctionStatus(status), a.StartAt, a.EndAt, time.Now())
	a.ParticipantCount = s.Events.Viewers(c.Request.Context(), id)
	return &a, nil
}

// auctionStatus derives the live status from the schedule. A stored
// ENDED wins so an admin can close early.
func auctionStatus(stored models.AuctionStatus, startAt, endAt, now time.Time) models.AuctionStatus {
	switch {
	case stored == models.AuctionEnded || !now.Before(endAt):
		return models.AuctionEnded
	case now.Before(startAt):
		return models.AuctionScheduled
	default:
		return models.AuctionInProgress
	}
}

func (s *Server) ListBids(c *gin.Context) {
	id, ok := auctionIDParam(c)
	if !ok {
		return
	}
	page := queryInt(c, "page", 0, 0)
	size := queryInt(c, "size", 20, 100)
	if size == 0 {
		size = 20
	}
	var total int64
	if err := s.DB.QueryRow(`SELECT bid_count FROM auctions WHERE id=?`, id).Scan(&total); err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	rows, err := s.DB.Query(`SELECT b.bid_srno, b.user_id, COALESCE(u.nickname, ''), b.bid_price, b.created_at
		FROM bids b LEFT JOIN users u ON u.id = b.user_id
		WHERE b.auction_id=? ORDER BY b.bid_srno DESC LIMIT ? OFFSET ?`, id, size, page*size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	defer rows.Close()
	items := make([]models.BidRecord, 0, size)
	for rows.Next() {
		rec := models.BidRecord{AuctionID: id}
		if err := rows.Scan(&rec.BidSrno, &rec.BidderID, &rec.BidderName, &rec.BidPrice, &rec.BidAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		items = append(items, rec)
	}
	c.JSON(http.StatusOK, models.BidPage{Items: items, Page: page, Size: size, Total: total})
}

func (s *Server) PlaceBid(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	var req models.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	uid := c.GetInt64("uid")
	nickname := c.GetString("nickname")

	tx, err := s.DB.Begin()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	fail := func(status int, msg string) {
		_ = tx.Rollback()
		c.JSON(status, gin.H{"error": msg})
	}

	var startBid, current, bidCount int64
	var stored string
	var startAt, endAt time.Time
	row := tx.QueryRow(`SELECT start_bid, current_bid_price, bid_count, status, start_at, end_at FROM auctions WHERE id=? FOR UPDATE`, auctionID)
	if err := row.Scan(&startBid, &current, &bidCount, &stored, &startAt, &endAt); err != nil {
		if err == sql.ErrNoRows {
			fail(http.StatusNotFound, "auction not found")
			return
		}
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if st := auctionStatus(models.AuctionStatus(stored), startAt, endAt, time.Now()); st != models.AuctionInProgress {
		fail(http.StatusConflict, "auction is not in progress")
		return
	}

	var withdrawn int
	row = tx.QueryRow(`SELECT is_withdrawn FROM participations WHERE auction_id=? AND user_id=? FOR UPDATE`, auctionID, uid)
	if err := row.Scan(&withdrawn); err != nil {
		if err == sql.ErrNoRows {
			fail(http.StatusForbidden, "deposit required before bidding")
			return
		}
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if withdrawn == 1 {
		fail(http.StatusForbidden, "participation withdrawn")
		return
	}

	view := live.AuctionLiveView{StartBid: startBid, CurrentBidPrice: current, HasAnyBid: bidCount > 0}
	if err := bidding.ValidateBid(req.BidPrice, view); err != nil {
		var bidErr *bidding.BidError
		if errors.As(err, &bidErr) {
			fail(http.StatusConflict, bidErr.Reason)
			return
		}
		fail(http.StatusBadRequest, err.Error())
		return
	}

	srno := bidCount + 1
	bidAt := time.Now().UTC().Truncate(time.Millisecond)
	if _, err := tx.Exec(`INSERT INTO bids (auction_id, bid_srno, user_id, bid_price, created_at) VALUES (?, ?, ?, ?, ?)`,
		auctionID, srno, uid, req.BidPrice, bidAt); err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if _, err := tx.Exec(`UPDATE auctions SET current_bid_price=?, bid_count=?, highest_user_id=?, updated_at=NOW() WHERE id=?`,
		req.BidPrice, srno, uid, auctionID); err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if _, err := tx.Exec(`UPDATE participations SET last_bid_price=?, updated_at=NOW() WHERE auction_id=? AND user_id=?`,
		req.BidPrice, auctionID, uid); err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	s.bids.bump(auctionID)
	ctx := c.Request.Context()
	msg := models.StreamMessage{
		Type:            models.MessageBidSuccess,
		CurrentUsers:    s.Events.Viewers(ctx, auctionID),
		BidSrno:         srno,
		HighestUserID:   uid,
		HighestUsername: nickname,
		BidPrice:        req.BidPrice,
		BidAt:           &bidAt,
	}
	if err := s.Events.Publish(ctx, auctionID, msg); err != nil {
		log.Printf("bid %d/%d publish error: %v", auctionID, srno, err)
	}
	c.JSON(http.StatusOK, models.PlaceBidResponse{BidSrno: srno, BidPrice: req.BidPrice, CurrentBidPrice: req.BidPrice})
}
