package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bidlive/internal/models"
)

func (s *Server) GetParticipation(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	p, err := s.loadParticipation(s.DB, auctionID, c.GetInt64("uid"), false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, p)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

// loadParticipation returns an empty participation when the user never
// paid a deposit for the auction.
func (s *Server) loadParticipation(q queryRower, auctionID, uid int64, lock bool) (*models.Participation, error) {
	query := `SELECT deposit_amount, last_bid_price, is_withdrawn, is_refund FROM participations WHERE auction_id=? AND user_id=?`
	if lock {
		query += ` FOR UPDATE`
	}
	p := &models.Participation{AuctionID: auctionID}
	var lastBid sql.NullInt64
	var withdrawn, refund int
	err := q.QueryRow(query, auctionID, uid).Scan(&p.DepositAmount, &lastBid, &withdrawn, &refund)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.IsParticipated = true
	p.IsWithdrawn = withdrawn == 1
	p.IsRefund = refund == 1
	if lastBid.Valid {
		v := lastBid.Int64
		p.LastBidPrice = &v
	}
	return p, nil
}

// CreateParticipation pays the auction deposit out of the deposit
// account.
func (s *Server) CreateParticipation(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	uid := c.GetInt64("uid")

	tx, err := s.DB.Begin()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	fail := func(status int, msg string) {
		_ = tx.Rollback()
		c.JSON(status, gin.H{"error": msg})
	}

	var deposit int64
	var stored string
	var startAt, endAt time.Time
	row := tx.QueryRow(`SELECT deposit_amount, status, start_at, end_at FROM auctions WHERE id=? LOCK IN SHARE MODE`, auctionID)
	if err := row.Scan(&deposit, &stored, &startAt, &endAt); err != nil {
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

	var balance int64
	row = tx.QueryRow(`SELECT balance FROM deposit_accounts WHERE user_id=? FOR UPDATE`, uid)
	if err := row.Scan(&balance); err != nil && err != sql.ErrNoRows {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	existing, err := s.loadParticipation(tx, auctionID, uid, true)
	if err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if existing.IsWithdrawn {
		fail(http.StatusConflict, "participation withdrawn")
		return
	}
	if existing.IsParticipated {
		if err := tx.Commit(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		c.JSON(http.StatusOK, existing)
		return
	}
	if balance < deposit {
		fail(http.StatusPaymentRequired, fmt.Sprintf("insufficient balance: have %d, need %d", balance, deposit))
		return
	}

	if _, err := tx.Exec(`INSERT INTO participations (auction_id, user_id, deposit_amount, created_at, updated_at) VALUES (?, ?, ?, NOW(), NOW())`,
		auctionID, uid, deposit); err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if deposit > 0 {
		if _, err := tx.Exec(`UPDATE deposit_accounts SET balance=balance-?, updated_at=NOW() WHERE user_id=?`, deposit, uid); err != nil {
			fail(http.StatusInternalServerError, "db error")
			return
		}
		if err := writeLedger(tx, uid, -deposit, models.LedgerDeposit, participationRef(auctionID)); err != nil {
			fail(http.StatusInternalServerError, "db error")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, models.Participation{AuctionID: auctionID, IsParticipated: true, DepositAmount: deposit})
}

// WithdrawParticipation gives up the auction and refunds the deposit.
// The current highest bidder cannot leave.
func (s *Server) WithdrawParticipation(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	uid := c.GetInt64("uid")

	tx, err := s.DB.Begin()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	fail := func(status int, msg string) {
		_ = tx.Rollback()
		c.JSON(status, gin.H{"error": msg})
	}

	var highest sql.NullInt64
	if err := tx.QueryRow(`SELECT highest_user_id FROM auctions WHERE id=? FOR UPDATE`, auctionID).Scan(&highest); err != nil {
		if err == sql.ErrNoRows {
			fail(http.StatusNotFound, "auction not found")
			return
		}
		fail(http.StatusInternalServerError, "db error")
		return
	}
	p, err := s.loadParticipation(tx, auctionID, uid, true)
	if err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	switch {
	case !p.IsParticipated:
		fail(http.StatusConflict, "not participating")
		return
	case p.IsWithdrawn:
		fail(http.StatusConflict, "already withdrawn")
		return
	case highest.Valid && highest.Int64 == uid:
		fail(http.StatusConflict, "highest bidder cannot withdraw")
		return
	}

	if _, err := tx.Exec(`UPDATE participations SET is_withdrawn=1, is_refund=?, updated_at=NOW() WHERE auction_id=? AND user_id=?`,
		boolToInt(p.DepositAmount > 0), auctionID, uid); err != nil {
		fail(http.StatusInternalServerError, "db error")
		return
	}
	if p.DepositAmount > 0 {
		if err := creditAccount(tx, uid, p.DepositAmount); err != nil {
			fail(http.StatusInternalServerError, "db error")
			return
		}
		if err := writeLedger(tx, uid, p.DepositAmount, models.LedgerRefund, participationRef(auctionID)); err != nil {
			fail(http.StatusInternalServerError, "db error")
			return
		}
	}
	if err := tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	p.IsWithdrawn = true
	p.IsRefund = p.DepositAmount > 0
	c.JSON(http.StatusOK, p)
}

func participationRef(auctionID int64) string {
	return fmt.Sprintf("auction:%d", auctionID)
}
