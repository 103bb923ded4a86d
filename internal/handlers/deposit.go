package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bidlive/internal/models"
)

const maxChargeAmount = 10_000_000

var (
	errChargeNotFound = errors.New("charge not found")
	errChargeState    = errors.New("charge already settled")
)

func (s *Server) GetDepositAccount(c *gin.Context) {
	uid := c.GetInt64("uid")
	balance := int64(0)
	row := s.DB.QueryRow(`SELECT balance FROM deposit_accounts WHERE user_id=?`, uid)
	if err := row.Scan(&balance); err != nil && err != sql.ErrNoRows {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, models.DepositAccount{UserID: uid, Balance: balance})
}

func (s *Server) GetDepositHistory(c *gin.Context) {
	uid := c.GetInt64("uid")
	limit := queryInt(c, "limit", 20, 100)
	if limit == 0 {
		limit = 20
	}
	rows, err := s.DB.Query(`SELECT id, amount, reason, ref_id, created_at
		FROM deposit_ledger WHERE user_id=? ORDER BY id DESC LIMIT ?`, uid, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	defer rows.Close()
	items := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var e models.LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.Amount, &reason, &e.RefID, &e.CreatedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		e.Reason = models.LedgerReason(reason)
		items = append(items, e)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) CreateCharge(c *gin.Context) {
	var req models.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount <= 0 || req.Amount > maxChargeAmount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if s.Alipay == nil && !s.paymentsDevMode() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payments not configured"})
		return
	}
	uid := c.GetInt64("uid")
	orderNo := newOrderNo()
	payURL := "dev://charge/" + orderNo
	if s.Alipay != nil {
		url, err := s.Alipay.PagePayURL(orderNo, req.Amount)
		if err != nil {
			log.Printf("charge %s pay url error: %v", orderNo, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider error"})
			return
		}
		payURL = url
	}
	if _, err := s.DB.Exec(`INSERT INTO charge_orders (order_no, user_id, amount, status, pay_url, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW(), NOW())`,
		orderNo, uid, req.Amount, models.ChargePending, payURL, time.Now().Add(chargeFirstCheck)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, models.ChargeOrder{
		OrderNo:   orderNo,
		UserID:    uid,
		Amount:    req.Amount,
		Status:    models.ChargePending,
		PayURL:    payURL,
		CreatedAt: time.Now(),
	})
}

func (s *Server) GetCharge(c *gin.Context) {
	order, err := s.loadCharge(c.Param("orderNo"), c.GetInt64("uid"))
	if err != nil {
		s.chargeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ChargeSuccess is called by the client when the pay page returns. The
// provider is asked before anything is credited; dev mode trusts the
// caller.
func (s *Server) ChargeSuccess(c *gin.Context) {
	uid := c.GetInt64("uid")
	order, err := s.loadCharge(c.Param("orderNo"), uid)
	if err != nil {
		s.chargeError(c, err)
		return
	}
	if order.Status == models.ChargePending {
		paid := s.paymentsDevMode()
		tradeNo := ""
		if s.Alipay != nil {
			res, err := s.Alipay.QueryTrade(c.Request.Context(), order.OrderNo)
			if err != nil && !res.NotFound() {
				log.Printf("charge %s query error: %v", order.OrderNo, err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider error"})
				return
			}
			paid = res.Paid()
			tradeNo = res.TradeNo
		}
		if !paid {
			c.JSON(http.StatusConflict, gin.H{"error": "payment not confirmed"})
			return
		}
		if err := s.creditCharge(c.Request.Context(), order.OrderNo, tradeNo); err != nil && !errors.Is(err, errChargeState) {
			s.chargeError(c, err)
			return
		}
		if order, err = s.loadCharge(order.OrderNo, uid); err != nil {
			s.chargeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) ChargeFail(c *gin.Context) {
	uid := c.GetInt64("uid")
	order, err := s.loadCharge(c.Param("orderNo"), uid)
	if err != nil {
		s.chargeError(c, err)
		return
	}
	if order.Status == models.ChargePending {
		if _, err := s.DB.Exec(`UPDATE charge_orders SET status=?, fail_reason=?, next_attempt_at=NULL, updated_at=NOW() WHERE order_no=? AND status=?`,
			models.ChargeFailed, "cancelled by user", order.OrderNo, models.ChargePending); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}
		if s.Alipay != nil {
			if err := s.Alipay.CloseTrade(c.Request.Context(), order.OrderNo); err != nil {
				log.Printf("charge %s close error: %v", order.OrderNo, err)
			}
		}
		if order, err = s.loadCharge(order.OrderNo, uid); err != nil {
			s.chargeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, order)
}

// AlipayNotify handles the async payment notification. The form only
// names the order; its state is always read back from the provider.
func (s *Server) AlipayNotify(c *gin.Context) {
	if s.Alipay == nil {
		c.String(http.StatusServiceUnavailable, "fail")
		return
	}
	orderNo := strings.TrimSpace(c.PostForm("out_trade_no"))
	if orderNo == "" {
		c.String(http.StatusBadRequest, "fail")
		return
	}
	res, err := s.Alipay.QueryTrade(c.Request.Context(), orderNo)
	if err != nil && !res.NotFound() {
		log.Printf("notify %s query error: %v", orderNo, err)
		c.String(http.StatusOK, "fail")
		return
	}
	if res.Paid() {
		if err := s.creditCharge(c.Request.Context(), orderNo, res.TradeNo); err != nil && !errors.Is(err, errChargeState) {
			log.Printf("notify %s credit error: %v", orderNo, err)
			c.String(http.StatusOK, "fail")
			return
		}
	}
	c.String(http.StatusOK, "success")
}

// creditCharge marks a pending order paid and credits the deposit
// account once. A settled order returns errChargeState.
func (s *Server) creditCharge(ctx context.Context, orderNo, tradeNo string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var uid, amount int64
	var status string
	row := tx.QueryRowContext(ctx, `SELECT user_id, amount, status FROM charge_orders WHERE order_no=? FOR UPDATE`, orderNo)
	if err := row.Scan(&uid, &amount, &status); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return errChargeNotFound
		}
		return err
	}
	if models.ChargeStatus(status) != models.ChargePending {
		_ = tx.Rollback()
		return errChargeState
	}
	if _, err := tx.ExecContext(ctx, `UPDATE charge_orders SET status=?, trade_no=?, paid_at=NOW(), next_attempt_at=NULL, updated_at=NOW() WHERE order_no=?`,
		models.ChargePaid, sql.NullString{String: tradeNo, Valid: tradeNo != ""}, orderNo); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := creditAccount(tx, uid, amount); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := writeLedger(tx, uid, amount, models.LedgerCharge, orderNo); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("charge %s paid: user=%d amount=%d", orderNo, uid, amount)
	return nil
}

func (s *Server) loadCharge(orderNo string, uid int64) (*models.ChargeOrder, error) {
	row := s.DB.QueryRow(`SELECT order_no, user_id, amount, status, COALESCE(pay_url, ''), created_at, paid_at
		FROM charge_orders WHERE order_no=? AND user_id=?`, orderNo, uid)
	var o models.ChargeOrder
	var status string
	var paidAt sql.NullTime
	if err := row.Scan(&o.OrderNo, &o.UserID, &o.Amount, &status, &o.PayURL, &o.CreatedAt, &paidAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errChargeNotFound
		}
		return nil, err
	}
	o.Status = models.ChargeStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

func (s *Server) chargeError(c *gin.Context, err error) {
	if errors.Is(err, errChargeNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "charge not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func creditAccount(tx execer, uid, amount int64) error {
	_, err := tx.Exec(`INSERT INTO deposit_accounts (user_id, balance, created_at, updated_at) VALUES (?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE balance=balance+VALUES(balance), updated_at=NOW()`, uid, amount)
	return err
}

func writeLedger(tx execer, uid, amount int64, reason models.LedgerReason, refID string) error {
	_, err := tx.Exec(`INSERT INTO deposit_ledger (user_id, amount, reason, ref_id, created_at) VALUES (?, ?, ?, ?, NOW())`,
		uid, amount, reason, refID)
	return err
}

func newOrderNo() string {
	return "BL" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
