package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"bidlive/internal/models"
)

const (
	chargeFirstCheck = time.Minute
	chargeExpiry     = 30 * time.Minute
)

// ChargeWorker settles charge orders whose notification never arrived
// by polling the provider.
type ChargeWorker struct {
	srv           *Server
	pollInterval  time.Duration
	retryInterval time.Duration
	expireAfter   time.Duration
}

type chargeJob struct {
	OrderNo   string
	UserID    int64
	Amount    int64
	Attempts  int
	CreatedAt time.Time
}

func NewChargeWorker(srv *Server) *ChargeWorker {
	return &ChargeWorker{
		srv:           srv,
		pollInterval:  2 * time.Second,
		retryInterval: 30 * time.Second,
		expireAfter:   chargeExpiry,
	}
}

func (w *ChargeWorker) Run(ctx context.Context) {
	if w == nil || w.srv == nil || w.srv.DB == nil {
		log.Printf("charge worker: db not configured")
		return
	}
	if w.srv.Alipay == nil {
		log.Printf("charge worker: alipay not configured")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		processed, err := w.processOnce(ctx)
		if err != nil {
			log.Printf("charge worker error: %v", err)
		}
		if !processed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

func (w *ChargeWorker) processOnce(ctx context.Context) (bool, error) {
	job, err := w.pickNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	res, err := w.srv.Alipay.QueryTrade(ctx, job.OrderNo)
	if err != nil && !res.NotFound() {
		_ = w.scheduleNextAttempt(job.OrderNo, time.Now().Add(w.retryInterval))
		return true, err
	}
	switch {
	case res.Paid():
		err := w.srv.creditCharge(ctx, job.OrderNo, res.TradeNo)
		if errors.Is(err, errChargeState) {
			return true, nil
		}
		return true, err
	case res.Closed():
		return true, w.markClosed(job.OrderNo, "closed by provider")
	case time.Since(job.CreatedAt) > w.expireAfter:
		if !res.NotFound() {
			if err := w.srv.Alipay.CloseTrade(ctx, job.OrderNo); err != nil {
				_ = w.scheduleNextAttempt(job.OrderNo, time.Now().Add(w.retryInterval))
				return true, err
			}
		}
		return true, w.markClosed(job.OrderNo, "expired unpaid")
	default:
		return true, w.scheduleNextAttempt(job.OrderNo, time.Now().Add(w.backoff(job.Attempts)))
	}
}

func (w *ChargeWorker) pickNext(ctx context.Context) (*chargeJob, error) {
	tx, err := w.srv.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	row := tx.QueryRowContext(ctx, `SELECT order_no, user_id, amount, attempts, created_at
		FROM charge_orders
		WHERE status=? AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY id ASC
		LIMIT 1 FOR UPDATE`, models.ChargePending)
	var job chargeJob
	if err := row.Scan(&job.OrderNo, &job.UserID, &job.Amount, &job.Attempts, &job.CreatedAt); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	job.Attempts++
	if _, err := tx.ExecContext(ctx, `UPDATE charge_orders SET attempts=?, next_attempt_at=?, updated_at=NOW() WHERE order_no=?`,
		job.Attempts, time.Now().Add(w.retryInterval), job.OrderNo); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (w *ChargeWorker) markClosed(orderNo, reason string) error {
	_, err := w.srv.DB.Exec(`UPDATE charge_orders SET status=?, fail_reason=?, next_attempt_at=NULL, updated_at=NOW() WHERE order_no=? AND status=?`,
		models.ChargeClosed, reason, orderNo, models.ChargePending)
	return err
}

func (w *ChargeWorker) scheduleNextAttempt(orderNo string, nextAt time.Time) error {
	_, err := w.srv.DB.Exec(`UPDATE charge_orders SET next_attempt_at=?, updated_at=NOW() WHERE order_no=?`, nextAt, orderNo)
	return err
}

// backoff grows with attempts and is capped at five minutes.
func (w *ChargeWorker) backoff(attempts int) time.Duration {
	d := w.retryInterval
	for i := 1; i < attempts && d < 5*time.Minute; i++ {
		d *= 2
	}
	return min(d, 5*time.Minute)
}
