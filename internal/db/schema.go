package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		nickname VARCHAR(64) NOT NULL,
		is_admin TINYINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uk_nickname (nickname)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS auctions (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		seller_id BIGINT NOT NULL DEFAULT 0,
		start_bid BIGINT NOT NULL,
		current_bid_price BIGINT NOT NULL DEFAULT 0,
		deposit_amount BIGINT NOT NULL,
		bid_count BIGINT NOT NULL DEFAULT 0,
		highest_user_id BIGINT NULL,
		status VARCHAR(16) NOT NULL,
		start_at DATETIME NOT NULL,
		end_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bids (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		auction_id BIGINT NOT NULL,
		bid_srno BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		bid_price BIGINT NOT NULL,
		created_at DATETIME(3) NOT NULL,
		UNIQUE KEY uk_auction_srno (auction_id, bid_srno)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS participations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		auction_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		deposit_amount BIGINT NOT NULL,
		last_bid_price BIGINT NULL,
		is_withdrawn TINYINT NOT NULL DEFAULT 0,
		is_refund TINYINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uk_auction_user (auction_id, user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS deposit_accounts (
		user_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS deposit_ledger (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		reason VARCHAR(16) NOT NULL,
		ref_id VARCHAR(64) NOT NULL,
		created_at DATETIME NOT NULL,
		KEY idx_user (user_id, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS charge_orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_no VARCHAR(64) NOT NULL,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		pay_url TEXT NULL,
		trade_no VARCHAR(64) NULL,
		fail_reason VARCHAR(255) NULL,
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at DATETIME NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		paid_at DATETIME NULL,
		UNIQUE KEY uk_order_no (order_no),
		KEY idx_status (status, next_attempt_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// InitSchema creates missing tables. Existing tables are left alone.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
