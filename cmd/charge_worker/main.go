package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"bidlive/internal/config"
	"bidlive/internal/db"
	"bidlive/internal/handlers"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mysql, err := db.NewMySQL(ctx, cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("mysql error: %v", err)
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = db.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
	}
	srv := handlers.NewServer(cfg, mysql, rdb)
	if srv.Alipay == nil {
		log.Fatalf("charge worker: alipay not configured")
	}
	log.Printf("charge worker started")
	handlers.NewChargeWorker(srv).Run(ctx)
	log.Printf("charge worker stopped")
}
