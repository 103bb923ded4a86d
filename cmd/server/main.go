package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"bidlive/internal/config"
	"bidlive/internal/db"
	"bidlive/internal/handlers"
)

func main() {
	cfg := config.Load()
	if cfg.JWTSecret == "" || cfg.JWTSecret == "change-me" {
		log.Printf("warning: JWT_SECRET is the default value")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mysql, err := db.NewMySQL(ctx, cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("mysql error: %v", err)
	}
	if err := db.InitSchema(ctx, mysql); err != nil {
		log.Fatalf("schema error: %v", err)
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = db.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
	} else {
		log.Printf("redis disabled: sessions unchecked, events stay on this instance")
	}

	srv := handlers.NewServer(cfg, mysql, rdb)
	if err := srv.Events.Start(ctx); err != nil {
		log.Fatalf("event relay error: %v", err)
	}
	srv.StartBidRateFlusher(ctx)
	if cfg.ChargeWorkerEnabled {
		worker := handlers.NewChargeWorker(srv)
		go worker.Run(ctx)
		log.Printf("charge worker enabled in server")
	}

	r := gin.Default()
	r.GET("/ws", func(c *gin.Context) {
		srv.HandleWS(c.Writer, c.Request)
	})

	api := r.Group("/api")
	{
		api.POST("/auth/login", srv.Login)
		api.GET("/user/me", srv.AuthRequired(), srv.GetMe)

		api.GET("/auctions/:id", srv.GetAuction)
		api.GET("/auctions/:id/bids", srv.ListBids)
		api.POST("/auctions/:id/bids", srv.AuthRequired(), srv.PlaceBid)
		api.GET("/auctions/:id/participation", srv.AuthRequired(), srv.GetParticipation)
		api.POST("/auctions/:id/participation", srv.AuthRequired(), srv.CreateParticipation)
		api.POST("/auctions/:id/participation/withdraw", srv.AuthRequired(), srv.WithdrawParticipation)

		deposits := api.Group("/deposits", srv.AuthRequired())
		deposits.GET("/account", srv.GetDepositAccount)
		deposits.GET("/history", srv.GetDepositHistory)
		deposits.POST("/charges", srv.CreateCharge)
		deposits.GET("/charges/:orderNo", srv.GetCharge)
		deposits.POST("/charges/:orderNo/success", srv.ChargeSuccess)
		deposits.POST("/charges/:orderNo/fail", srv.ChargeFail)

		api.POST("/payments/alipay/notify", srv.AlipayNotify)

		api.POST("/admin/login", srv.AdminLogin)
		admin := api.Group("/admin", srv.AdminRequired())
		admin.POST("/auctions", srv.CreateAuction)
		admin.GET("/auctions", srv.ListAuctions)
		admin.POST("/auctions/:id/end", srv.EndAuction)
		admin.GET("/auctions/:id/metrics", srv.GetAuctionMetrics)
		admin.POST("/reset", srv.ResetAll)
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })

	log.Printf("server listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatal(err)
	}
}
