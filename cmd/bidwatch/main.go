package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/redis/go-redis/v9"

	"bidlive/internal/api"
	"bidlive/internal/bidding"
	"bidlive/internal/config"
	"bidlive/internal/intent"
	"bidlive/internal/live"
	"bidlive/internal/stomp"
	"bidlive/internal/tui"
)

func main() {
	auctionID := flag.Int64("auction", 0, "auction id to watch")
	nickname := flag.String("nickname", "", "dev login nickname (ignored when AUTH_TOKEN is set)")
	resume := flag.String("resume", "", "charge order number to resume after a top-up")
	topUp := flag.Int64("topup", 0, "open a charge order for this amount, print its pay URL and exit")
	thenBid := flag.Int64("then-bid", 0, "with -topup: bid this amount once the charge is resumed")
	cancelOrder := flag.String("cancel", "", "abandon this charge order and its pending follow-up")
	logPath := flag.String("log", "bidwatch.log", "log file")
	flag.Parse()
	if *auctionID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: bidwatch -auction <id> [-nickname name] [-topup amount [-then-bid amount] | -resume orderNo | -cancel orderNo]")
		os.Exit(2)
	}

	logFile, err := tea.LogToFile(*logPath, "bidwatch ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logFile.Close()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := api.NewClient(cfg.BackendURL, cfg.AuthToken)
	if cfg.AuthToken == "" {
		if *nickname == "" {
			log.Fatalf("set AUTH_TOKEN or pass -nickname")
		}
		if _, err := client.Login(ctx, *nickname); err != nil {
			log.Fatalf("login: %v", err)
		}
	}
	me, err := client.Me(ctx)
	if err != nil {
		log.Fatalf("who am i: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+client.Token())
	stream := stomp.NewClient(stomp.Options{
		URL:            cfg.StreamURL,
		Header:         header,
		ReconnectDelay: cfg.ReconnectDelay,
		MaxRetries:     cfg.MaxReconnectRetries,
	})

	var intents intent.Store = intent.NewMemoryStore(cfg.IntentTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err == nil {
			intents = intent.NewRedisStore(rdb, cfg.IntentTTL)
		} else {
			log.Printf("redis unavailable, intents kept in memory: %v", err)
		}
	}

	coord := bidding.NewCoordinator(bidding.Options{
		UserID:    me.ID,
		AuctionID: *auctionID,
		Backend:   client,
		Stream:    stream,
		Intents:   intents,
	})
	if err := coord.Load(ctx); err != nil {
		log.Fatalf("load auction %d: %v", *auctionID, err)
	}
	if *topUp > 0 {
		var bid *int64
		if *thenBid > 0 {
			bid = thenBid
		}
		order, err := coord.StartTopUp(ctx, *topUp, bid)
		if err != nil {
			log.Fatalf("top-up: %v", err)
		}
		fmt.Printf("order %s\npay at %s\nthen run: bidwatch -auction %d -resume %s\n",
			order.OrderNo, order.PayURL, *auctionID, order.OrderNo)
		return
	}
	if *cancelOrder != "" {
		order, err := coord.CancelTopUp(ctx, *cancelOrder)
		if err != nil {
			log.Fatalf("cancel %s: %v", *cancelOrder, err)
		}
		fmt.Printf("order %s is %s\n", order.OrderNo, order.Status)
		return
	}
	if *resume != "" {
		res, err := coord.ResumeIntent(ctx, *resume)
		if err != nil {
			log.Printf("resume %s: %v", *resume, err)
		} else {
			log.Printf("resume %s: paid=%v participated=%v", *resume, res.Paid, res.Participated)
		}
		if err != nil || !res.Paid {
			if order, err := client.GetCharge(ctx, *resume); err == nil {
				log.Printf("resume %s: order is %s", *resume, order.Status)
			}
		}
	}

	stores := tui.Stores{Views: coord.Views, Participation: coord.Participation, Balance: coord.Balance}
	model := tui.NewModel(coord, me.ID).Seed(stores, stream.Machine())
	p := tea.NewProgram(model, tea.WithAltScreen())
	// changes made before Run are queued by Bind, not lost
	stop := tui.Bind(p, stores, stream.Machine())
	defer stop()

	reducer := live.NewReducer(coord.Views)
	if err := stream.Connect(stomp.AuctionTopic(*auctionID), reducer.Handle); err != nil {
		log.Printf("stream: %v", err)
	}
	defer stream.Disconnect()

	if _, err := p.Run(); err != nil {
		log.Printf("tui: %v", err)
	}
	coord.Wait()
}
