package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"bidlive/internal/config"
	"bidlive/internal/payments"
)

func main() {
	action := flag.String("action", "query", "page|query|close")
	amountFen := flag.Int64("amount_fen", 0, "charge amount in fen")
	amountYuan := flag.String("amount_yuan", "", "charge amount in yuan, e.g. 10.50")
	orderNo := flag.String("order_no", "", "charge order number (out_trade_no)")
	flag.Parse()

	cfg := config.Load()
	client, err := payments.NewAlipayClient(payments.AlipayConfig{
		AppID:              cfg.AlipayAppID,
		PrivateKey:         cfg.AlipayPrivateKey,
		AppCertPath:        cfg.AlipayAppCertPath,
		AlipayCertPath:     cfg.AlipayAlipayCertPath,
		AlipayRootCertPath: cfg.AlipayRootCertPath,
		Env:                cfg.AlipayEnv,
		NotifyURL:          cfg.AlipayNotifyURL,
		ReturnURL:          cfg.AlipayReturnURL,
		Subject:            cfg.AlipaySubject,
	})
	if err != nil || client == nil {
		exitErr(fmt.Errorf("alipay not configured: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	no := strings.TrimSpace(*orderNo)
	switch strings.ToLower(*action) {
	case "page":
		amount := *amountFen
		if amount <= 0 && strings.TrimSpace(*amountYuan) != "" {
			amount, err = payments.YuanToFen(*amountYuan)
			if err != nil {
				exitErr(err)
				return
			}
		}
		if amount <= 0 {
			exitErr(fmt.Errorf("amount required"))
			return
		}
		if no == "" {
			no = "CLI" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		url, err := client.PagePayURL(no, amount)
		if err != nil {
			exitErr(err)
			return
		}
		printJSON(map[string]string{"orderNo": no, "amount": payments.FenToYuan(amount), "payUrl": url})
	case "query":
		if no == "" {
			exitErr(fmt.Errorf("order_no required"))
			return
		}
		res, err := client.QueryTrade(ctx, no)
		printJSON(res)
		if err != nil {
			exitErr(err)
		}
	case "close":
		if no == "" {
			exitErr(fmt.Errorf("order_no required"))
			return
		}
		if err := client.CloseTrade(ctx, no); err != nil {
			exitErr(err)
			return
		}
		printJSON(map[string]string{"orderNo": no, "status": "closed"})
	default:
		exitErr(fmt.Errorf("unknown action %q", *action))
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(os.Stdout, string(data))
}

func exitErr(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
