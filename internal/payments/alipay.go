package payments

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	alipay "github.com/smartwalle/alipay/v3"
)

var ErrNotConfigured = errors.New("alipay not configured")

type AlipayConfig struct {
	AppID              string
	PrivateKey         string
	AppCertPath        string
	AlipayCertPath     string
	AlipayRootCertPath string
	Env                string
	NotifyURL          string
	ReturnURL          string
	Subject            string
}

type AlipayClient struct {
	client *alipay.Client
	cfg    AlipayConfig
}

// TradeResult is the provider's view of one charge order.
type TradeResult struct {
	OutTradeNo  string
	TradeNo     string
	TradeStatus string
	AmountFen   int64
	Code        string
	Msg         string
	SubCode     string
	SubMsg      string
	Raw         string
	ReceivedAt  time.Time
}

func (r *TradeResult) Paid() bool {
	return r != nil && (r.TradeStatus == string(alipay.TradeStatusSuccess) || r.TradeStatus == string(alipay.TradeStatusFinished))
}

func (r *TradeResult) Closed() bool {
	return r != nil && r.TradeStatus == string(alipay.TradeStatusClosed)
}

// NotFound reports a trade the provider never saw, i.e. the buyer
// never opened the pay page.
func (r *TradeResult) NotFound() bool {
	return r != nil && r.SubCode == "ACQ.TRADE_NOT_EXIST"
}

// NewAlipayClient returns nil, nil when no app id or key is configured.
func NewAlipayClient(cfg AlipayConfig) (*AlipayClient, error) {
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, nil
	}
	privateKey, err := loadKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	cfg = normalizeAlipayConfig(cfg)

	isProd := !strings.Contains(strings.ToLower(cfg.Env), "sandbox")
	client, err := alipay.New(cfg.AppID, privateKey, isProd)
	if err != nil {
		return nil, err
	}
	if cfg.AppCertPath == "" || cfg.AlipayCertPath == "" || cfg.AlipayRootCertPath == "" {
		return nil, errors.New("alipay cert mode requires ALIPAY_APP_CERT_PATH, ALIPAY_ALIPAY_CERT_PATH, ALIPAY_ROOT_CERT_PATH")
	}
	if err := client.LoadAppCertPublicKeyFromFile(cfg.AppCertPath); err != nil {
		return nil, err
	}
	if err := client.LoadAlipayCertPublicKeyFromFile(cfg.AlipayCertPath); err != nil {
		return nil, err
	}
	if err := client.LoadAliPayRootCertFromFile(cfg.AlipayRootCertPath); err != nil {
		return nil, err
	}
	return &AlipayClient{client: client, cfg: cfg}, nil
}

// PagePayURL builds the cashier URL the buyer is sent to.
func (c *AlipayClient) PagePayURL(outTradeNo string, amountFen int64) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrNotConfigured
	}
	if outTradeNo == "" || amountFen <= 0 {
		return "", errors.New("invalid charge request")
	}
	param := alipay.TradePagePay{
		Trade: alipay.Trade{
			NotifyURL:   c.cfg.NotifyURL,
			ReturnURL:   c.cfg.ReturnURL,
			Subject:     c.cfg.Subject,
			OutTradeNo:  outTradeNo,
			TotalAmount: FenToYuan(amountFen),
			ProductCode: "FAST_INSTANT_TRADE_PAY",
		},
	}
	u, err := c.client.TradePagePay(param)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *AlipayClient) QueryTrade(ctx context.Context, outTradeNo string) (*TradeResult, error) {
	if c == nil || c.client == nil {
		return nil, ErrNotConfigured
	}
	if outTradeNo == "" {
		return nil, errors.New("out_trade_no required")
	}
	resp, err := c.client.TradeQuery(ctx, alipay.TradeQuery{OutTradeNo: outTradeNo})
	result := parseTradeQuery(outTradeNo, resp)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (c *AlipayClient) CloseTrade(ctx context.Context, outTradeNo string) error {
	if c == nil || c.client == nil {
		return ErrNotConfigured
	}
	resp, err := c.client.TradeClose(ctx, alipay.TradeClose{OutTradeNo: outTradeNo})
	if err != nil {
		return err
	}
	if resp != nil && resp.Code != "" && resp.Code != alipay.CodeSuccess && resp.SubCode != "ACQ.TRADE_NOT_EXIST" {
		return errors.New(providerMessage(resp.Msg, resp.SubMsg, resp.SubCode))
	}
	return nil
}

func parseTradeQuery(outTradeNo string, resp *alipay.TradeQueryRsp) *TradeResult {
	if resp == nil {
		return &TradeResult{OutTradeNo: outTradeNo, ReceivedAt: time.Now()}
	}
	raw, _ := json.Marshal(resp)
	result := &TradeResult{
		OutTradeNo:  outTradeNo,
		TradeNo:     resp.TradeNo,
		TradeStatus: string(resp.TradeStatus),
		Code:        string(resp.Code),
		Msg:         resp.Msg,
		SubCode:     resp.SubCode,
		SubMsg:      resp.SubMsg,
		Raw:         string(raw),
		ReceivedAt:  time.Now(),
	}
	if resp.OutTradeNo != "" {
		result.OutTradeNo = resp.OutTradeNo
	}
	if amt, err := YuanToFen(resp.TotalAmount); err == nil {
		result.AmountFen = amt
	}
	return result
}

func providerMessage(msg, subMsg, subCode string) string {
	out := strings.TrimSpace(subMsg)
	if out == "" {
		out = strings.TrimSpace(msg)
	}
	if subCode != "" {
		out += "(" + subCode + ")"
	}
	if out == "" {
		out = "alipay request failed"
	}
	return out
}

func normalizeAlipayConfig(cfg AlipayConfig) AlipayConfig {
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	if cfg.Subject == "" {
		cfg.Subject = "Auction deposit top-up"
	}
	cfg.NotifyURL = strings.TrimSpace(cfg.NotifyURL)
	cfg.ReturnURL = strings.TrimSpace(cfg.ReturnURL)
	return cfg
}

func loadKey(val string) (string, error) {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return "", errors.New("empty key")
	}
	if strings.Contains(trimmed, "PRIVATE KEY") {
		return normalizeKey(trimmed), nil
	}
	if fileExists(trimmed) {
		content, err := os.ReadFile(trimmed)
		if err != nil {
			return "", err
		}
		return normalizeKey(string(content)), nil
	}
	return normalizeKey(trimmed), nil
}

func normalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\n", "\n")
	key = strings.TrimSpace(key)
	if strings.Contains(key, "BEGIN") {
		return key
	}
	// raw base64 without a PEM header is treated as PKCS8
	return wrapPemBlock("PRIVATE KEY", key)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func wrapPemBlock(title, raw string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, raw)
	const lineLen = 64
	var b strings.Builder
	b.WriteString("-----BEGIN " + title + "-----\n")
	for i := 0; i < len(clean); i += lineLen {
		end := min(i+lineLen, len(clean))
		b.WriteString(clean[i:end])
		b.WriteString("\n")
	}
	b.WriteString("-----END " + title + "-----")
	return b.String()
}

// FenToYuan renders integer minor units as the provider's amount string.
func FenToYuan(fen int64) string {
	return decimal.New(fen, -2).StringFixed(2)
}

func YuanToFen(val string) (int64, error) {
	raw := strings.TrimSpace(val)
	if raw == "" {
		return 0, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
