// Package api is the typed REST client for the auction backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"bidlive/internal/models"
)

// Error is a non-2xx answer. Message is the server's "error" field.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
		token: token,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login uses the dev login and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, nickname string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"nickname": nickname}, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.do(ctx, http.MethodGet, "/api/user/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetAuction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	var out models.Auction
	if err := c.do(ctx, http.MethodGet, auctionPath(auctionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBids(ctx context.Context, auctionID int64, page, size int) (*models.BidPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out models.BidPage
	if err := c.do(ctx, http.MethodGet, auctionPath(auctionID, "/bids")+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PlaceBid(ctx context.Context, auctionID, price int64) (*models.PlaceBidResponse, error) {
	var out models.PlaceBidResponse
	body := models.PlaceBidRequest{BidPrice: price}
	if err := c.do(ctx, http.MethodPost, auctionPath(auctionID, "/bids"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetParticipation(ctx context.Context, auctionID int64) (*models.Participation, error) {
	return c.participation(ctx, http.MethodGet, auctionPath(auctionID, "/participation"))
}

// CreateParticipation pays the deposit from the caller's balance.
func (c *Client) CreateParticipation(ctx context.Context, auctionID int64) (*models.Participation, error) {
	return c.participation(ctx, http.MethodPost, auctionPath(auctionID, "/participation"))
}

func (c *Client) WithdrawParticipation(ctx context.Context, auctionID int64) (*models.Participation, error) {
	return c.participation(ctx, http.MethodPost, auctionPath(auctionID, "/participation/withdraw"))
}

func (c *Client) participation(ctx context.Context, method, path string) (*models.Participation, error) {
	var out models.Participation
	if err := c.do(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDepositAccount(ctx context.Context) (*models.DepositAccount, error) {
	var out models.DepositAccount
	if err := c.do(ctx, http.MethodGet, "/api/deposits/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDepositHistory(ctx context.Context) ([]models.LedgerEntry, error) {
	var out struct {
		Items []models.LedgerEntry `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/deposits/history", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CreateCharge(ctx context.Context, amount int64) (*models.ChargeOrder, error) {
	var out models.ChargeOrder
	body := models.CreateChargeRequest{Amount: amount}
	if err := c.do(ctx, http.MethodPost, "/api/deposits/charges", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCharge(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	return c.charge(ctx, http.MethodGet, "/api/deposits/charges/"+url.PathEscape(orderNo))
}

func (c *Client) ChargeSuccess(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	return c.charge(ctx, http.MethodPost, "/api/deposits/charges/"+url.PathEscape(orderNo)+"/success")
}

func (c *Client) ChargeFail(ctx context.Context, orderNo string) (*models.ChargeOrder, error) {
	return c.charge(ctx, http.MethodPost, "/api/deposits/charges/"+url.PathEscape(orderNo)+"/fail")
}

func (c *Client) charge(ctx context.Context, method, path string) (*models.ChargeOrder, error) {
	var out models.ChargeOrder
	if err := c.do(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func auctionPath(id int64, suffix string) string {
	return "/api/auctions/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
