package handlers

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"bidlive/internal/auth"
	"bidlive/internal/config"
	"bidlive/internal/payments"
)

const (
	userTokenTTL  = 7 * 24 * time.Hour
	adminTokenTTL = 8 * time.Hour
)

type Server struct {
	Cfg       config.Config
	DB        *sql.DB
	Redis     *redis.Client
	JWTSecret []byte
	Hub       *Hub
	Events    *EventRelay
	Alipay    *payments.AlipayClient

	bids bidRate
}

func NewServer(cfg config.Config, db *sql.DB, redis *redis.Client) *Server {
	alipayClient, err := payments.NewAlipayClient(payments.AlipayConfig{
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
	if err != nil {
		log.Printf("alipay init error: %v", err)
	}
	hub := NewHub()
	return &Server{
		Cfg:       cfg,
		DB:        db,
		Redis:     redis,
		JWTSecret: []byte(cfg.JWTSecret),
		Hub:       hub,
		Events:    NewEventRelay(redis, hub),
		Alipay:    alipayClient,
	}
}

func (s *Server) SignToken(user *userRow) (string, error) {
	sessionID := newSessionID()
	if err := s.saveSession(user.ID, sessionID, userTokenTTL); err != nil {
		return "", err
	}
	return auth.GenerateToken(s.JWTSecret, user.ID, user.Nickname, user.IsAdmin, sessionID, userTokenTTL)
}

func (s *Server) SignAdminToken() (string, error) {
	sessionID := newSessionID()
	if err := s.saveSession(0, sessionID, adminTokenTTL); err != nil {
		return "", err
	}
	return auth.GenerateToken(s.JWTSecret, 0, "admin", true, sessionID, adminTokenTTL)
}

func (s *Server) saveSession(userID int64, sessionID string, ttl time.Duration) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Set(context.Background(), sessionKey(userID), sessionID, ttl).Err()
}

// validateSession enforces one live login per user. Without Redis every
// well-signed token is accepted.
func (s *Server) validateSession(userID int64, sessionID string) error {
	if s.Redis == nil {
		return nil
	}
	val, err := s.Redis.Get(context.Background(), sessionKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return errInvalidSession
		}
		return err
	}
	if val != sessionID {
		return errInvalidSession
	}
	return nil
}

// authenticate resolves a bearer token into claims with a live session.
func (s *Server) authenticate(token string) (*auth.Claims, error) {
	claims, err := auth.ParseToken(s.JWTSecret, token)
	if err != nil {
		return nil, errInvalidToken
	}
	if err := s.validateSession(claims.UserID, claims.SessionID); err != nil {
		return nil, err
	}
	return claims, nil
}

// paymentsDevMode confirms charges without asking the provider. It only
// applies when no provider is configured.
func (s *Server) paymentsDevMode() bool {
	return s.Alipay == nil && s.Cfg.PaymentsDevMode
}
