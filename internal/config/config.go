package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr             string
	MySQLDSN             string
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	JWTSecret            string
	AdminToken           string
	AdminNicknames       map[string]bool
	AlipayAppID          string
	AlipayPrivateKey     string
	AlipayAppCertPath    string
	AlipayAlipayCertPath string
	AlipayRootCertPath   string
	AlipayEnv            string
	AlipayNotifyURL      string
	AlipayReturnURL      string
	AlipaySubject        string
	PaymentsDevMode      bool
	ChargeWorkerEnabled  bool
	ResetEnabled         bool

	// client side
	BackendURL          string
	StreamURL           string
	AuthToken           string
	ReconnectDelay      time.Duration
	MaxReconnectRetries int
	IntentTTL           time.Duration
}

func Load() Config {
	loadDotEnv(".env")
	cfg := Config{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		MySQLDSN:             getEnv("MYSQL_DSN", "root:password@tcp(127.0.0.1:3306)/bidlive?parseTime=true&charset=utf8mb4"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		JWTSecret:            getEnv("JWT_SECRET", "change-me"),
		AdminToken:           getEnv("ADMIN_TOKEN", ""),
		AlipayAppID:          getEnv("ALIPAY_APP_ID", ""),
		AlipayPrivateKey:     getEnv("ALIPAY_PRIVATE_KEY", ""),
		AlipayAppCertPath:    getEnv("ALIPAY_APP_CERT_PATH", ""),
		AlipayAlipayCertPath: getEnv("ALIPAY_ALIPAY_CERT_PATH", ""),
		AlipayRootCertPath:   getEnv("ALIPAY_ROOT_CERT_PATH", ""),
		AlipayEnv:            getEnv("ALIPAY_ENV", "prod"),
		AlipayNotifyURL:      getEnv("ALIPAY_NOTIFY_URL", ""),
		AlipayReturnURL:      getEnv("ALIPAY_RETURN_URL", ""),
		AlipaySubject:        getEnv("ALIPAY_SUBJECT", "Auction deposit top-up"),
		PaymentsDevMode:      getEnvBool("PAYMENTS_DEV_MODE", false),
		ChargeWorkerEnabled:  getEnvBool("CHARGE_WORKER_ENABLED", false),
		ResetEnabled:         getEnvBool("RESET_ENABLED", false),

		BackendURL:          getEnv("BACKEND_URL", "http://127.0.0.1:8080"),
		StreamURL:           getEnv("STREAM_URL", "ws://127.0.0.1:8080/ws"),
		AuthToken:           getEnv("AUTH_TOKEN", ""),
		ReconnectDelay:      time.Duration(getEnvInt("STREAM_RECONNECT_DELAY_MS", 3000)) * time.Millisecond,
		MaxReconnectRetries: getEnvInt("STREAM_MAX_RETRIES", 3),
		IntentTTL:           time.Duration(getEnvInt("INTENT_TTL_SEC", 1800)) * time.Second,
	}
	if cfg.MaxReconnectRetries < 1 {
		cfg.MaxReconnectRetries = 1
	}
	if cfg.ReconnectDelay < 100*time.Millisecond {
		cfg.ReconnectDelay = 100 * time.Millisecond
	}
	if cfg.IntentTTL < time.Minute {
		cfg.IntentTTL = time.Minute
	}
	cfg.AdminNicknames = parseCSVSet(getEnv("ADMIN_NICKNAMES", ""))
	return cfg
}

func parseCSVSet(val string) map[string]bool {
	set := make(map[string]bool)
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		set[item] = true
	}
	return set
}

func getEnv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), "\"")
		if key == "" {
			continue
		}
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
}

func getEnvInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvBool(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if val == "" {
		return def
	}
	switch val {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
