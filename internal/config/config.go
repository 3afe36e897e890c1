package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Mode int

const (
	// ModeChat runs the chat client against a platform.
	ModeChat Mode = iota
	// ModePlatform runs the local dev platform.
	ModePlatform
	// ModeCLI only talks to the admin API.
	ModeCLI
)

type Config struct {
	// Client side.
	APIURL       string
	WSURL        string
	WorkspaceID  string
	DMChannelID  string
	UserID       string
	UserSecret   string
	Token        string
	MetricsAddr  string
	LogLevel     string
	HistoryPage  int
	PublisherTTL time.Duration

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubject     string
	PushSubscription string

	// Dev platform.
	DBFile      string
	APIAddr     string
	AdminAddr   string
	AuthSecret  string
	TokenExpiry time.Duration
	InboundRate float64
}

// Load reads the environment, after applying an optional .env file.
func Load(mode Mode) (*Config, error) {
	_ = godotenv.Load(".env")

	var (
		cfg = &Config{
			APIURL:           getEnv("CHATLINE_API_URL", "http://localhost:8080"),
			WSURL:            getEnv("CHATLINE_WS_URL", "ws://localhost:8080"),
			WorkspaceID:      getEnv("WORKSPACE_ID", "demo"),
			DMChannelID:      getEnv("DM_CHANNEL_ID", "dm"),
			UserID:           os.Getenv("USER_ID"),
			UserSecret:       os.Getenv("USER_SECRET"),
			Token:            os.Getenv("TOKEN"),
			MetricsAddr:      os.Getenv("METRICS_ADDR"),
			LogLevel:         getEnv("LOG_LEVEL", "info"),
			VAPIDPublicKey:   os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey:  os.Getenv("VAPID_PRIVATE_KEY"),
			VAPIDSubject:     getEnv("VAPID_SUBJECT", "mailto:chatline@localhost"),
			PushSubscription: os.Getenv("PUSH_SUBSCRIPTION"),
			DBFile:           getEnv("PLATFORM_DB", "chatline.db"),
			APIAddr:          getEnv("PLATFORM_ADDR", ":8080"),
			AdminAddr:        getEnv("ADMIN_ADDR", "localhost:8081"),
			AuthSecret:       os.Getenv("AUTH_SECRET"),
		}
		err error
	)

	if cfg.ReconnectBaseDelay, err = getDuration("RECONNECT_BASE_DELAY", "1s"); err != nil {
		return nil, err
	}
	if cfg.ReconnectMaxDelay, err = getDuration("RECONNECT_MAX_DELAY", "30s"); err != nil {
		return nil, err
	}
	if cfg.PublisherTTL, err = getDuration("PUBLISHER_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.TokenExpiry, err = getDuration("TOKEN_EXPIRY", "24h"); err != nil {
		return nil, err
	}
	if cfg.ReconnectMaxAttempts, err = getInt("RECONNECT_MAX_ATTEMPTS", "5"); err != nil {
		return nil, err
	}
	if cfg.HistoryPage, err = getInt("HISTORY_PAGE_SIZE", "100"); err != nil {
		return nil, err
	}
	if cfg.InboundRate, err = strconv.ParseFloat(getEnv("INBOUND_RATE", "20"), 64); err != nil {
		return nil, fmt.Errorf("INBOUND_RATE: %w", err)
	}

	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(mode Mode) error {
	switch mode {
	case ModeChat:
		if c.Token == "" && (c.UserID == "" || c.UserSecret == "") {
			return fmt.Errorf("TOKEN or USER_ID and USER_SECRET are required")
		}
		if c.WorkspaceID == "" {
			return fmt.Errorf("WORKSPACE_ID is required")
		}
	case ModePlatform:
		if c.AuthSecret == "" {
			return fmt.Errorf("AUTH_SECRET is required")
		}
		if c.TokenExpiry <= 0 {
			return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
		}
		if c.InboundRate <= 0 {
			return fmt.Errorf("INBOUND_RATE must be greater than 0")
		}
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY must be greater than 0")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("RECONNECT_MAX_DELAY must not be less than RECONNECT_BASE_DELAY")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if c.HistoryPage <= 0 {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be greater than 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key, fallback string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
