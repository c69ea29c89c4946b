package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram      TelegramConfig
	Hyperliquid   HyperliquidConfig
	Database      DatabaseConfig
	Trading       TradingConfig
	Trailing      TrailingConfig
	PolicyFile    string
	MetricsAddr   string
	NotifyWebhook string
	LogLevel      string
}

type TelegramConfig struct {
	BotToken    string
	ChatIDs     []int64 // каналы с сигналами
	OwnerChatID int64   // получатель уведомлений
}

type HyperliquidConfig struct {
	WalletAddress string
	PrivateKey    string
	BaseURL       string
	Timeout       time.Duration
	RateLimit     int // запросов в секунду
	Testnet       bool
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type TradingConfig struct {
	DefaultPositionSizeUSD float64
	DefaultLeverage        int
	DefaultTPPercent       float64
	DefaultSLPercent       float64
	DefaultTPSLEnabled     bool    // ставить TP/SL по умолчанию, когда сигнал их не содержит
	PriceDeviationPercent  float64 // порог для limit-входа вместо market
	DedupeWindow           time.Duration
}

type TrailingConfig struct {
	Enabled           bool
	CheckInterval     time.Duration
	ActivationPercent float64
	DistancePercent   float64
	UpdateStepPercent float64
}

// Load загружает конфигурацию из .env файла и переменных окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatIDs, err := parseInt64List(getEnv("TELEGRAM_CHAT_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_IDS: %w", err)
	}

	ownerChatID, err := strconv.ParseInt(getEnv("OWNER_TELEGRAM_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OWNER_TELEGRAM_ID: %w", err)
	}

	hlTimeout, err := time.ParseDuration(getEnv("HYPERLIQUID_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HYPERLIQUID_TIMEOUT: %w", err)
	}

	hlRateLimit, err := strconv.Atoi(getEnv("HYPERLIQUID_RATE_LIMIT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid HYPERLIQUID_RATE_LIMIT: %w", err)
	}

	testnet, err := strconv.ParseBool(getEnv("HYPERLIQUID_TESTNET", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid HYPERLIQUID_TESTNET: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	positionSize, err := strconv.ParseFloat(getEnv("DEFAULT_POSITION_SIZE_USD", "12"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_POSITION_SIZE_USD: %w", err)
	}

	defaultLeverage, err := strconv.Atoi(getEnv("DEFAULT_LEVERAGE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_LEVERAGE: %w", err)
	}

	tpPercent, err := strconv.ParseFloat(getEnv("DEFAULT_TP_PERCENT", "0.05"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TP_PERCENT: %w", err)
	}

	slPercent, err := strconv.ParseFloat(getEnv("DEFAULT_SL_PERCENT", "0.02"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_SL_PERCENT: %w", err)
	}

	defaultTPSL, err := strconv.ParseBool(getEnv("DEFAULT_TPSL_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TPSL_ENABLED: %w", err)
	}

	deviation, err := strconv.ParseFloat(getEnv("PRICE_DEVIATION_PERCENT", "0.05"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_DEVIATION_PERCENT: %w", err)
	}

	dedupeWindow, err := time.ParseDuration(getEnv("DEDUPE_WINDOW", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEDUPE_WINDOW: %w", err)
	}

	trailingEnabled, err := strconv.ParseBool(getEnv("TRAILING_STOP_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRAILING_STOP_ENABLED: %w", err)
	}

	trailingInterval, err := time.ParseDuration(getEnv("TRAILING_CHECK_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRAILING_CHECK_INTERVAL: %w", err)
	}

	trailingActivation, err := strconv.ParseFloat(getEnv("TRAILING_ACTIVATION_PERCENT", "0.02"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAILING_ACTIVATION_PERCENT: %w", err)
	}

	trailingDistance, err := strconv.ParseFloat(getEnv("TRAILING_DISTANCE_PERCENT", "0.015"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAILING_DISTANCE_PERCENT: %w", err)
	}

	trailingStep, err := strconv.ParseFloat(getEnv("TRAILING_UPDATE_STEP_PERCENT", "0.002"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TRAILING_UPDATE_STEP_PERCENT: %w", err)
	}

	baseURL := getEnv("HYPERLIQUID_BASE_URL", "https://api.hyperliquid.xyz")
	if testnet {
		baseURL = getEnv("HYPERLIQUID_BASE_URL", "https://api.hyperliquid-testnet.xyz")
	}

	config := &Config{
		Telegram: TelegramConfig{
			BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatIDs:     chatIDs,
			OwnerChatID: ownerChatID,
		},
		Hyperliquid: HyperliquidConfig{
			WalletAddress: getEnv("HYPERLIQUID_API_ADDRESS", ""),
			PrivateKey:    getEnv("HYPERLIQUID_API_KEY", ""),
			BaseURL:       baseURL,
			Timeout:       hlTimeout,
			RateLimit:     hlRateLimit,
			Testnet:       testnet,
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "signal_executor"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		Trading: TradingConfig{
			DefaultPositionSizeUSD: positionSize,
			DefaultLeverage:        defaultLeverage,
			DefaultTPPercent:       tpPercent,
			DefaultSLPercent:       slPercent,
			DefaultTPSLEnabled:     defaultTPSL,
			PriceDeviationPercent:  deviation,
			DedupeWindow:           dedupeWindow,
		},
		Trailing: TrailingConfig{
			Enabled:           trailingEnabled,
			CheckInterval:     trailingInterval,
			ActivationPercent: trailingActivation,
			DistancePercent:   trailingDistance,
			UpdateStepPercent: trailingStep,
		},
		PolicyFile:    getEnv("POLICY_FILE", "configs/policy.yaml"),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		NotifyWebhook: getEnv("NOTIFY_WEBHOOK_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if len(c.Telegram.ChatIDs) == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_IDS is required")
	}
	if c.Hyperliquid.WalletAddress == "" {
		return fmt.Errorf("HYPERLIQUID_API_ADDRESS is required")
	}
	if c.Hyperliquid.PrivateKey == "" {
		return fmt.Errorf("HYPERLIQUID_API_KEY is required")
	}
	if c.Trading.DefaultSLPercent >= c.Trading.DefaultTPPercent {
		fmt.Println("Warning: DEFAULT_SL_PERCENT should be less than DEFAULT_TP_PERCENT")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt64List(value string) ([]int64, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
