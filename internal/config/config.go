package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Trading      TradingConfig      `mapstructure:"trading"`
	PriceCache   PriceCacheConfig   `mapstructure:"price_cache"`
	Wallets      WalletsConfig      `mapstructure:"wallets"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Supervisor   SupervisorConfig   `mapstructure:"supervisor"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ExchangeConfig struct {
	Driver string `mapstructure:"driver"`

	// Low-privilege market-data credential used by the price refresher.
	// Tenant trading credentials live in the settings store, not here.
	TickerAPIKey    string `mapstructure:"ticker_api_key"`
	TickerAPISecret string `mapstructure:"ticker_api_secret"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type TradingConfig struct {
	BasePacingSeconds        int `mapstructure:"base_pacing_seconds"`
	SubscriptionCheckSeconds int `mapstructure:"subscription_check_seconds"`
	RateLimitBackoffSeconds  int `mapstructure:"rate_limit_backoff_seconds"`
	FundsBackoffSeconds      int `mapstructure:"funds_backoff_seconds"`
	ErrorBackoffSeconds      int `mapstructure:"error_backoff_seconds"`
	OrderAbandonSeconds      int `mapstructure:"order_abandon_seconds"`
}

type PriceCacheConfig struct {
	RefreshSeconds int     `mapstructure:"refresh_seconds"`
	SweepSeconds   int     `mapstructure:"sweep_seconds"`
	EvictSeconds   int     `mapstructure:"evict_seconds"`
	FetchQPS       float64 `mapstructure:"fetch_qps"`
}

type WalletsConfig struct {
	Addresses      []string `mapstructure:"addresses"`
	ReserveSeconds int      `mapstructure:"reserve_seconds"`
}

type PaymentConfig struct {
	ExplorerAPIKey  string  `mapstructure:"explorer_api_key"`
	ExplorerBaseURL string  `mapstructure:"explorer_base_url"`
	ChainID         int     `mapstructure:"chain_id"`
	PollSeconds     int     `mapstructure:"poll_seconds"`
	MaxWaitSeconds  int     `mapstructure:"max_wait_seconds"`
	ExtensionDays   int     `mapstructure:"extension_days"`
	DefaultPrice    float64 `mapstructure:"default_price"`
}

type SubscriptionConfig struct {
	NotifyIntervalSeconds int `mapstructure:"notify_interval_seconds"`
	TrialHours            int `mapstructure:"trial_hours"`
}

type SupervisorConfig struct {
	SweepSeconds         int `mapstructure:"sweep_seconds"`
	RestartSuppressAfter int `mapstructure:"restart_suppress_after"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	// .env is optional; deployments may use the environment directly.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// e.g. SCALPER_TELEGRAM_BOT_TOKEN
	viper.SetEnvPrefix("scalper")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.admin_key", "")
	viper.SetDefault("database.path", "./data/scalper.db")
	viper.SetDefault("exchange.driver", "sim")
	viper.SetDefault("trading.base_pacing_seconds", 2)
	viper.SetDefault("trading.subscription_check_seconds", 60)
	viper.SetDefault("trading.rate_limit_backoff_seconds", 60)
	viper.SetDefault("trading.funds_backoff_seconds", 5)
	viper.SetDefault("trading.error_backoff_seconds", 30)
	viper.SetDefault("trading.order_abandon_seconds", 600)
	viper.SetDefault("price_cache.refresh_seconds", 10)
	viper.SetDefault("price_cache.sweep_seconds", 600)
	viper.SetDefault("price_cache.evict_seconds", 7200)
	viper.SetDefault("price_cache.fetch_qps", 5)
	viper.SetDefault("wallets.reserve_seconds", 3600)
	viper.SetDefault("payment.explorer_base_url", "https://api.etherscan.io/v2/api")
	viper.SetDefault("payment.chain_id", 56)
	viper.SetDefault("payment.poll_seconds", 60)
	viper.SetDefault("payment.max_wait_seconds", 3600)
	viper.SetDefault("payment.extension_days", 30)
	viper.SetDefault("payment.default_price", 30)
	viper.SetDefault("subscription.notify_interval_seconds", 3600)
	viper.SetDefault("subscription.trial_hours", 48)
	viper.SetDefault("supervisor.sweep_seconds", 15)
	viper.SetDefault("supervisor.restart_suppress_after", 0)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
