package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	apiKeyENV         = "EXCHANGE_API_KEY"
	apiSecretENV      = "EXCHANGE_API_SECRET"
)

// Config — everything tunable at deploy time. Scoring weights and
// thresholds are contract constants and deliberately not in here.
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB      string `yaml:"db_dsn"`
	Service struct {
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
	} `yaml:"service"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`
	LogFile string `yaml:"log_file"`

	Exchange struct {
		BaseURL   string `yaml:"base_url"`
		WSURL     string `yaml:"ws_url"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"exchange"`

	Trading struct {
		ProductID string `yaml:"product_id"` // e.g. "BTC-USDT"
		CacheDir  string `yaml:"cache_dir"`

		PriceStep float64 `yaml:"price_step"` // exchange price precision
		SizeStep  float64 `yaml:"size_step"`  // exchange size precision
		MinSize   float64 `yaml:"min_size"`   // smallest tradable base amount

		OrderPct        float64       `yaml:"order_pct"`         // fraction of quote balance per entry
		EntryCooldown   time.Duration // between entry orders, env ENTRY_COOLDOWN
		ProfitTargetPct float64       `yaml:"profit_target_pct"` // protective exit above entry, %
	} `yaml:"trading"`

	Trailing struct {
		InitialTargetPct    float64       `yaml:"initial_target_pct"` // active->trailing gate, %
		MinHold             time.Duration // env MIN_HOLD
		TrailStepPct        float64       `yaml:"trail_step_pct"` // stop distance below price, %
		MinProfitPct        float64       `yaml:"min_profit_pct"` // stop floor above entry, %
		MaxStopMultiplier   float64       `yaml:"max_stop_mult"`  // stop ceiling vs entry
		MoveCooldown        time.Duration // between stop moves, env MOVE_COOLDOWN
		MaxConsecutiveMoves int           `yaml:"max_moves"`     // per trailing session
		MomentumThreshold   float64       `yaml:"momentum_min"`  // required to move the stop
		MomentumExit        float64       `yaml:"momentum_exit"` // below this -> close
		MaxDrawdownPct      float64       `yaml:"max_drawdown_pct"`
		MaxTrailDuration    time.Duration // env MAX_TRAIL_DURATION
		DownTickLimit       int           `yaml:"down_tick_limit"`
		VolumeFloorFrac     float64       `yaml:"volume_floor_frac"` // vs trail-start volume
	} `yaml:"trailing"`

	Loop struct {
		CycleOffset  time.Duration // past the minute boundary, env CYCLE_OFFSET
		TrailPoll    time.Duration // env TRAIL_POLL
		FetchTimeout time.Duration // watchdog for in-flight flags, env FETCH_TIMEOUT
		ErrorCeiling int           `yaml:"error_ceiling"` // consecutive errors before the poll stops
	} `yaml:"loop"`

	RateLimit struct {
		BaseInterval time.Duration // env RATE_LIMIT_BASE_INTERVAL
		MaxAttempts  int           `yaml:"max_attempts"`
	} `yaml:"rate_limit"`
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := defaults()
	err = decoder.Decode(config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		config.Telegram.Token = token
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Telegram.ChatID = id
		}
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		config.DB = dsn
	}
	if k := os.Getenv(apiKeyENV); k != "" {
		config.Exchange.APIKey = k
	}
	if s := os.Getenv(apiSecretENV); s != "" {
		config.Exchange.APISecret = s
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaults() *Config {
	c := &Config{}
	c.Service.AdminPort = 8080
	c.Exchange.BaseURL = "https://api.exchange.local"
	c.Exchange.WSURL = "wss://ws.exchange.local"

	c.Trading.ProductID = getenvDefault("PRODUCT_ID", "BTC-USDT")
	c.Trading.CacheDir = getenvDefault("CACHE_DIR", "cache")
	c.Trading.PriceStep = floatFromEnv("PRICE_STEP", 0.01)
	c.Trading.SizeStep = floatFromEnv("SIZE_STEP", 0.0001)
	c.Trading.MinSize = floatFromEnv("MIN_SIZE", 0.0001)
	c.Trading.OrderPct = floatFromEnv("ORDER_PCT", 0.25)
	c.Trading.EntryCooldown = durationFromEnv("ENTRY_COOLDOWN", "5m")
	c.Trading.ProfitTargetPct = floatFromEnv("PROFIT_TARGET_PCT", 1.5)

	c.Trailing.InitialTargetPct = 0.8
	c.Trailing.MinHold = durationFromEnv("MIN_HOLD", "10m")
	c.Trailing.TrailStepPct = 0.3
	c.Trailing.MinProfitPct = 0.4
	c.Trailing.MaxStopMultiplier = 1.25
	c.Trailing.MoveCooldown = durationFromEnv("MOVE_COOLDOWN", "2m")
	c.Trailing.MaxConsecutiveMoves = 20
	c.Trailing.MomentumThreshold = 0.55
	c.Trailing.MomentumExit = 0.25
	c.Trailing.MaxDrawdownPct = 2.5
	c.Trailing.MaxTrailDuration = durationFromEnv("MAX_TRAIL_DURATION", "6h")
	c.Trailing.DownTickLimit = 5
	c.Trailing.VolumeFloorFrac = 0.3

	c.Loop.CycleOffset = durationFromEnv("CYCLE_OFFSET", "1500ms")
	c.Loop.TrailPoll = durationFromEnv("TRAIL_POLL", "30s")
	c.Loop.FetchTimeout = durationFromEnv("FETCH_TIMEOUT", "45s")
	c.Loop.ErrorCeiling = intFromEnv("ERROR_CEILING", 10)

	c.RateLimit.BaseInterval = durationFromEnv("RATE_LIMIT_BASE_INTERVAL", "350ms")
	c.RateLimit.MaxAttempts = intFromEnv("RATE_LIMIT_MAX_ATTEMPTS", 5)
	return c
}

func (c *Config) validate() error {
	if c.Trading.ProductID == "" || !strings.Contains(c.Trading.ProductID, "-") {
		return fmt.Errorf("trading.product_id must look like BASE-QUOTE, got %q", c.Trading.ProductID)
	}
	if c.Trading.OrderPct <= 0 || c.Trading.OrderPct > 1 {
		return fmt.Errorf("trading.order_pct must be in (0,1], got %v", c.Trading.OrderPct)
	}
	if c.Trailing.TrailStepPct <= 0 {
		return fmt.Errorf("trailing.trail_step_pct must be > 0")
	}
	if c.Trailing.MinProfitPct < 0 {
		return fmt.Errorf("trailing.min_profit_pct must be >= 0")
	}
	return nil
}

// BaseCurrency — left side of the product, the asset we accumulate.
func (c *Config) BaseCurrency() string {
	return strings.SplitN(c.Trading.ProductID, "-", 2)[0]
}

// QuoteCurrency — right side of the product, the asset we spend.
func (c *Config) QuoteCurrency() string {
	parts := strings.SplitN(c.Trading.ProductID, "-", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
