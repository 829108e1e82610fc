package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ProductConfig maps one provider product reference to its effect. Kind is
// "coins" (grants Coins) or "subscription" (grants Tier on the given Cycle).
type ProductConfig struct {
	Ref   string `json:"ref"`
	Kind  string `json:"kind"`
	Coins int64  `json:"coins"`
	Tier  string `json:"tier"`
	Cycle string `json:"cycle"`
}

// AppConfig holds environment driven configuration values.
// Provider secrets never have defaults inside code and must come from the
// environment or the config file.
type AppConfig struct {
	AppPort   string
	JWTSecret string

	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string

	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	RateLimitPerMinute int
	AllowedOrigins     []string

	// Gin framework configuration
	GinMode string
	GinPath string

	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Billing providers
	StripeWebhookSecret  string
	StripeToleranceSec   int
	PaddleWebhookSecret  string
	AppStoreSharedSecret string
	AppStoreVerifyURL    string
	AppStoreSandboxURL   string
	AppStoreTimeoutSec   int
	AppStoreMock         bool
	Products             []ProductConfig

	// Progression
	LevelThresholds  []int64
	StreakWindowHrs  int
	SweepIntervalMin int
	ActivityXP       int64
	PurchaseXPPer100 int64
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	// Precedence: config/config.json -> defaults -> environment variable overrides
	_ = loadJSONConfig(filepath.Join("config", "config.json"), &cfg)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// jsonConfig mirrors the grouped layout of config/config.json.
type jsonConfig struct {
	App struct {
		AppPort            string   `json:"AppPort"`
		JWTSecret          string   `json:"JWTSecret"`
		RateLimitPerMinute int      `json:"RateLimitPerMinute"`
		AllowedOrigins     []string `json:"AllowedOrigins"`
	} `json:"app"`
	Database struct {
		DatabaseURI string `json:"DatabaseURI"`
		DBHost      string `json:"DBHost"`
		DBPort      string `json:"DBPort"`
		DBUser      string `json:"DBUser"`
		DBPassword  string `json:"DBPassword"`
		DBName      string `json:"DBName"`
	} `json:"database"`
	Redis struct {
		RedisHost     string `json:"RedisHost"`
		RedisPort     int    `json:"RedisPort"`
		RedisDB       int    `json:"RedisDB"`
		RedisPassword string `json:"RedisPassword"`
	} `json:"redis"`
	Log struct {
		Level      string `json:"Level"`
		Path       string `json:"Path"`
		GinMode    string `json:"GinMode"`
		GinPath    string `json:"GinPath"`
		MaxSizeMB  int    `json:"MaxSizeMB"`
		MaxBackups int    `json:"MaxBackups"`
		MaxAgeDays int    `json:"MaxAgeDays"`
		Compress   bool   `json:"Compress"`
	} `json:"log"`
	Billing struct {
		StripeWebhookSecret  string          `json:"StripeWebhookSecret"`
		StripeToleranceSec   int             `json:"StripeToleranceSec"`
		PaddleWebhookSecret  string          `json:"PaddleWebhookSecret"`
		AppStoreSharedSecret string          `json:"AppStoreSharedSecret"`
		AppStoreVerifyURL    string          `json:"AppStoreVerifyURL"`
		AppStoreSandboxURL   string          `json:"AppStoreSandboxURL"`
		AppStoreTimeoutSec   int             `json:"AppStoreTimeoutSec"`
		AppStoreMock         bool            `json:"AppStoreMock"`
		Products             []ProductConfig `json:"Products"`
	} `json:"billing"`
	Progression struct {
		LevelThresholds  []int64 `json:"LevelThresholds"`
		StreakWindowHrs  int     `json:"StreakWindowHrs"`
		SweepIntervalMin int     `json:"SweepIntervalMin"`
		ActivityXP       int64   `json:"ActivityXP"`
		PurchaseXPPer100 int64   `json:"PurchaseXPPer100"`
	} `json:"progression"`
}

// loadJSONConfig reads the JSON file into cfg if present. Returns an error
// only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var jc jsonConfig
	if err := json.NewDecoder(f).Decode(&jc); err != nil {
		return err
	}

	out.AppPort = jc.App.AppPort
	out.JWTSecret = jc.App.JWTSecret
	out.RateLimitPerMinute = jc.App.RateLimitPerMinute
	out.AllowedOrigins = jc.App.AllowedOrigins

	out.DatabaseURI = jc.Database.DatabaseURI
	out.DBHost = jc.Database.DBHost
	out.DBPort = jc.Database.DBPort
	out.DBUser = jc.Database.DBUser
	out.DBPassword = jc.Database.DBPassword
	out.DBName = jc.Database.DBName

	out.RedisHost = jc.Redis.RedisHost
	out.RedisPort = jc.Redis.RedisPort
	out.RedisDB = jc.Redis.RedisDB
	out.RedisPassword = jc.Redis.RedisPassword

	out.LogLevel = jc.Log.Level
	out.LogPath = jc.Log.Path
	out.GinMode = jc.Log.GinMode
	out.GinPath = jc.Log.GinPath
	out.LogMaxSizeMB = jc.Log.MaxSizeMB
	out.LogMaxBackups = jc.Log.MaxBackups
	out.LogMaxAgeDays = jc.Log.MaxAgeDays
	out.LogCompress = jc.Log.Compress

	out.StripeWebhookSecret = jc.Billing.StripeWebhookSecret
	out.StripeToleranceSec = jc.Billing.StripeToleranceSec
	out.PaddleWebhookSecret = jc.Billing.PaddleWebhookSecret
	out.AppStoreSharedSecret = jc.Billing.AppStoreSharedSecret
	out.AppStoreVerifyURL = jc.Billing.AppStoreVerifyURL
	out.AppStoreSandboxURL = jc.Billing.AppStoreSandboxURL
	out.AppStoreTimeoutSec = jc.Billing.AppStoreTimeoutSec
	out.AppStoreMock = jc.Billing.AppStoreMock
	out.Products = jc.Billing.Products

	out.LevelThresholds = jc.Progression.LevelThresholds
	out.StreakWindowHrs = jc.Progression.StreakWindowHrs
	out.SweepIntervalMin = jc.Progression.SweepIntervalMin
	out.ActivityXP = jc.Progression.ActivityXP
	out.PurchaseXPPer100 = jc.Progression.PurchaseXPPer100

	return nil
}

// applyDefaults sets sane defaults for zero-value fields. Level thresholds
// and the streak window are product parameters; the values below are the
// shipped defaults, overridable per deployment.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "ascend"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.StripeToleranceSec == 0 {
		c.StripeToleranceSec = 300
	}
	if c.AppStoreVerifyURL == "" {
		c.AppStoreVerifyURL = "https://buy.itunes.apple.com/verifyReceipt"
	}
	if c.AppStoreSandboxURL == "" {
		c.AppStoreSandboxURL = "https://sandbox.itunes.apple.com/verifyReceipt"
	}
	if c.AppStoreTimeoutSec == 0 {
		c.AppStoreTimeoutSec = 10
	}
	if len(c.Products) == 0 {
		c.Products = []ProductConfig{
			{Ref: "coins_500", Kind: "coins", Coins: 500},
			{Ref: "coins_1200", Kind: "coins", Coins: 1200},
			{Ref: "coins_3000", Kind: "coins", Coins: 3000},
			{Ref: "plus_monthly", Kind: "subscription", Tier: "plus", Cycle: "monthly"},
			{Ref: "plus_yearly", Kind: "subscription", Tier: "plus", Cycle: "yearly"},
			{Ref: "pro_monthly", Kind: "subscription", Tier: "pro", Cycle: "monthly"},
			{Ref: "pro_yearly", Kind: "subscription", Tier: "pro", Cycle: "yearly"},
		}
	}
	if len(c.LevelThresholds) == 0 {
		c.LevelThresholds = []int64{0, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000}
	}
	if c.StreakWindowHrs == 0 {
		c.StreakWindowHrs = 48
	}
	if c.SweepIntervalMin == 0 {
		c.SweepIntervalMin = 60
	}
	if c.ActivityXP == 0 {
		c.ActivityXP = 10
	}
	if c.PurchaseXPPer100 == 0 {
		c.PurchaseXPPer100 = 5
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("JWT_SECRET", ""); v != "" {
		c.JWTSecret = v
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("STRIPE_WEBHOOK_SECRET", ""); v != "" {
		c.StripeWebhookSecret = v
	}
	if v := getEnv("STRIPE_TOLERANCE_SEC", ""); v != "" {
		c.StripeToleranceSec = mustParseInt(v)
	}
	if v := getEnv("PADDLE_WEBHOOK_SECRET", ""); v != "" {
		c.PaddleWebhookSecret = v
	}
	if v := getEnv("APPSTORE_SHARED_SECRET", ""); v != "" {
		c.AppStoreSharedSecret = v
	}
	if v := getEnv("APPSTORE_VERIFY_URL", ""); v != "" {
		c.AppStoreVerifyURL = v
	}
	if v := getEnv("APPSTORE_SANDBOX_URL", ""); v != "" {
		c.AppStoreSandboxURL = v
	}
	if v := getEnv("APPSTORE_TIMEOUT_SEC", ""); v != "" {
		c.AppStoreTimeoutSec = mustParseInt(v)
	}
	if v := getEnv("APPSTORE_MOCK", ""); v != "" {
		c.AppStoreMock = v == "true"
	}
	if v := getEnv("STREAK_WINDOW_HRS", ""); v != "" {
		c.StreakWindowHrs = mustParseInt(v)
	}
	if v := getEnv("SWEEP_INTERVAL_MIN", ""); v != "" {
		c.SweepIntervalMin = mustParseInt(v)
	}
	if v := getEnv("ACTIVITY_XP", ""); v != "" {
		c.ActivityXP = int64(mustParseInt(v))
	}
	if v := getEnv("PURCHASE_XP_PER_100", ""); v != "" {
		c.PurchaseXPPer100 = int64(mustParseInt(v))
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
