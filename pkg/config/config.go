package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Twitter    TwitterConfig
	Proxy      ProxyConfig
	Scraper    ScraperConfig
	Quota      QuotaConfig
	Cache      CacheConfig
	Redis      RedisConfig
	Dynamo     DynamoConfig
	Postgres   PostgresConfig
	Archive    ArchiveConfig
	S3         S3Config
	NATS       NATSConfig
	CloudWatch CloudWatchConfig
	Security   SecurityConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level             string
	CloudWatchEnabled bool
	LogGroup          string
	LogStream         string
	RetentionDays     int
}

type TwitterConfig struct {
	BaseURL        string
	BearerToken    string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

type ProxyConfig struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

type ScraperConfig struct {
	Mirrors        []string
	Timeout        time.Duration
	Parser         string // "regex" или "html"
	WidgetFallback bool
	UserAgent      string
	MaxItems       int
}

type QuotaConfig struct {
	HourlyLimit     int
	DailyLimit      int
	WeeklyLimit     int
	EconomyHours    []int
	EconomyWeekdays []time.Weekday
	Location        *time.Location
}

type CacheConfig struct {
	// DurableBackend: "dynamodb", "redis" или "none"
	DurableBackend string
	Dir            string
	FileTTL        time.Duration
	DurableTTL     time.Duration
	MemoryTTL      time.Duration
	Cooldown       time.Duration
	// FetchTimeout общий лимит прохода цепочки провайдеров, не зависящий от клиента
	FetchTimeout   time.Duration
	PurgeSchedule  string
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DynamoConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	CacheTable      string
	ArchiveTable    string
	StrongReads     bool
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type ArchiveConfig struct {
	Enabled bool
	// MetadataBackend: "dynamodb" или "postgres"
	MetadataBackend string
	KeyPrefix       string
	Delay           time.Duration
	Timeout         time.Duration
	MaxAssetBytes   int64
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLMode         string
	PresignedTTL    time.Duration
}

type NATSConfig struct {
	Enabled       bool
	URL           string
	Stream        string
	SubjectPrefix string
}

type CloudWatchConfig struct {
	MetricsEnabled  bool
	Namespace       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	FlushInterval   time.Duration
}

type SecurityConfig struct {
	AllowedOrigins  []string
	AuthEnabled     bool
	AuthToken       string
	RateLimitPerSec float64
	RateLimitBurst  int
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	durations := map[string]string{
		"OFFICIAL_API_TIMEOUT":    "15s",
		"PROXY_API_TIMEOUT":       "15s",
		"SCRAPER_TIMEOUT":         "10s",
		"CACHE_FILE_TTL":          "168h",
		"CACHE_DURABLE_TTL":       "24h",
		"CACHE_MEMORY_TTL":        "2h",
		"CACHE_COOLDOWN":          "30m",
		"FETCH_TIMEOUT":           "2m",
		"ARCHIVE_DELAY":           "500ms",
		"ARCHIVE_TIMEOUT":         "5m",
		"S3_PRESIGNED_TTL":        "168h",
		"CLOUDWATCH_FLUSH":        "30s",
		"SERVER_SHUTDOWN_TIMEOUT": "30s",
	}
	parsed := make(map[string]time.Duration, len(durations))
	for key, def := range durations {
		d, err := parseDuration(getEnv(key, def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parsed[key] = d
	}

	ints := map[string]string{
		"QUOTA_HOURLY_LIMIT":   "3",
		"QUOTA_DAILY_LIMIT":    "25",
		"QUOTA_WEEKLY_LIMIT":   "100",
		"SCRAPER_MAX_ITEMS":    "20",
		"REDIS_DB":             "0",
		"ARCHIVE_MAX_ASSET_MB": "50",
		"RATE_LIMIT_BURST":     "20",

		"CLOUDWATCH_LOG_RETENTION_DAYS": "14",
	}
	parsedInts := make(map[string]int, len(ints))
	for key, def := range ints {
		v, err := strconv.Atoi(getEnv(key, def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		parsedInts[key] = v
	}

	economyHours, err := parseIntList(getEnv("QUOTA_ECONOMY_HOURS", "0,1,2,3,4,5,6"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_ECONOMY_HOURS: %w", err)
	}

	economyWeekdays, err := parseWeekdays(getEnv("QUOTA_ECONOMY_WEEKDAYS", "sunday"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_ECONOMY_WEEKDAYS: %w", err)
	}

	location, err := time.LoadLocation(getEnv("QUOTA_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTA_TIMEZONE: %w", err)
	}

	rateLimit, err := strconv.ParseFloat(getEnv("RATE_LIMIT_PER_SEC", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_SEC: %w", err)
	}

	awsRegion := getEnv("AWS_REGION", "us-east-1")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: parsed["SERVER_SHUTDOWN_TIMEOUT"],
		},
		Logging: LoggingConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			CloudWatchEnabled: getEnvBool("CLOUDWATCH_LOGS_ENABLED", false),
			LogGroup:          getEnv("CLOUDWATCH_LOG_GROUP", "/media-relay/api"),
			LogStream:         getEnv("CLOUDWATCH_LOG_STREAM", hostnameOr("media-relay")),
			RetentionDays:     parsedInts["CLOUDWATCH_LOG_RETENTION_DAYS"],
		},
		Twitter: TwitterConfig{
			BaseURL:        getEnv("TWITTER_API_BASE_URL", "https://api.twitter.com"),
			BearerToken:    getEnv("TWITTER_BEARER_TOKEN", ""),
			ConsumerKey:    getEnv("TWITTER_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("TWITTER_CONSUMER_SECRET", ""),
			Timeout:        parsed["OFFICIAL_API_TIMEOUT"],
		},
		Proxy: ProxyConfig{
			BaseURL: getEnv("PROXY_API_BASE_URL", "https://twitter-api45.p.rapidapi.com"),
			APIKey:  getEnv("PROXY_API_KEY", ""),
			APIHost: getEnv("PROXY_API_HOST", "twitter-api45.p.rapidapi.com"),
			Timeout: parsed["PROXY_API_TIMEOUT"],
		},
		Scraper: ScraperConfig{
			Mirrors:        splitCSV(getEnv("SCRAPER_MIRRORS", "https://nitter.net,https://nitter.privacydev.net,https://nitter.poast.org")),
			Timeout:        parsed["SCRAPER_TIMEOUT"],
			Parser:         strings.ToLower(getEnv("SCRAPER_PARSER", "regex")),
			WidgetFallback: getEnvBool("SCRAPER_WIDGET_FALLBACK", true),
			UserAgent:      getEnv("SCRAPER_USER_AGENT", ""),
			MaxItems:       parsedInts["SCRAPER_MAX_ITEMS"],
		},
		Quota: QuotaConfig{
			HourlyLimit:     parsedInts["QUOTA_HOURLY_LIMIT"],
			DailyLimit:      parsedInts["QUOTA_DAILY_LIMIT"],
			WeeklyLimit:     parsedInts["QUOTA_WEEKLY_LIMIT"],
			EconomyHours:    economyHours,
			EconomyWeekdays: economyWeekdays,
			Location:        location,
		},
		Cache: CacheConfig{
			DurableBackend: strings.ToLower(getEnv("CACHE_DURABLE_BACKEND", "dynamodb")),
			Dir:            getEnv("CACHE_DIR", "./data/cache"),
			FileTTL:        parsed["CACHE_FILE_TTL"],
			DurableTTL:     parsed["CACHE_DURABLE_TTL"],
			MemoryTTL:      parsed["CACHE_MEMORY_TTL"],
			Cooldown:       parsed["CACHE_COOLDOWN"],
			FetchTimeout:   parsed["FETCH_TIMEOUT"],
			PurgeSchedule:  getEnv("CACHE_PURGE_SCHEDULE", "@every 6h"),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           parsedInts["REDIS_DB"],
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Dynamo: DynamoConfig{
			Region:          getEnv("DYNAMODB_REGION", awsRegion),
			Endpoint:        getEnv("DYNAMODB_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			CacheTable:      getEnv("DYNAMODB_CACHE_TABLE", "media_cache"),
			ArchiveTable:    getEnv("DYNAMODB_ARCHIVE_TABLE", "archived_media"),
			StrongReads:     getEnvBool("DYNAMODB_STRONG_READS", false),
		},
		Postgres: PostgresConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "media_relay"),
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvBool("ARCHIVE_ENABLED", true),
			MetadataBackend: strings.ToLower(getEnv("ARCHIVE_METADATA_BACKEND", "dynamodb")),
			KeyPrefix:       getEnv("ARCHIVE_KEY_PREFIX", "twitter-media"),
			Delay:           parsed["ARCHIVE_DELAY"],
			Timeout:         parsed["ARCHIVE_TIMEOUT"],
			MaxAssetBytes:   int64(parsedInts["ARCHIVE_MAX_ASSET_MB"]) * 1024 * 1024,
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", awsRegion),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", false),
			URLMode:         getEnv("S3_URL_MODE", "public"),
			PresignedTTL:    parsed["S3_PRESIGNED_TTL"],
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", false),
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			Stream:        getEnv("NATS_STREAM", "MEDIA"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", ""),
		},
		CloudWatch: CloudWatchConfig{
			MetricsEnabled:  getEnvBool("CLOUDWATCH_METRICS_ENABLED", false),
			Namespace:       getEnv("CLOUDWATCH_NAMESPACE", "MediaRelay"),
			Region:          getEnv("CLOUDWATCH_REGION", awsRegion),
			Endpoint:        getEnv("CLOUDWATCH_ENDPOINT", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			FlushInterval:   parsed["CLOUDWATCH_FLUSH"],
		},
		Security: SecurityConfig{
			AllowedOrigins:  splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
			AuthEnabled:     getEnvBool("AUTH_ENABLED", false),
			AuthToken:       getEnv("AUTH_BEARER_TOKEN", ""),
			RateLimitPerSec: rateLimit,
			RateLimitBurst:  parsedInts["RATE_LIMIT_BURST"],
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	if c.Security.AuthEnabled && c.Security.AuthToken == "" {
		return fmt.Errorf("AUTH_BEARER_TOKEN is required when AUTH_ENABLED=true")
	}

	switch c.Cache.DurableBackend {
	case "dynamodb", "redis", "none":
	default:
		return fmt.Errorf("invalid CACHE_DURABLE_BACKEND %q: want dynamodb, redis or none", c.Cache.DurableBackend)
	}

	switch c.Archive.MetadataBackend {
	case "dynamodb", "postgres":
	default:
		return fmt.Errorf("invalid ARCHIVE_METADATA_BACKEND %q: want dynamodb or postgres", c.Archive.MetadataBackend)
	}

	switch c.Scraper.Parser {
	case "regex", "html":
	default:
		return fmt.Errorf("invalid SCRAPER_PARSER %q: want regex or html", c.Scraper.Parser)
	}

	if c.Archive.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when ARCHIVE_ENABLED=true")
	}

	if c.Quota.HourlyLimit <= 0 || c.Quota.DailyLimit <= 0 || c.Quota.WeeklyLimit <= 0 {
		return fmt.Errorf("quota limits must be positive")
	}

	for _, h := range c.Quota.EconomyHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("invalid QUOTA_ECONOMY_HOURS: hour %d out of range", h)
		}
	}

	return nil
}

func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

func parseIntList(raw string) ([]int, error) {
	parts := splitCSV(raw)
	values := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(raw string) ([]time.Weekday, error) {
	parts := splitCSV(raw)
	days := make([]time.Weekday, 0, len(parts))
	for _, part := range parts {
		day, ok := weekdayNames[strings.ToLower(part)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, day)
	}
	return days, nil
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}
