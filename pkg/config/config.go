package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Scheduler     SchedulerConfig
	Conflicts     ConflictConfig
	Sync          SyncConfig
	Analytics     AnalyticsConfig
	Notifications NotificationConfig
	Export        ExportConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig tunes the calendar generator.
type SchedulerConfig struct {
	AllowWeekends bool
	AvoidHolidays bool
	Holidays      []string
}

// ConflictConfig tunes conflict detection and resolution.
type ConflictConfig struct {
	SearchHorizonDays int
	LookaheadDays     int
	BulkConcurrency   int
}

// SyncConfig governs template sync execution defaults.
type SyncConfig struct {
	BatchSize           int
	BatchConcurrency    int
	RollbackWindowHours int
	BackupSchedules     bool
	ScheduledCron       string
}

// AnalyticsConfig governs cache behaviour for read aggregates.
type AnalyticsConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// NotificationConfig configures the fire-and-forget notifier.
type NotificationConfig struct {
	Enabled      bool
	ResendAPIKey string
	FromAddress  string
	Workers      int
}

// ExportConfig gates schedule/report export endpoints.
type ExportConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		AllowWeekends: v.GetBool("SCHEDULER_ALLOW_WEEKENDS"),
		AvoidHolidays: v.GetBool("SCHEDULER_AVOID_HOLIDAYS"),
		Holidays:      splitAndTrim(v.GetString("SCHEDULER_HOLIDAYS")),
	}

	cfg.Conflicts = ConflictConfig{
		SearchHorizonDays: v.GetInt("CONFLICT_SEARCH_HORIZON_DAYS"),
		LookaheadDays:     v.GetInt("CONFLICT_LOOKAHEAD_DAYS"),
		BulkConcurrency:   v.GetInt("CONFLICT_BULK_CONCURRENCY"),
	}

	cfg.Sync = SyncConfig{
		BatchSize:           v.GetInt("SYNC_BATCH_SIZE"),
		BatchConcurrency:    v.GetInt("SYNC_BATCH_CONCURRENCY"),
		RollbackWindowHours: v.GetInt("SYNC_ROLLBACK_WINDOW_HOURS"),
		BackupSchedules:     v.GetBool("SYNC_BACKUP_SCHEDULES"),
		ScheduledCron:       v.GetString("SYNC_SCHEDULED_CRON"),
	}

	cfg.Analytics = AnalyticsConfig{
		Enabled:  v.GetBool("ENABLE_ANALYTICS_CACHE"),
		CacheTTL: parseDuration(v.GetString("ANALYTICS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Notifications = NotificationConfig{
		Enabled:      v.GetBool("ENABLE_NOTIFICATIONS"),
		ResendAPIKey: v.GetString("RESEND_API_KEY"),
		FromAddress:  v.GetString("NOTIFY_FROM_ADDRESS"),
		Workers:      v.GetInt("NOTIFY_WORKERS"),
	}

	cfg.Export = ExportConfig{
		Enabled: v.GetBool("ENABLE_EXPORTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "clinic_scheduling")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_ALLOW_WEEKENDS", false)
	v.SetDefault("SCHEDULER_AVOID_HOLIDAYS", true)
	v.SetDefault("SCHEDULER_HOLIDAYS", "")

	v.SetDefault("CONFLICT_SEARCH_HORIZON_DAYS", 14)
	v.SetDefault("CONFLICT_LOOKAHEAD_DAYS", 14)
	v.SetDefault("CONFLICT_BULK_CONCURRENCY", 4)

	v.SetDefault("SYNC_BATCH_SIZE", 25)
	v.SetDefault("SYNC_BATCH_CONCURRENCY", 4)
	v.SetDefault("SYNC_ROLLBACK_WINDOW_HOURS", 24)
	v.SetDefault("SYNC_BACKUP_SCHEDULES", true)
	v.SetDefault("SYNC_SCHEDULED_CRON", "*/5 * * * *")

	v.SetDefault("ENABLE_ANALYTICS_CACHE", false)
	v.SetDefault("ANALYTICS_CACHE_TTL", "10m")

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("NOTIFY_FROM_ADDRESS", "scheduling@clinic.local")
	v.SetDefault("NOTIFY_WORKERS", 2)

	v.SetDefault("ENABLE_EXPORTS", false)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
