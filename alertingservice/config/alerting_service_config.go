// --- File: alertingservice/config/alerting_service_config.go ---
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type PendingQueueConfig struct {
	Type      string
	Capacity  int
	RedisAddr string
}

type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	SMSFrom      string
	WhatsAppFrom string
}

type FallbackConfig struct {
	Timeout            time.Duration
	RatePerSec         float64
	DefaultCountryCode string
	Twilio             TwilioConfig
	TelegramBotToken   string
}

type DirectoryConfig struct {
	Type                string
	SQLitePath          string
	FirestoreCollection string
	CacheTTL            time.Duration
}

type IngressConfig struct {
	NATSURL    string
	Subject    string
	QueueGroup string
}

// AuditConfig enables the delivery audit when SQLitePath is set.
type AuditConfig struct {
	SQLitePath    string
	Retention     time.Duration
	PruneSchedule string
}

type LogConfig struct {
	Level  string
	Format string
}

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID          string
	RunMode            string
	APIPort            string
	WebSocketPort      string
	SendTimeout        time.Duration
	CorsAllowedOrigins []string
	PendingQueue       PendingQueueConfig
	Fallback           FallbackConfig
	Directory          DirectoryConfig
	PushTopicID        string
	AlertIngress       IngressConfig
	Audit              AuditConfig
	Log                LogConfig
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			logger.Debug().Str("key", key).Str("source", "env").Msg("Overriding config value")
			*dst = v
		}
	}
	override("GCP_PROJECT_ID", &cfg.ProjectID)
	override("API_PORT", &cfg.APIPort)
	override("WEBSOCKET_PORT", &cfg.WebSocketPort)
	override("REDIS_ADDR", &cfg.PendingQueue.RedisAddr)
	override("NATS_URL", &cfg.AlertIngress.NATSURL)
	override("PUSH_TOPIC_ID", &cfg.PushTopicID)
	override("DEFAULT_COUNTRY_CODE", &cfg.Fallback.DefaultCountryCode)
	override("SQLITE_PATH", &cfg.Directory.SQLitePath)
	override("AUDIT_SQLITE_PATH", &cfg.Audit.SQLitePath)
	override("LOG_LEVEL", &cfg.Log.Level)
	override("LOG_FORMAT", &cfg.Log.Format)

	// Credentials are env-only.
	cfg.Fallback.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Fallback.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.Fallback.Twilio.SMSFrom = os.Getenv("TWILIO_NUMBER_TRIAL")
	cfg.Fallback.Twilio.WhatsAppFrom = os.Getenv("TWILIO_WHATSAPP_NUMBER")
	cfg.Fallback.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if raw := os.Getenv("PENDING_QUEUE_CAPACITY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("PENDING_QUEUE_CAPACITY must be a positive integer, got %q", raw)
		}
		logger.Debug().Str("key", "PENDING_QUEUE_CAPACITY").Str("source", "env").Msg("Overriding config value")
		cfg.PendingQueue.Capacity = n
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug().Str("key", "CORS_ALLOWED_ORIGINS").Str("source", "env").Msg("Overriding config value")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsAllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if err := validate(cfg); err != nil {
		logger.Error().Err(err).Msg("Final config validation failed")
		return nil, err
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	var errs []error
	if cfg.APIPort == "" {
		errs = append(errs, errors.New("API_PORT is not set in config or env var"))
	}
	if cfg.WebSocketPort == "" {
		errs = append(errs, errors.New("WEBSOCKET_PORT is not set in config or env var"))
	}

	switch cfg.PendingQueue.Type {
	case "memory":
	case "redis":
		if cfg.PendingQueue.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis pending queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown pending_queue.type %q", cfg.PendingQueue.Type))
	}
	if cfg.PendingQueue.Capacity <= 0 {
		errs = append(errs, errors.New("pending_queue.capacity must be positive"))
	}

	switch cfg.Directory.Type {
	case "none":
	case "sqlite":
		if cfg.Directory.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite directory"))
		}
	case "firestore":
		if cfg.ProjectID == "" {
			errs = append(errs, errors.New("GCP_PROJECT_ID is required for the firestore directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown directory.type %q", cfg.Directory.Type))
	}

	if cfg.PushTopicID != "" && cfg.ProjectID == "" {
		errs = append(errs, errors.New("GCP_PROJECT_ID is required when push_topic_id is set"))
	}
	if cfg.Fallback.Timeout <= 0 {
		errs = append(errs, errors.New("fallback.timeout must be positive"))
	}
	if cfg.Fallback.RatePerSec <= 0 {
		errs = append(errs, errors.New("fallback.rate_per_sec must be positive"))
	}
	if cfg.Audit.SQLitePath != "" && cfg.Audit.Retention <= 0 {
		errs = append(errs, errors.New("audit.retention must be positive"))
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", cfg.Log.Level))
	}
	return errors.Join(errs...)
}
