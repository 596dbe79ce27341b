// --- File: alertingservice/config/yaml_config.go ---
package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied in Stage 1 when the YAML leaves a value empty.
const (
	DefaultAPIPort            = "8080"
	DefaultWebSocketPort      = "8081"
	DefaultSendTimeout        = 5 * time.Second
	DefaultQueueCapacity      = 50
	DefaultFallbackTimeout    = 10 * time.Second
	DefaultFallbackRate       = 3.0
	DefaultCountryCode        = "+234"
	DefaultAuditRetention     = 30 * 24 * time.Hour
	DefaultAuditPruneSchedule = "@hourly"
	DefaultDirectoryCacheTTL  = time.Minute
)

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlPendingQueueConfig struct {
	Type     string          `yaml:"type"` // "memory" or "redis"
	Capacity int             `yaml:"capacity"`
	Redis    YamlRedisConfig `yaml:"redis"`
}

type YamlFallbackConfig struct {
	Timeout            string  `yaml:"timeout"`
	RatePerSec         float64 `yaml:"rate_per_sec"`
	DefaultCountryCode string  `yaml:"default_country_code"`
}

type YamlDirectoryConfig struct {
	Type                string `yaml:"type"` // "sqlite", "firestore" or "none"
	SQLitePath          string `yaml:"sqlite_path"`
	FirestoreCollection string `yaml:"firestore_collection"`
	CacheTTL            string `yaml:"cache_ttl"`
}

type YamlIngressConfig struct {
	NATSURL    string `yaml:"nats_url"`
	Subject    string `yaml:"subject"`
	QueueGroup string `yaml:"queue_group"`
}

type YamlAuditConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	Retention     string `yaml:"retention"`
	PruneSchedule string `yaml:"prune_schedule"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type YamlLogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID     string                 `yaml:"project_id"`
	RunMode       string                 `yaml:"run_mode"`
	APIPort       string                 `yaml:"api_port"`
	WebSocketPort string                 `yaml:"websocket_port"`
	SendTimeout   string                 `yaml:"send_timeout"`
	Cors          YamlCorsConfig         `yaml:"cors"`
	PendingQueue  YamlPendingQueueConfig `yaml:"pending_queue"`
	Fallback      YamlFallbackConfig     `yaml:"fallback"`
	Directory     YamlDirectoryConfig    `yaml:"directory"`
	PushTopicID   string                 `yaml:"push_topic_id"`
	AlertIngress  YamlIngressConfig      `yaml:"alert_ingress"`
	Audit         YamlAuditConfig        `yaml:"audit"`
	Log           YamlLogConfig          `yaml:"log"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a
// base AppConfig, parsing durations and filling defaults. Credentials are
// never read from YAML; Stage 2 takes them from the environment.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Mapping YAML config to base config struct")

	sendTimeout, err := parseDuration("send_timeout", yamlCfg.SendTimeout, DefaultSendTimeout)
	if err != nil {
		return nil, err
	}
	fallbackTimeout, err := parseDuration("fallback.timeout", yamlCfg.Fallback.Timeout, DefaultFallbackTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("directory.cache_ttl", yamlCfg.Directory.CacheTTL, DefaultDirectoryCacheTTL)
	if err != nil {
		return nil, err
	}
	retention, err := parseDuration("audit.retention", yamlCfg.Audit.Retention, DefaultAuditRetention)
	if err != nil {
		return nil, err
	}

	appCfg := &AppConfig{
		ProjectID:          yamlCfg.ProjectID,
		RunMode:            yamlCfg.RunMode,
		APIPort:            orDefault(yamlCfg.APIPort, DefaultAPIPort),
		WebSocketPort:      orDefault(yamlCfg.WebSocketPort, DefaultWebSocketPort),
		SendTimeout:        sendTimeout,
		CorsAllowedOrigins: yamlCfg.Cors.AllowedOrigins,
		PendingQueue: PendingQueueConfig{
			Type:      orDefault(yamlCfg.PendingQueue.Type, "memory"),
			Capacity:  yamlCfg.PendingQueue.Capacity,
			RedisAddr: yamlCfg.PendingQueue.Redis.Addr,
		},
		Fallback: FallbackConfig{
			Timeout:            fallbackTimeout,
			RatePerSec:         yamlCfg.Fallback.RatePerSec,
			DefaultCountryCode: orDefault(yamlCfg.Fallback.DefaultCountryCode, DefaultCountryCode),
		},
		Directory: DirectoryConfig{
			Type:                orDefault(yamlCfg.Directory.Type, "sqlite"),
			SQLitePath:          yamlCfg.Directory.SQLitePath,
			FirestoreCollection: yamlCfg.Directory.FirestoreCollection,
			CacheTTL:            cacheTTL,
		},
		PushTopicID: yamlCfg.PushTopicID,
		AlertIngress: IngressConfig{
			NATSURL:    yamlCfg.AlertIngress.NATSURL,
			Subject:    yamlCfg.AlertIngress.Subject,
			QueueGroup: yamlCfg.AlertIngress.QueueGroup,
		},
		Audit: AuditConfig{
			SQLitePath:    yamlCfg.Audit.SQLitePath,
			Retention:     retention,
			PruneSchedule: orDefault(yamlCfg.Audit.PruneSchedule, DefaultAuditPruneSchedule),
		},
		Log: LogConfig{
			Level:  orDefault(yamlCfg.Log.Level, "info"),
			Format: orDefault(yamlCfg.Log.Format, "json"),
		},
	}
	if appCfg.PendingQueue.Capacity <= 0 {
		appCfg.PendingQueue.Capacity = DefaultQueueCapacity
	}
	if appCfg.Fallback.RatePerSec <= 0 {
		appCfg.Fallback.RatePerSec = DefaultFallbackRate
	}

	logger.Debug().
		Str("project_id", appCfg.ProjectID).
		Str("api_port", appCfg.APIPort).
		Str("websocket_port", appCfg.WebSocketPort).
		Str("pending_queue_type", appCfg.PendingQueue.Type).
		Str("directory_type", appCfg.Directory.Type).
		Msg("YAML config mapping complete")

	return appCfg, nil
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
