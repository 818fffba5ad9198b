package config

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию линкера.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Brussels"`

	Notion struct {
		Token      string        `envconfig:"NOTION_TOKEN"`
		DatabaseID string        `envconfig:"NOTION_MASTER_DB_ID"`
		BaseURL    string        `envconfig:"NOTION_BASE_URL"`
		Timeout    time.Duration `envconfig:"NOTION_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Telegram struct {
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		LiveChannel string `envconfig:"TG_LIVE_CHANNEL"`
		TestChannel string `envconfig:"TG_TEST_CHANNEL"`
		BotToken    string `envconfig:"TG_BOT_TOKEN"`
		AdminChatID int64  `envconfig:"TG_ADMIN_CHAT_ID"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"linker.session"`
	} `envconfig:""`

	// Records.Backend выбирает базу записей: notion либо postgres.
	Records struct {
		Backend string `envconfig:"RECORDS_BACKEND" default:"notion"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Cache struct {
		File   string        `envconfig:"CACHE_FILE" default:"event_link_cache.json"`
		Expiry time.Duration `envconfig:"CACHE_EXPIRY" default:"720h"`
	} `envconfig:""`

	Scan struct {
		QuickLimit int           `envconfig:"QUICK_SCAN_LIMIT" default:"50"`
		FullEvery  time.Duration `envconfig:"FULL_SCAN_EVERY" default:"24h"`
		YearGrace  time.Duration `envconfig:"YEAR_GRACE" default:"72h"`
	} `envconfig:""`

	Daemon struct {
		Interval    time.Duration `envconfig:"RUN_INTERVAL" default:"15m"`
		HTTPAddr    string        `envconfig:"HTTP_ADDR" default:":8080"`
		MetricsAddr string        `envconfig:"METRICS_ADDR" default:":9090"`
	} `envconfig:""`
}

// Load загружает конфиг из .env и окружения.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Validate проверяет обязательные ключи до любого I/O.
func (c AppConfig) Validate() error {
	if c.Telegram.APIID == 0 || c.Telegram.APIHash == "" {
		return errors.New("не заданы TG_API_ID / TG_API_HASH")
	}
	if c.Telegram.LiveChannel == "" {
		return errors.New("не задан TG_LIVE_CHANNEL")
	}
	switch c.Records.Backend {
	case "notion":
		if c.Notion.Token == "" {
			return errors.New("не задан NOTION_TOKEN")
		}
		if c.Notion.DatabaseID == "" {
			return errors.New("не задан NOTION_MASTER_DB_ID")
		}
	case "postgres":
		if c.PGDSN == "" {
			return errors.New("не задан PG_DSN для RECORDS_BACKEND=postgres")
		}
	default:
		return errors.New("RECORDS_BACKEND должен быть notion или postgres")
	}
	return nil
}
