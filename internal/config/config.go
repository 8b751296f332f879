package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// WebhookSecret is compared with X-Telegram-Bot-Api-Secret-Token when set.
		WebhookSecret string `yaml:"webhook_secret"`
		// CronSecret guards trigger and maintenance endpoints as a bearer token.
		CronSecret string `yaml:"cron_secret"`
	} `yaml:"server"`
	Telegram struct {
		Token    string  `yaml:"token"`
		APIURL   string  `yaml:"api_url"`
		AdminIDs []int64 `yaml:"admin_ids"`
		Targets  []int64 `yaml:"targets"`
	} `yaml:"telegram"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Collection struct {
		ShardSize int `yaml:"shard_size"`
	} `yaml:"collection"`
	Rotation struct {
		RecentFraction float64 `yaml:"recent_fraction"`
		RecentFloor    int     `yaml:"recent_floor"`
		RecentMax      int     `yaml:"recent_max"`
	} `yaml:"rotation"`
	Stats struct {
		Timezone string `yaml:"timezone"`
		Async    bool   `yaml:"async"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"stats"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path and applies environment overrides. A
// missing file is not an error when the environment supplies the settings.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := getenv("CRON_SECRET"); v != "" {
		c.Server.CronSecret = v
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Postgres.URL = v
	}
	ids, err := parseIDs(getenv("ADMIN_CHAT_ID"))
	if err != nil {
		return fmt.Errorf("ADMIN_CHAT_ID: %w", err)
	}
	c.Telegram.AdminIDs = appendUnique(c.Telegram.AdminIDs, ids...)
	ids, err = parseIDs(getenv("TELEGRAM_CHAT_ID"))
	if err != nil {
		return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
	}
	c.Telegram.Targets = appendUnique(c.Telegram.Targets, ids...)
	return nil
}

// parseIDs reads a comma separated list of chat ids.
func parseIDs(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func appendUnique(dst []int64, ids ...int64) []int64 {
	for _, id := range ids {
		dup := false
		for _, have := range dst {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, id)
		}
	}
	return dst
}

// Location resolves the stats timezone; empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Stats.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Stats.Timezone)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
