package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/BrandonDHaskell/Portunus/linkserver/internal/link"
)

// AllUnits addresses every configured unit.
const AllUnits = "all"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/linkserver.db"

	Radio RadioConfig
	Retry RetryConfig

	// MemoryWarnRatio logs a warning when used/capacity reaches it.
	MemoryWarnRatio float64

	// Background jobs
	LogDrainInterval    time.Duration // 0 = disabled
	StatusRetentionDays int           // 0 = keep forever
	PruneIntervalHours  int

	AccessTablePath string

	Units []link.RemoteUnit
}

type RadioConfig struct {
	Port    string
	Baud    int
	Timeout time.Duration
}

type RetryConfig struct {
	ReplyPolls       int
	ReplySleep       time.Duration
	ReplyDeadline    time.Duration
	ExchangeAttempts int
	ExchangeDelay    time.Duration
}

func Default() Config {
	wait := link.DefaultReplyWait()
	retry := link.DefaultExchangeRetry()
	return Config{
		HTTPAddr: ":8080",
		Env:      "dev",
		DBPath:   "./data/linkserver.db",
		Radio: RadioConfig{
			Port:    "/dev/ttyACM0",
			Baud:    115200,
			Timeout: 250 * time.Millisecond,
		},
		Retry: RetryConfig{
			ReplyPolls:       wait.Attempts,
			ReplySleep:       wait.Delay,
			ReplyDeadline:    wait.Deadline,
			ExchangeAttempts: retry.Attempts,
			ExchangeDelay:    retry.Delay,
		},
		MemoryWarnRatio:     0.9,
		LogDrainInterval:    0,
		StatusRetentionDays: 30,
		PruneIntervalHours:  6,
		AccessTablePath:     "access_tables.csv",
	}
}

type fileConfig struct {
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
	Database struct {
		Env  string `toml:"env"`
		Path string `toml:"path"`
	} `toml:"database"`
	Radio struct {
		Port    string `toml:"port"`
		Baud    int    `toml:"baud"`
		Timeout string `toml:"timeout"`
	} `toml:"radio"`
	Retry struct {
		ReplyPolls       int    `toml:"reply_polls"`
		ReplySleep       string `toml:"reply_sleep"`
		ReplyDeadline    string `toml:"reply_deadline"`
		ExchangeAttempts int    `toml:"exchange_attempts"`
		ExchangeDelay    string `toml:"exchange_delay"`
	} `toml:"retry"`
	Memory struct {
		WarnRatio float64 `toml:"warn_ratio"`
	} `toml:"memory"`
	Schedule struct {
		LogDrainInterval    string `toml:"log_drain_interval"`
		StatusRetentionDays int    `toml:"status_retention_days"`
		PruneIntervalHours  int    `toml:"prune_interval_hours"`
	} `toml:"schedule"`
	AccessTable string     `toml:"access_table"`
	Units       []fileUnit `toml:"unit"`
}

type fileUnit struct {
	Name    string `toml:"name"`
	ID      int    `toml:"id"`
	Channel int    `toml:"channel"`
}

// Load reads path (skipped when empty), applies LINKSERVER_* overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("http", "addr") {
		c.HTTPAddr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("database", "env") {
		c.Env = normalizeEnv(raw.Database.Env)
	}
	if meta.IsDefined("database", "path") {
		c.DBPath = strings.TrimSpace(raw.Database.Path)
	}

	if meta.IsDefined("radio", "port") {
		c.Radio.Port = strings.TrimSpace(raw.Radio.Port)
	}
	if meta.IsDefined("radio", "baud") {
		c.Radio.Baud = raw.Radio.Baud
	}
	if meta.IsDefined("radio", "timeout") {
		if c.Radio.Timeout, err = parseDuration("radio.timeout", raw.Radio.Timeout); err != nil {
			return err
		}
	}

	if meta.IsDefined("retry", "reply_polls") {
		c.Retry.ReplyPolls = raw.Retry.ReplyPolls
	}
	if meta.IsDefined("retry", "reply_sleep") {
		if c.Retry.ReplySleep, err = parseDuration("retry.reply_sleep", raw.Retry.ReplySleep); err != nil {
			return err
		}
	}
	if meta.IsDefined("retry", "reply_deadline") {
		if c.Retry.ReplyDeadline, err = parseDuration("retry.reply_deadline", raw.Retry.ReplyDeadline); err != nil {
			return err
		}
	}
	if meta.IsDefined("retry", "exchange_attempts") {
		c.Retry.ExchangeAttempts = raw.Retry.ExchangeAttempts
	}
	if meta.IsDefined("retry", "exchange_delay") {
		if c.Retry.ExchangeDelay, err = parseDuration("retry.exchange_delay", raw.Retry.ExchangeDelay); err != nil {
			return err
		}
	}

	if meta.IsDefined("memory", "warn_ratio") {
		c.MemoryWarnRatio = raw.Memory.WarnRatio
	}

	if meta.IsDefined("schedule", "log_drain_interval") {
		if c.LogDrainInterval, err = parseDuration("schedule.log_drain_interval", raw.Schedule.LogDrainInterval); err != nil {
			return err
		}
	}
	if meta.IsDefined("schedule", "status_retention_days") {
		c.StatusRetentionDays = raw.Schedule.StatusRetentionDays
	}
	if meta.IsDefined("schedule", "prune_interval_hours") {
		c.PruneIntervalHours = raw.Schedule.PruneIntervalHours
	}

	if meta.IsDefined("access_table") {
		c.AccessTablePath = strings.TrimSpace(raw.AccessTable)
	}

	if meta.IsDefined("unit") {
		c.Units = make([]link.RemoteUnit, 0, len(raw.Units))
		for _, u := range raw.Units {
			c.Units = append(c.Units, link.RemoteUnit{
				ID:      u.ID,
				Name:    strings.TrimSpace(u.Name),
				Channel: u.Channel,
			})
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getenvDefault("LINKSERVER_HTTP_ADDR", c.HTTPAddr)
	if v := os.Getenv("LINKSERVER_ENV"); strings.TrimSpace(v) != "" {
		c.Env = normalizeEnv(v)
	}
	c.DBPath = getenvDefault("LINKSERVER_DB_PATH", c.DBPath)
	c.Radio.Port = getenvDefault("LINKSERVER_SERIAL_PORT", c.Radio.Port)
	c.Radio.Baud = getenvInt("LINKSERVER_SERIAL_BAUD", c.Radio.Baud)
	c.AccessTablePath = getenvDefault("LINKSERVER_ACCESS_TABLE", c.AccessTablePath)
	c.StatusRetentionDays = getenvInt("LINKSERVER_STATUS_RETENTION_DAYS", c.StatusRetentionDays)
	c.PruneIntervalHours = getenvInt("LINKSERVER_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)

	if v := strings.TrimSpace(os.Getenv("LINKSERVER_LOG_DRAIN_INTERVAL")); v != "" {
		d, err := parseDuration("LINKSERVER_LOG_DRAIN_INTERVAL", v)
		if err != nil {
			return err
		}
		c.LogDrainInterval = d
	}
	return nil
}

// Validate rejects configurations that would address units ambiguously.
func (c Config) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("%w: no [[unit]] configured", ErrInvalidConfig)
	}
	names := make(map[string]struct{}, len(c.Units))
	ids := make(map[int]struct{}, len(c.Units))
	channels := make(map[int]string, len(c.Units))
	for _, u := range c.Units {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if strings.EqualFold(u.Name, AllUnits) {
			return fmt.Errorf("%w: unit name %q is reserved", ErrInvalidConfig, AllUnits)
		}
		if _, dup := names[u.Name]; dup {
			return fmt.Errorf("%w: duplicate unit name %q", ErrInvalidConfig, u.Name)
		}
		if _, dup := ids[u.ID]; dup {
			return fmt.Errorf("%w: duplicate unit id %d", ErrInvalidConfig, u.ID)
		}
		if other, dup := channels[u.Channel]; dup {
			return fmt.Errorf("%w: units %q and %q share channel %d", ErrInvalidConfig, other, u.Name, u.Channel)
		}
		names[u.Name] = struct{}{}
		ids[u.ID] = struct{}{}
		channels[u.Channel] = u.Name
	}

	if c.Retry.ReplyPolls <= 0 || c.Retry.ExchangeAttempts <= 0 {
		return fmt.Errorf("%w: retry counts must be positive", ErrInvalidConfig)
	}
	if c.Retry.ReplyDeadline < 0 {
		return fmt.Errorf("%w: negative reply deadline", ErrInvalidConfig)
	}
	if c.MemoryWarnRatio <= 0 || c.MemoryWarnRatio > 1 {
		return fmt.Errorf("%w: memory.warn_ratio %v not in (0, 1]", ErrInvalidConfig, c.MemoryWarnRatio)
	}
	if c.LogDrainInterval < 0 {
		return fmt.Errorf("%w: negative log drain interval", ErrInvalidConfig)
	}
	return nil
}

// Unit returns the configured unit with the given name.
func (c Config) Unit(name string) (link.RemoteUnit, bool) {
	for _, u := range c.Units {
		if u.Name == name {
			return u, true
		}
	}
	return link.RemoteUnit{}, false
}

func (c Config) LinkOptions() []link.Option {
	return []link.Option{
		link.WithReplyWait(c.Retry.ReplyPolls, c.Retry.ReplySleep),
		link.WithReplyDeadline(c.Retry.ReplyDeadline),
		link.WithExchangeRetry(c.Retry.ExchangeAttempts, c.Retry.ExchangeDelay),
	}
}

func normalizeEnv(v string) string {
	env := strings.ToLower(strings.TrimSpace(v))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}
	return env
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
