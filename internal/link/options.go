package link

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds the session tuning.
type Config struct {
	// ReplyWait bounds the data-available poll after a transmit.
	ReplyWait Retry

	// ExchangeRetry bounds retries of a whole single-command exchange.
	ExchangeRetry Retry

	// MaxLogPages caps one log drain.
	MaxLogPages int

	Logger  zerolog.Logger
	Sleep   Sleeper
	Now     func() time.Time
	Metrics *Metrics
}

func defaultConfig() Config {
	return Config{
		ReplyWait:     DefaultReplyWait(),
		ExchangeRetry: DefaultExchangeRetry(),
		MaxLogPages:   256,
		Logger:        zerolog.Nop(),
		Sleep:         time.Sleep,
		Now:           time.Now,
	}
}

// Option configures a Session.
type Option func(*Config)

// WithReplyWait sets the poll count and sleep of the reply wait. The wall
// time deadline is kept.
func WithReplyWait(polls int, sleep time.Duration) Option {
	return func(c *Config) {
		if polls > 0 {
			c.ReplyWait.Attempts = polls
			c.ReplyWait.Delay = sleep
		}
	}
}

// WithReplyDeadline bounds the wall time of the reply wait. 0 leaves only
// the poll count.
func WithReplyDeadline(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ReplyWait.Deadline = d
		}
	}
}

// WithExchangeRetry sets the outer retry for single-command operations.
func WithExchangeRetry(attempts int, delay time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.ExchangeRetry = Retry{Attempts: attempts, Delay: delay}
		}
	}
}

// WithMaxLogPages caps the pages read by one DumpLogging. Non-positive
// values keep the default.
func WithMaxLogPages(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxLogPages = n
		}
	}
}

// WithLogger sets the parent logger; the session adds unit fields.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithSleeper replaces time.Sleep in both retry loops.
func WithSleeper(s Sleeper) Option {
	return func(c *Config) {
		if s != nil {
			c.Sleep = s
		}
	}
}

// WithClock sets the clock used to timestamp drained log entries.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

// WithMetrics records exchange outcomes. Nil disables them.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}
