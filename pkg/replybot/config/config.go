// Package config defines the ReplyBot configuration file and its defaults.
//
// Example config.yaml:
//
//	name: ReplyBot
//	data:
//	  responses_file: ./learned.json
//	  snapshot_dir: ./backups
//	  snapshot_schedule: hourly
//	access:
//	  admins: ["972501234567"]
//	  learn_policy: admin
//	  denial_policy: reply
//	routing:
//	  precedence: commands
//	  ignore_groups: true
//	whatsapp:
//	  session_db: ./data/whatsapp.db
//	http:
//	  address: ":10000"
//	logging:
//	  level: info
//	  format: json
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jholhewres/replybot/pkg/replybot/channels/whatsapp"
	"github.com/jholhewres/replybot/pkg/replybot/commands"
	"github.com/jholhewres/replybot/pkg/replybot/responses"
	"github.com/jholhewres/replybot/pkg/replybot/router"
	"github.com/jholhewres/replybot/pkg/replybot/scheduler"
	"github.com/jholhewres/replybot/pkg/replybot/session"
)

// Config is the root configuration.
type Config struct {
	// Name is used in the liveness text and the startup log.
	Name string `yaml:"name"`

	Data       DataConfig       `yaml:"data"`
	Access     AccessConfig     `yaml:"access"`
	Routing    RoutingConfig    `yaml:"routing"`
	Connection ConnectionConfig `yaml:"connection"`
	WhatsApp   whatsapp.Config  `yaml:"whatsapp"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DataConfig configures the learned-response files.
type DataConfig struct {
	responses.StoreConfig `yaml:",inline"`

	// SnapshotOnWrite snapshots the table after every learn and clear.
	SnapshotOnWrite bool `yaml:"snapshot_on_write"`

	// SnapshotSchedule is when the timed snapshot runs ("hourly", a cron
	// expression or "@every 30m"). Empty disables it.
	SnapshotSchedule string `yaml:"snapshot_schedule"`
}

// AccessConfig configures authorization.
type AccessConfig struct {
	// Admins are phone numbers or JIDs allowed to run admin commands.
	Admins []string `yaml:"admins"`

	// LearnPolicy gates learn and list: "admin" or "open".
	LearnPolicy string `yaml:"learn_policy"`

	// DenialPolicy is what non-admins get for admin commands: "reply" or "silent".
	DenialPolicy string `yaml:"denial_policy"`
}

// RoutingConfig configures the message router.
type RoutingConfig struct {
	// Precedence is "commands" (default) or "responses".
	Precedence string `yaml:"precedence"`

	// IgnoreGroups drops group chat messages.
	IgnoreGroups bool `yaml:"ignore_groups"`

	// EchoSelf echoes messages sent from the bot's own account.
	EchoSelf   bool   `yaml:"echo_self"`
	EchoPrefix string `yaml:"echo_prefix"`

	// Locale of failure replies when no command locale applies: "he" or "en".
	Locale string `yaml:"locale"`
}

// ConnectionConfig configures the reconnect policy.
type ConnectionConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	QRCooldown time.Duration `yaml:"qr_cooldown"`

	// FaultPolicy is "when_not_ready" (default) or "always".
	FaultPolicy string `yaml:"fault_policy"`

	// NotifyAdmins messages every admin when the bot becomes ready.
	NotifyAdmins bool `yaml:"notify_admins"`
}

// HTTPConfig configures the health server.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "ReplyBot",
		Data: DataConfig{
			StoreConfig: responses.StoreConfig{
				Path:        "./learned.json",
				SnapshotDir: "./backups",
			},
			SnapshotOnWrite:  true,
			SnapshotSchedule: "@hourly",
		},
		Access: AccessConfig{
			LearnPolicy:  "admin",
			DenialPolicy: string(commands.DenyReply),
		},
		Routing: RoutingConfig{
			Precedence:   string(router.PrecedenceCommands),
			IgnoreGroups: true,
			EchoPrefix:   "קיבלתי: ",
			Locale:       string(commands.LocaleHebrew),
		},
		Connection: ConnectionConfig{
			MaxRetries:  5,
			BaseDelay:   5 * time.Second,
			QRCooldown:  60 * time.Second,
			FaultPolicy: string(session.FaultWhenNotReady),
		},
		WhatsApp: whatsapp.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled: true,
			Address: ":10000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks every enumerated value and numeric bound.
func (c *Config) Validate() error {
	var errs []error

	if _, err := commands.ParseAccessLevel(c.Access.LearnPolicy); err != nil {
		errs = append(errs, fmt.Errorf("access.learn_policy: %w", err))
	}
	switch commands.DenialPolicy(c.Access.DenialPolicy) {
	case commands.DenyReply, commands.DenySilent:
	default:
		errs = append(errs, fmt.Errorf("access.denial_policy: unknown value %q (want reply or silent)", c.Access.DenialPolicy))
	}
	if _, err := router.ParsePrecedence(c.Routing.Precedence); err != nil {
		errs = append(errs, fmt.Errorf("routing.precedence: %w", err))
	}
	if _, err := commands.ParseLocale(c.Routing.Locale); err != nil {
		errs = append(errs, fmt.Errorf("routing.locale: %w", err))
	}
	switch session.FaultPolicy(c.Connection.FaultPolicy) {
	case session.FaultAlways, session.FaultWhenNotReady:
	default:
		errs = append(errs, fmt.Errorf("connection.fault_policy: unknown value %q (want always or when_not_ready)", c.Connection.FaultPolicy))
	}
	if c.Connection.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("connection.max_retries must be at least 1"))
	}
	if c.Connection.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("connection.base_delay must be positive"))
	}
	if c.Connection.QRCooldown < 0 {
		errs = append(errs, fmt.Errorf("connection.qr_cooldown must not be negative"))
	}
	if c.Data.Path == "" {
		errs = append(errs, fmt.Errorf("data.responses_file is required"))
	}
	if c.Data.SnapshotRetention < 0 {
		errs = append(errs, fmt.Errorf("data.snapshot_retention must not be negative"))
	}
	if c.Data.SnapshotSchedule != "" {
		if _, err := scheduler.ParseSchedule(c.Data.SnapshotSchedule); err != nil {
			errs = append(errs, fmt.Errorf("data.snapshot_schedule: %w", err))
		}
	}
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		errs = append(errs, fmt.Errorf("http.address is required when http is enabled"))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown value %q (want json or text)", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SessionConfig converts the connection section for the state machine.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		MaxRetries:    c.Connection.MaxRetries,
		BaseDelay:     c.Connection.BaseDelay,
		QRCooldown:    c.Connection.QRCooldown,
		FaultPolicy:   session.FaultPolicy(c.Connection.FaultPolicy),
		NotifyOnReady: c.Connection.NotifyAdmins,
	}
}

// RouterConfig converts the routing section for the router.
func (c *Config) RouterConfig() router.Config {
	precedence, _ := router.ParsePrecedence(c.Routing.Precedence)
	locale, _ := commands.ParseLocale(c.Routing.Locale)
	return router.Config{
		Precedence:   precedence,
		IgnoreGroups: c.Routing.IgnoreGroups,
		EchoSelf:     c.Routing.EchoSelf,
		EchoPrefix:   c.Routing.EchoPrefix,
		Locale:       locale,
	}
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}
