// Package config loads server configuration.
//
// Values are layered: built-in defaults, then the YAML file (with the section
// matching the active environment applied on top), then TRIBES_* environment
// variables (a .env file in the working directory is read first), then flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TRIBES_"

// Environment names the deployment type.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete server configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseDSN string `yaml:"database_dsn"`

	TLS      TLSConfig      `yaml:"tls"`
	Auth     AuthConfig     `yaml:"auth"`
	Tribes   TribesConfig   `yaml:"tribes"`
	Messages MessagesConfig `yaml:"messages"`
	Notify   NotifyConfig   `yaml:"notify"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the sections that may differ per environment.
type Overrides struct {
	GRPCAddr    *string         `yaml:"grpc_addr,omitempty"`
	HTTPAddr    *string         `yaml:"http_addr,omitempty"`
	DatabaseDSN *string         `yaml:"database_dsn,omitempty"`
	TLS         *TLSConfig      `yaml:"tls,omitempty"`
	Auth        *AuthConfig     `yaml:"auth,omitempty"`
	Tribes      *TribesConfig   `yaml:"tribes,omitempty"`
	Messages    *MessagesConfig `yaml:"messages,omitempty"`
	Notify      *NotifyConfig   `yaml:"notify,omitempty"`
}

// TLSConfig enables TLS on the gRPC listener when both paths are set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

// AuthConfig configures sessions and the sign-in limiter.
type AuthConfig struct {
	JWTKey     string        `yaml:"jwt_key"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	// Challenge is the fixed string every wallet signs.
	Challenge string `yaml:"challenge"`

	LimiterWindow   time.Duration `yaml:"limiter_window"`
	LimiterMaxFails int           `yaml:"limiter_max_fails"`
	LimiterBlock    time.Duration `yaml:"limiter_block"`
}

// TribesConfig bounds tribe membership.
type TribesConfig struct {
	InviteTTL           time.Duration `yaml:"invite_ttl"`
	MaxMembers          int           `yaml:"max_members"`
	MaxTribesPerAccount int           `yaml:"max_tribes_per_account"`
}

// MessagesConfig bounds message retention and tea posts.
type MessagesConfig struct {
	TeaDailyCap   int           `yaml:"tea_daily_cap"`
	Horizon       time.Duration `yaml:"horizon"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NotifyConfig configures fan-out and platform push.
type NotifyConfig struct {
	QueueSize int        `yaml:"queue_size"`
	Workers   int        `yaml:"workers"`
	APNs      APNsConfig `yaml:"apns"`
}

// APNsConfig holds the token-based APNs credentials. Push is disabled when KeyPath is empty.
type APNsConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	KeyPath    string `yaml:"key_path"`
	Production bool   `yaml:"production"`
}

// Enabled reports whether enough is configured to sign provider tokens.
func (a APNsConfig) Enabled() bool {
	return a.KeyPath != "" && a.KeyID != "" && a.TeamID != "" && a.BundleID != ""
}

// Default returns the configuration used before any source is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		GRPCAddr:    ":8081",
		HTTPAddr:    ":8080",
		Auth: AuthConfig{
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      10 * 24 * time.Hour,
			Challenge:       "Sign this message to authenticate with Tribes",
			LimiterWindow:   15 * time.Minute,
			LimiterMaxFails: 5,
			LimiterBlock:    15 * time.Minute,
		},
		Tribes: TribesConfig{
			InviteTTL:           5 * time.Minute,
			MaxMembers:          10,
			MaxTribesPerAccount: 5,
		},
		Messages: MessagesConfig{
			TeaDailyCap:   39,
			Horizon:       24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Notify: NotifyConfig{
			QueueSize: 1024,
			Workers:   4,
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if v, ok := os.LookupEnv(EnvPrefix + "ENV"); ok {
		cfg.Environment = Environment(v)
	}
	cfg.applyOverrides()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyOverrides() {
	var o *Overrides
	switch c.Environment {
	case Development:
		o = c.Development
	case Production:
		o = c.Production
	}
	if o == nil {
		return
	}
	if o.GRPCAddr != nil {
		c.GRPCAddr = *o.GRPCAddr
	}
	if o.HTTPAddr != nil {
		c.HTTPAddr = *o.HTTPAddr
	}
	if o.DatabaseDSN != nil {
		c.DatabaseDSN = *o.DatabaseDSN
	}
	if o.TLS != nil {
		c.TLS = *o.TLS
	}
	if o.Auth != nil {
		c.Auth = *o.Auth
	}
	if o.Tribes != nil {
		c.Tribes = *o.Tribes
	}
	if o.Messages != nil {
		c.Messages = *o.Messages
	}
	if o.Notify != nil {
		c.Notify = *o.Notify
	}
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"GRPC_ADDR":      &c.GRPCAddr,
		"HTTP_ADDR":      &c.HTTPAddr,
		"DATABASE_DSN":   &c.DatabaseDSN,
		"TLS_CERT":       &c.TLS.CertFile,
		"TLS_KEY":        &c.TLS.KeyFile,
		"JWT_KEY":        &c.Auth.JWTKey,
		"CHALLENGE":      &c.Auth.Challenge,
		"APNS_KEY_ID":    &c.Notify.APNs.KeyID,
		"APNS_TEAM_ID":   &c.Notify.APNs.TeamID,
		"APNS_BUNDLE_ID": &c.Notify.APNs.BundleID,
		"APNS_KEY_PATH":  &c.Notify.APNs.KeyPath,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"ACCESS_TTL":     &c.Auth.AccessTTL,
		"REFRESH_TTL":    &c.Auth.RefreshTTL,
		"INVITE_TTL":     &c.Tribes.InviteTTL,
		"HORIZON":        &c.Messages.Horizon,
		"SWEEP_INTERVAL": &c.Messages.SweepInterval,
	}
	for name, dst := range durs {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"MAX_MEMBERS":       &c.Tribes.MaxMembers,
		"MAX_TRIBES":        &c.Tribes.MaxTribesPerAccount,
		"TEA_DAILY_CAP":     &c.Messages.TeaDailyCap,
		"NOTIFY_QUEUE_SIZE": &c.Notify.QueueSize,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := lookup(EnvPrefix + "APNS_PRODUCTION"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAPNS_PRODUCTION: %w", EnvPrefix, err)
		}
		c.Notify.APNs.Production = b
	}
	return nil
}

// RegisterFlags binds the most commonly overridden fields to fs. Flags parsed
// after Load take precedence over every other source.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC listen address")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "realtime HTTP listen address")
	fs.StringVar(&c.DatabaseDSN, "dsn", c.DatabaseDSN, "Postgres DSN")
	fs.StringVar(&c.Auth.JWTKey, "jwt-key", c.Auth.JWTKey, "HS256 signing key for access tokens")
	fs.StringVar(&c.TLS.CertFile, "tls-cert", c.TLS.CertFile, "TLS certificate file")
	fs.StringVar(&c.TLS.KeyFile, "tls-key", c.TLS.KeyFile, "TLS private key file")
	fs.DurationVar(&c.Messages.SweepInterval, "sweep-interval", c.Messages.SweepInterval, "expired message sweep interval")
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseDSN == "":
		return errors.New("config: database dsn is required")
	case c.Auth.JWTKey == "":
		return errors.New("config: jwt key is required")
	case c.Auth.Challenge == "":
		return errors.New("config: challenge is required")
	case c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0:
		return errors.New("config: token ttls must be positive")
	case c.Tribes.InviteTTL <= 0:
		return errors.New("config: invite ttl must be positive")
	case c.Tribes.MaxMembers <= 0 || c.Tribes.MaxTribesPerAccount <= 0:
		return errors.New("config: tribe caps must be positive")
	case c.Messages.TeaDailyCap <= 0:
		return errors.New("config: tea cap must be positive")
	case c.Messages.Horizon <= 0 || c.Messages.SweepInterval <= 0:
		return errors.New("config: horizon and sweep interval must be positive")
	case c.Notify.QueueSize <= 0 || c.Notify.Workers <= 0:
		return errors.New("config: notify queue size and workers must be positive")
	case c.Auth.LimiterMaxFails <= 0:
		return errors.New("config: limiter max fails must be positive")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("config: tls cert and key must be set together")
	}
	return nil
}
