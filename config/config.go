// Package config loads the sealedsession server configuration from a YAML
// file, ${VAR} references inside it and SEALEDSESSION_* environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/sealedsession/crypto"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "SEALEDSESSION_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBBolt    = "bbolt"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Hasher names.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Config holds the complete server configuration.
type Config struct {
	Listen           string `yaml:"listen"`
	TLSCert          string `yaml:"tls_cert"`
	TLSKey           string `yaml:"tls_key"`
	MasterSecret     string `yaml:"master_secret"`
	MasterSecretFile string `yaml:"master_secret_file"`
	// IssuerKey must accompany every token issuance and revocation request.
	// The server refuses to start without it.
	IssuerKey string `yaml:"issuer_key"`
	// TrustedProxies lists CIDRs or addresses whose forwarding headers are
	// believed when rate limiting by client IP.
	TrustedProxies []string `yaml:"trusted_proxies"`

	Cookie  CookieConfig  `yaml:"cookie"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Audit   AuditConfig   `yaml:"audit"`
	Log     LogConfig     `yaml:"log"`
}

// AuditConfig controls where audit events are forwarded.
type AuditConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	// WebhookHeader is sent as "Name: Value" with every delivery.
	WebhookHeader string `yaml:"webhook_header"`
}

// CookieConfig controls the Set-Cookie header written for issued tokens.
type CookieConfig struct {
	Name   string `yaml:"name"`
	Secure bool   `yaml:"secure"`
	Domain string `yaml:"domain"`
	Path   string `yaml:"path"`
}

// SessionConfig controls token issuance.
type SessionConfig struct {
	// DefaultMaxAge applies when a request does not ask for one. Zero
	// means sessions never expire.
	DefaultMaxAge   time.Duration `yaml:"default_max_age"`
	Persist         bool          `yaml:"persist"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	Hasher          string        `yaml:"hasher"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
}

// StoreConfig selects and configures the durable session store.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Session: SessionConfig{Persist: true}}
	applyDefaults(cfg)
	return cfg
}

// Load reads the file at path, if any, then applies environment
// overrides and defaults. It does not validate.
func Load(path string) (*Config, error) {
	cfg := &Config{Session: SessionConfig{Persist: true}}
	if path != "" {
		// #nosec G304 -- path comes from the command line
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		data = []byte(expandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LISTEN":               &cfg.Listen,
		"TLS_CERT":             &cfg.TLSCert,
		"TLS_KEY":              &cfg.TLSKey,
		"MASTER_SECRET":        &cfg.MasterSecret,
		"MASTER_SECRET_FILE":   &cfg.MasterSecretFile,
		"ISSUER_KEY":           &cfg.IssuerKey,
		"COOKIE_NAME":          &cfg.Cookie.Name,
		"COOKIE_DOMAIN":        &cfg.Cookie.Domain,
		"SESSION_HASHER":       &cfg.Session.Hasher,
		"STORE_DRIVER":         &cfg.Store.Driver,
		"STORE_PATH":           &cfg.Store.Path,
		"STORE_DSN":            &cfg.Store.DSN,
		"STORE_REDIS_ADDR":     &cfg.Store.RedisAddr,
		"STORE_REDIS_PASSWORD": &cfg.Store.RedisPassword,
		"AUDIT_WEBHOOK_URL":    &cfg.Audit.WebhookURL,
		"AUDIT_WEBHOOK_HEADER": &cfg.Audit.WebhookHeader,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_FORMAT":           &cfg.Log.Format,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = splitList(v)
	}

	var errs []error
	bools := map[string]*bool{
		"COOKIE_SECURE":   &cfg.Cookie.Secure,
		"SESSION_PERSIST": &cfg.Session.Persist,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = b
		}
	}
	durations := map[string]*time.Duration{
		"SESSION_DEFAULT_MAX_AGE":  &cfg.Session.DefaultMaxAge,
		"SESSION_JANITOR_INTERVAL": &cfg.Session.JanitorInterval,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = d
		}
	}
	ints := map[string]*int{
		"SESSION_BCRYPT_COST": &cfg.Session.BcryptCost,
		"STORE_REDIS_DB":      &cfg.Store.RedisDB,
	}
	for name, dst := range ints {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				continue
			}
			*dst = n
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8443"
	}
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "session"
	}
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = "/"
	}
	if cfg.Session.Hasher == "" {
		cfg.Session.Hasher = HasherBcrypt
	}
	if cfg.Session.BcryptCost == 0 {
		cfg.Session.BcryptCost = crypto.DefaultBcryptCost
	}
	if cfg.Session.JanitorInterval == 0 {
		cfg.Session.JanitorInterval = 5 * time.Minute
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverBBolt
	}
	if cfg.Store.Driver == DriverBBolt && cfg.Store.Path == "" {
		cfg.Store.Path = "./data/sessions.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []string

	if c.MasterSecret == "" && c.MasterSecretFile == "" {
		errs = append(errs, "master_secret or master_secret_file is required")
	}
	if c.MasterSecret != "" && c.MasterSecretFile != "" {
		errs = append(errs, "master_secret and master_secret_file are mutually exclusive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, "tls_cert and tls_key must be set together")
	}
	if c.Session.DefaultMaxAge < 0 {
		errs = append(errs, "session.default_max_age must not be negative")
	}
	if c.Session.JanitorInterval < 0 {
		errs = append(errs, "session.janitor_interval must not be negative")
	}
	switch c.Session.Hasher {
	case HasherBcrypt:
		if _, err := crypto.NewBcryptHasher(c.Session.BcryptCost); err != nil {
			errs = append(errs, "session.bcrypt_cost: "+err.Error())
		}
	case HasherArgon2id:
	default:
		errs = append(errs, fmt.Sprintf("session.hasher %q is not one of bcrypt, argon2id", c.Session.Hasher))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverBBolt:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the bbolt driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, bbolt, postgres, redis", c.Store.Driver))
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Sprintf("trusted_proxies: %q is not an address or CIDR", p))
		}
	}
	if c.Audit.WebhookURL != "" {
		if u, err := url.Parse(c.Audit.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "audit.webhook_url must be an absolute http(s) URL")
		}
	}
	if h := c.Audit.WebhookHeader; h != "" && !strings.Contains(h, ":") {
		errs = append(errs, `audit.webhook_header must look like "Name: Value"`)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, "log.level: "+err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log.format %q is not one of text, json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateServer is Validate plus the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	err := c.Validate()
	if c.IssuerKey != "" {
		return err
	}
	const msg = "issuer_key is required to run the server"
	if err != nil {
		return fmt.Errorf("%w; %s", err, msg)
	}
	return fmt.Errorf("config validation errors: %s", msg)
}

// ReadMasterSecret returns the configured master secret, reading it from
// master_secret_file when that is set. Trailing newlines in the file are
// ignored.
func (c *Config) ReadMasterSecret() ([]byte, error) {
	if c.MasterSecretFile == "" {
		if c.MasterSecret == "" {
			return nil, errors.New("no master secret configured")
		}
		return []byte(c.MasterSecret), nil
	}
	data, err := os.ReadFile(c.MasterSecretFile)
	if err != nil {
		return nil, fmt.Errorf("reading master secret file: %w", err)
	}
	secret := []byte(strings.TrimRight(string(data), "\r\n"))
	if len(secret) == 0 {
		return nil, errors.New("master secret file is empty")
	}
	return secret, nil
}

// Hasher builds the configured secret hasher.
func (c *Config) Hasher() (crypto.Hasher, error) {
	switch c.Session.Hasher {
	case HasherBcrypt, "":
		return crypto.NewBcryptHasher(c.Session.BcryptCost)
	case HasherArgon2id:
		return crypto.Argon2idHasher{Params: crypto.DefaultArgon2idParams()}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q", c.Session.Hasher)
	}
}

// Logger builds the process logger.
func (c *Config) Logger() (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
