package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lnprox-router/internal/logging"
)

const (
	DefaultCompletionURL    = "https://lightningprox.com/v1/messages"
	DefaultSettlementURL    = "https://demo.lnbits.com"
	DefaultModel            = "claude-sonnet-4-20250514"
	DefaultMaxTokens        = 256
	DefaultPort             = 8080
	DefaultPaymentTimeout   = 30 * time.Second
	DefaultPropagationDelay = 500 * time.Millisecond
)

// Environment variables consulted by Load after the YAML file.
const (
	EnvSettlementURL    = "LNBITS_URL"
	EnvAdminKey         = "LNBITS_ADMIN_KEY"
	EnvCompletionURL    = "LIGHTNINGPROX_API_URL"
	EnvModel            = "LIGHTNINGPROX_MODEL"
	EnvMaxTokens        = "LIGHTNINGPROX_MAX_TOKENS"
	EnvPaymentTimeout   = "LIGHTNINGPROX_PAYMENT_TIMEOUT"
	EnvPropagationDelay = "LIGHTNINGPROX_PROPAGATION_DELAY"
	EnvPort             = "PORT"
)

// Config represents the application configuration parsed from YAML and the environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Completion CompletionConfig `yaml:"completion"`
	Settlement SettlementConfig `yaml:"settlement"`
	Payment    PaymentConfig    `yaml:"payment"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig defines listener configuration for the proxy.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// CompletionConfig describes the pay-per-request completion endpoint.
type CompletionConfig struct {
	URL       string            `yaml:"url"`
	Model     string            `yaml:"model"`
	MaxTokens int               `yaml:"max_tokens"`
	Models    []string          `yaml:"models"`
	Aliases   map[string]string `yaml:"aliases"`
	Headers   Headers           `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with every completion request.
type Headers map[string]string

// SettlementConfig points at the LNbits wallet that pays invoices.
type SettlementConfig struct {
	URL      string `yaml:"url"`
	AdminKey string `yaml:"admin_key"`
}

// PaymentConfig bounds the settle-and-retry flow.
type PaymentConfig struct {
	// Timeout caps a whole invocation, both completion requests and the
	// settlement included. Zero disables the cap.
	Timeout time.Duration `yaml:"timeout"`
	// PropagationDelay is waited between a successful settlement and the
	// proof-of-payment resend.
	PropagationDelay time.Duration `yaml:"propagation_delay"`
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort},
		Completion: CompletionConfig{
			URL:       DefaultCompletionURL,
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Settlement: SettlementConfig{URL: DefaultSettlementURL},
		Payment: PaymentConfig{
			Timeout:          DefaultPaymentTimeout,
			PropagationDelay: DefaultPropagationDelay,
		},
		Log: LogConfig{Level: "info", Format: logging.FormatText},
	}
}

// LoadEnvFile loads KEY=value pairs from a dotenv file into the process
// environment. A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load starts from Default, overlays the YAML file at path (if any), then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// reservedHeaders are owned by the completion client. X-Payment-Hash in
// particular must only ever carry the charge ID of a settled invoice.
var reservedHeaders = map[string]struct{}{
	"X-Payment-Hash": {},
	"Content-Type":   {},
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	setString := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}

	setString(EnvSettlementURL, &c.Settlement.URL)
	setString(EnvAdminKey, &c.Settlement.AdminKey)
	setString(EnvCompletionURL, &c.Completion.URL)
	setString(EnvModel, &c.Completion.Model)

	if v, ok := lookup(EnvMaxTokens); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxTokens, err)
		}
		c.Completion.MaxTokens = n
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Server.Port = n
	}
	if v, ok := lookup(EnvPaymentTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := parseSecondsOrDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPaymentTimeout, err)
		}
		c.Payment.Timeout = d
	}
	if v, ok := lookup(EnvPropagationDelay); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPropagationDelay, err)
		}
		c.Payment.PropagationDelay = d
	}
	return nil
}

// parseSecondsOrDuration accepts "30" (seconds) as well as "30s" / "1m".
func parseSecondsOrDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate performs strict sanity checks on the configuration. The settlement
// admin key is checked by the orchestrator constructor instead.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if err := validateURL("completion.url", c.Completion.URL); err != nil {
		return err
	}
	if err := validateURL("settlement.url", c.Settlement.URL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Completion.Model) == "" {
		return errors.New("completion.model must be provided")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("completion.max_tokens must be positive, got %d", c.Completion.MaxTokens)
	}

	for _, model := range c.Completion.Models {
		if strings.TrimSpace(model) == "" {
			return errors.New("completion.models entries must not be empty")
		}
	}

	for headerKey := range c.Completion.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("completion.headers: %q is not a valid canonical HTTP header", headerKey)
		}
		if _, reserved := reservedHeaders[http.CanonicalHeaderKey(headerKey)]; reserved {
			return fmt.Errorf("completion.headers: %q is set by the client and cannot be configured", headerKey)
		}
	}

	for alias, target := range c.Completion.Aliases {
		if strings.TrimSpace(alias) == "" {
			return errors.New("completion.aliases: alias name must not be empty")
		}
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("completion.aliases: alias %q target must not be empty", alias)
		}
	}

	if c.Payment.Timeout < 0 {
		return fmt.Errorf("payment.timeout must not be negative, got %s", c.Payment.Timeout)
	}
	if c.Payment.PropagationDelay < 0 {
		return fmt.Errorf("payment.propagation_delay must not be negative, got %s", c.Payment.PropagationDelay)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("log.format %q must be one of %q or %q", c.Log.Format, logging.FormatText, logging.FormatJSON)
	}

	return nil
}

// ModelIDs lists the default model followed by any extra configured models,
// without duplicates.
func (c CompletionConfig) ModelIDs() []string {
	seen := make(map[string]struct{}, len(c.Models)+1)
	ids := make([]string, 0, len(c.Models)+1)
	for _, id := range append([]string{c.Model}, c.Models...) {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func validateURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must be provided", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", field, raw)
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
