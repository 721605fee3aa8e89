package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/phillip-england/nutrisurvey/internal/wizard"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "nutrisurvey.yaml"

type Config struct {
	API     APIConfig     `yaml:"api"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

type APIConfig struct {
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	PublicURL   string `yaml:"public_url"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type ClientConfig struct {
	Addr        string `yaml:"addr"`
	APIBaseURL  string `yaml:"api_base_url"`
	PhotoPolicy string `yaml:"photo_policy"`
	Timezone    string `yaml:"timezone"`
	// CSRFKey is 32 bytes, hex encoded. When empty a key is generated per
	// process and open forms stop working after a restart.
	CSRFKey string `yaml:"csrf_key"`
	Secure  bool   `yaml:"secure_cookies"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			Addr:        ":8080",
			DBPath:      "data/nutrisurvey.db",
			MaxUploadMB: 10,
		},
		Client: ClientConfig{
			Addr:        ":3000",
			APIBaseURL:  "http://localhost:8080",
			PhotoPolicy: wizard.PolicyImmediate,
			Timezone:    "Asia/Seoul",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is only an error when explicit is true.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.API.Addr, "API_ADDR")
	setString(&cfg.API.DBPath, "STORE_DB_PATH")
	setString(&cfg.API.PublicURL, "STORE_PUBLIC_URL")
	setString(&cfg.Client.Addr, "CLIENT_ADDR")
	setString(&cfg.Client.APIBaseURL, "API_BASE_URL")
	setString(&cfg.Client.PhotoPolicy, "PHOTO_POLICY")
	setString(&cfg.Client.Timezone, "SURVEY_TIMEZONE")
	setString(&cfg.Client.CSRFKey, "CSRF_KEY")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("SECURE_COOKIES"))); err == nil {
		cfg.Client.Secure = v
	}
}

func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Client.PhotoPolicy) {
	case wizard.PolicyImmediate, wizard.PolicyDeferred:
	default:
		errs = append(errs, fmt.Errorf("client.photo_policy must be %q or %q, got %q", wizard.PolicyImmediate, wizard.PolicyDeferred, c.Client.PhotoPolicy))
	}
	if _, err := time.LoadLocation(c.Client.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("client.timezone: %w", err))
	}
	if c.Client.CSRFKey != "" {
		if _, err := decodeKey(c.Client.CSRFKey); err != nil {
			errs = append(errs, fmt.Errorf("client.csrf_key: %w", err))
		}
	}
	if c.API.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("api.max_upload_mb must be positive"))
	}
	if strings.TrimSpace(c.API.DBPath) == "" {
		errs = append(errs, errors.New("api.db_path is required"))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

func (c ClientConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// CSRFKeyBytes returns the configured key, or a fresh random one when none
// is set.
func (c ClientConfig) CSRFKeyBytes() ([]byte, bool, error) {
	if c.CSRFKey == "" {
		key, err := NewCSRFKey()
		if err != nil {
			return nil, false, err
		}
		b, _ := hex.DecodeString(key)
		return b, true, nil
	}
	b, err := decodeKey(c.CSRFKey)
	return b, false, err
}

func (c APIConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// NewCSRFKey returns 32 random bytes, hex encoded.
func NewCSRFKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func decodeKey(raw string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.New("must be hex encoded")
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(b))
	}
	return b, nil
}
