package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"reelhub/pkg/models"
)

const (
	DriverREST   = "rest"
	DriverSQLite = "sqlite"
)

// DevJWTSecret is the placeholder shipped in the sample configs. It is only
// accepted for the local sqlite driver or gin debug mode.
const DevJWTSecret = "dev-secret-change-me"

type Config struct {
	HTTP        HTTPConfig        `mapstructure:"http"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Log         LogConfig         `mapstructure:"log"`
	RecordStore RecordStoreConfig `mapstructure:"recordstore"`
	Shard       ShardConfig       `mapstructure:"shard"`
	Domains     DomainsConfig     `mapstructure:"domains"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Sync        SyncConfig        `mapstructure:"sync"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

type GRPCConfig struct {
	Addr         string        `mapstructure:"addr"`
	CheckEvery   time.Duration `mapstructure:"check_every"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RecordStoreConfig struct {
	Driver     string        `mapstructure:"driver"`
	BaseURL    string        `mapstructure:"base_url"`
	Table      string        `mapstructure:"table"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second
	SQLitePath string        `mapstructure:"sqlite_path"`
}

type ShardConfig struct {
	Capacity  int  `mapstructure:"capacity"`
	Serialize bool `mapstructure:"serialize"`
}

type DomainConfig struct {
	APIKey         string   `mapstructure:"api_key"`
	WorkspaceID    string   `mapstructure:"workspace_id"`
	OptionalShards []string `mapstructure:"optional_shards"`
}

type DomainsConfig struct {
	Movies  DomainConfig `mapstructure:"movies"`
	Series  DomainConfig `mapstructure:"series"`
	Anime   DomainConfig `mapstructure:"anime"`
	History DomainConfig `mapstructure:"history"`
	Account DomainConfig `mapstructure:"account"`
}

type SyncConfig struct {
	TCPAddr string `mapstructure:"tcp_addr"` // empty disables the TCP event feed
}

type AuthConfig struct {
	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTIssuer          string        `mapstructure:"jwt_issuer"`
	JWTDuration        time.Duration `mapstructure:"jwt_ttl"`
	BcryptCost         int           `mapstructure:"bcrypt_cost"`
	RequireHistoryAuth bool          `mapstructure:"require_history_auth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.mode", "release")
	v.SetDefault("grpc.addr", ":7071")
	v.SetDefault("grpc.check_every", 30*time.Second)
	v.SetDefault("grpc.check_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")

	v.SetDefault("recordstore.driver", DriverREST)
	v.SetDefault("recordstore.base_url", "https://api.airtable.com/v0")
	v.SetDefault("recordstore.table", "Table 1")
	v.SetDefault("recordstore.timeout", 30*time.Second)
	v.SetDefault("recordstore.max_retries", 3)
	v.SetDefault("recordstore.retry_delay", 500*time.Millisecond)
	v.SetDefault("recordstore.rate_limit", 5.0)
	v.SetDefault("recordstore.sqlite_path", "data/recordstore.db")

	v.SetDefault("shard.capacity", 1000)
	v.SetDefault("shard.serialize", true)

	v.SetDefault("auth.jwt_issuer", "reelhub")
	v.SetDefault("auth.jwt_ttl", time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.require_history_auth", true)

	v.SetDefault("sync.tcp_addr", "127.0.0.1:7070")
}

// bindLegacyEnv keeps the plain variable names deployments already use
// (MOVIES_API_KEY, JWT_SECRET, PORT ...) working next to REELHUB_* ones.
func bindLegacyEnv(v *viper.Viper) error {
	binds := map[string][]string{
		"http.addr":       {"REELHUB_HTTP_ADDR"},
		"auth.jwt_secret": {"REELHUB_AUTH_JWT_SECRET", "JWT_SECRET"},
	}
	for _, d := range models.AllDomains {
		upper := strings.ToUpper(string(d))
		binds["domains."+string(d)+".api_key"] = []string{
			"REELHUB_DOMAINS_" + upper + "_API_KEY", upper + "_API_KEY",
		}
		binds["domains."+string(d)+".workspace_id"] = []string{
			"REELHUB_DOMAINS_" + upper + "_WORKSPACE_ID", upper + "_WORKSPACE_ID",
		}
	}
	for key, envs := range binds {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// LoadConfig reads .env (if present), config.yaml (if present) and the
// environment, in increasing order of precedence.
func LoadConfig(paths ...string) (*Config, error) {
	// .env is optional; a missing file is the normal case in containers
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("REELHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PORT is what most hosting platforms inject
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port != "" && os.Getenv("REELHUB_HTTP_ADDR") == "" && !v.InConfig("http.addr") {
		cfg.HTTP.Addr = ":" + port
	}
	return cfg, nil
}

// Validate fails fast on configuration that would otherwise only surface on
// the first request touching a domain.
func (c *Config) Validate() error {
	var problems []string

	switch c.RecordStore.Driver {
	case DriverREST:
		if strings.TrimSpace(c.RecordStore.BaseURL) == "" {
			problems = append(problems, "recordstore.base_url is required")
		}
		for _, name := range models.AllDomains {
			d := c.Domain(name)
			if d.APIKey == "" {
				problems = append(problems, fmt.Sprintf("domains.%s.api_key is required", name))
			}
			if d.WorkspaceID == "" {
				problems = append(problems, fmt.Sprintf("domains.%s.workspace_id is required", name))
			}
		}
	case DriverSQLite:
		if strings.TrimSpace(c.RecordStore.SQLitePath) == "" {
			problems = append(problems, "recordstore.sqlite_path is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("recordstore.driver %q must be %q or %q", c.RecordStore.Driver, DriverREST, DriverSQLite))
	}

	if c.Shard.Capacity <= 0 {
		problems = append(problems, "shard.capacity must be > 0")
	}
	if c.RecordStore.Timeout <= 0 {
		problems = append(problems, "recordstore.timeout must be > 0")
	}
	switch {
	case strings.TrimSpace(c.Auth.JWTSecret) == "":
		problems = append(problems, "auth.jwt_secret is required")
	case c.Auth.JWTSecret == DevJWTSecret && c.RecordStore.Driver != DriverSQLite && c.HTTP.Mode != "debug":
		problems = append(problems, "auth.jwt_secret must not be the development placeholder outside sqlite or debug mode")
	}
	if c.Auth.JWTDuration <= 0 {
		problems = append(problems, "auth.jwt_ttl must be > 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Domain returns the store handle for a domain. In sqlite mode missing
// credentials are filled with local placeholders.
func (c *Config) Domain(name models.DomainName) models.Domain {
	var dc DomainConfig
	switch name {
	case models.DomainMovies:
		dc = c.Domains.Movies
	case models.DomainSeries:
		dc = c.Domains.Series
	case models.DomainAnime:
		dc = c.Domains.Anime
	case models.DomainHistory:
		dc = c.Domains.History
	case models.DomainAccount:
		dc = c.Domains.Account
	}

	d := models.Domain{
		Name:           name,
		APIKey:         dc.APIKey,
		WorkspaceID:    dc.WorkspaceID,
		OptionalShards: dc.OptionalShards,
	}
	if c.RecordStore.Driver == DriverSQLite {
		if d.APIKey == "" {
			d.APIKey = "local"
		}
		if d.WorkspaceID == "" {
			d.WorkspaceID = string(name)
		}
	}
	return d
}

// CatalogDomains maps each catalog type to its domain handle.
func (c *Config) CatalogDomains() map[models.ContentType]models.Domain {
	out := make(map[models.ContentType]models.Domain, len(models.CatalogTypes))
	for _, t := range models.CatalogTypes {
		out[t] = c.Domain(t.Domain())
	}
	return out
}

// AllDomains returns every domain handle in models.AllDomains order.
func (c *Config) AllDomains() []models.Domain {
	out := make([]models.Domain, 0, len(models.AllDomains))
	for _, name := range models.AllDomains {
		out = append(out, c.Domain(name))
	}
	return out
}
