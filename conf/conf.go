// Package conf loads the application configuration from campushub.yml and the
// environment (CAMPUSHUB_ prefix, dots become underscores).
package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/campushub/campushub/internal/authz"
	"github.com/campushub/campushub/internal/db"
	"github.com/campushub/campushub/internal/log"
	"github.com/campushub/campushub/internal/scope"
	"github.com/campushub/campushub/internal/tracing"
)

type Config struct {
	Log   log.Config        `conf:"log"   yaml:"log"   json:"log"`
	DB    db.Config         `conf:"db"    yaml:"db"    json:"db"`
	Scope scope.Config      `conf:"scope" yaml:"scope" json:"scope"`
	Auth  authz.TokenConfig `conf:"auth"  yaml:"auth"  json:"auth"`
	Trace tracing.Config    `conf:"trace" yaml:"trace" json:"trace"`
}

// Load reads campushub.yml from the working directory, /etc/campushub or
// $HOME/.campushub, applies defaults and environment overrides.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("campushub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/campushub")
	v.AddConfigPath("$HOME/.campushub")

	v.SetEnvPrefix("CAMPUSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("conf: failed to read config file: %w", err)
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
	})
	if err != nil {
		return Config{}, fmt.Errorf("conf: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.name", "campushub")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// Empty defaults register the keys so environment overrides are seen by
	// Unmarshal even without a config file.
	v.SetDefault("db.dsn", "")
	v.SetDefault("auth.signing_key", "")

	v.SetDefault("db.pooler_mode", db.PoolerModeTransaction)
	v.SetDefault("db.max_conns", 20)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.statement_timeout", "5s")

	v.SetDefault("scope.acquire_timeout", "5s")
	v.SetDefault("scope.system_role", scope.DefaultSystemRole)

	v.SetDefault("auth.issuer", "campushub")
	v.SetDefault("auth.ttl", "168h")

	v.SetDefault("trace.trace_header", "X-Campushub-Trace-Id")
}

// Validate reports configuration problems as a list of messages, empty when
// the configuration is usable.
func (c Config) Validate() []string {
	var problems []string

	if c.DB.DSN == "" {
		problems = append(problems, "db.dsn cannot be empty")
	}

	if err := c.DB.Validate(); err != nil && c.DB.DSN != "" {
		problems = append(problems, err.Error())
	}

	if c.Log.Name == "" {
		problems = append(problems, "log.name cannot be empty")
	}

	if c.Scope.AcquireTimeout <= 0 {
		problems = append(problems, "scope.acquire_timeout must be positive")
	}

	if c.Scope.SystemRole == "" {
		problems = append(problems, "scope.system_role cannot be empty")
	}

	if c.Auth.SigningKey == "" {
		problems = append(problems, "auth.signing_key cannot be empty")
	}

	return problems
}
