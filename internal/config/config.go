// Package config provides the service configuration schema and
// loading. Configuration comes from an optional YAML file with
// environment-variable overrides; environment policy locators can
// additionally be injected per environment via
// GROUPGATE_RESOURCE_ENVIRONMENT_<NAME> variables.
package config

import (
	"time"
)

// Config is the top-level service configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Resource configures the identity provider tenancy and the
	// registered environments.
	Resource ResourceConfig `yaml:"resource" mapstructure:"resource" validate:"required"`

	// Backend configures outbound call timeouts.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Token configures the deferral token signer.
	Token TokenConfig `yaml:"token" mapstructure:"token"`

	// SMTP configures the mail notifier. Optional: when the host is
	// empty, deferral notifications are disabled.
	SMTP SMTPConfig `yaml:"smtp" mapstructure:"smtp"`

	// DevMode swaps the directory and resource manager for in-memory
	// fakes and relaxes required settings.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, "host:port".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ResourceConfig configures the IdP tenancy and environments.
type ResourceConfig struct {
	// CustomerID is the identity provider customer identifier.
	CustomerID string `yaml:"customer_id" mapstructure:"customer_id" validate:"required"`

	// Domain is the email domain JIT groups are created under.
	Domain string `yaml:"domain" mapstructure:"domain" validate:"required,fqdn"`

	// Environments maps environment name to its policy locator.
	Environments map[string]string `yaml:"environments" mapstructure:"environments" validate:"required,min=1,dive,policy_locator"`

	// CacheTimeout is the environment cache TTL in seconds.
	CacheTimeout int `yaml:"cache_timeout" mapstructure:"cache_timeout" validate:"min=0"`
}

// BackendConfig configures outbound call timeouts, in seconds.
type BackendConfig struct {
	ConnectTimeout int `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"min=0"`
	ReadTimeout    int `yaml:"read_timeout" mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout   int `yaml:"write_timeout" mapstructure:"write_timeout" validate:"min=0"`
}

// TokenConfig configures the deferral token signer.
type TokenConfig struct {
	// Key is the HMAC signing key. Required outside dev mode.
	Key string `yaml:"key" mapstructure:"key"`

	// Validity is the token lifetime in seconds.
	Validity int `yaml:"validity" mapstructure:"validity" validate:"min=0"`
}

// SMTPConfig configures the mail notifier.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Sender   string `yaml:"sender" mapstructure:"sender" validate:"omitempty,email"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// Defaults applied by SetDefaults.
const (
	DefaultAddr           = ":8080"
	DefaultLogLevel       = "info"
	DefaultCacheTimeout   = 300
	DefaultDevCacheTime   = 20
	DefaultConnectTimeout = 5
	DefaultReadTimeout    = 20
	DefaultWriteTimeout   = 5
	DefaultTokenValidity  = 3600
	DefaultSMTPPort       = 587
)

// SetDefaults fills in defaults for unset optional fields.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Resource.CacheTimeout == 0 {
		c.Resource.CacheTimeout = DefaultCacheTimeout
	}
	if c.Backend.ConnectTimeout == 0 {
		c.Backend.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Backend.ReadTimeout == 0 {
		c.Backend.ReadTimeout = DefaultReadTimeout
	}
	if c.Backend.WriteTimeout == 0 {
		c.Backend.WriteTimeout = DefaultWriteTimeout
	}
	if c.Token.Validity == 0 {
		c.Token.Validity = DefaultTokenValidity
	}
	if c.SMTP.Host != "" && c.SMTP.Port == 0 {
		c.SMTP.Port = DefaultSMTPPort
	}
}

// SetDevDefaults applies permissive dev-mode settings. Call after CLI
// flag overrides and before Validate.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == DefaultLogLevel {
		c.Server.LogLevel = "debug"
	}
	// A short TTL keeps policy edits visible while iterating.
	if c.Resource.CacheTimeout == DefaultCacheTimeout {
		c.Resource.CacheTimeout = DefaultDevCacheTime
	}
	if c.Resource.CustomerID == "" {
		c.Resource.CustomerID = "dev"
	}
	if c.Resource.Domain == "" {
		c.Resource.Domain = "dev.example"
	}
	if c.Token.Key == "" {
		c.Token.Key = "dev-only-signing-key"
	}
}

// CacheTTL returns the environment cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Resource.CacheTimeout) * time.Second
}

// TokenValidity returns the deferral token lifetime.
func (c *Config) TokenValidity() time.Duration {
	return time.Duration(c.Token.Validity) * time.Second
}

// ConnectTimeout returns the outbound connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Backend.ConnectTimeout) * time.Second
}

// ReadTimeout returns the outbound read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Backend.ReadTimeout) * time.Second
}

// WriteTimeout returns the outbound write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Backend.WriteTimeout) * time.Second
}
