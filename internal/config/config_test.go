package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := &Config{
		Resource: ResourceConfig{
			CustomerID: "C0abc123",
			Domain:     "example.com",
			Environments: map[string]string{
				"corp": "/etc/groupgate/corp.yaml",
			},
		},
		Token: TokenConfig{Key: "signing-key"},
	}
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Resource.CacheTimeout != DefaultCacheTimeout {
		t.Errorf("CacheTimeout = %d", cfg.Resource.CacheTimeout)
	}
	if cfg.Token.Validity != DefaultTokenValidity {
		t.Errorf("Validity = %d", cfg.Token.Validity)
	}
	if cfg.SMTP.Port != 0 {
		t.Errorf("SMTP.Port = %d, the default must only apply with a host", cfg.SMTP.Port)
	}

	cfg = Config{SMTP: SMTPConfig{Host: "relay.example.com"}}
	cfg.SetDefaults()
	if cfg.SMTP.Port != DefaultSMTPPort {
		t.Errorf("SMTP.Port = %d, want %d", cfg.SMTP.Port, DefaultSMTPPort)
	}
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{Addr: ":9090", LogLevel: "warn"},
		Resource: ResourceConfig{CacheTimeout: 60},
	}
	cfg.SetDefaults()

	if cfg.Server.Addr != ":9090" || cfg.Server.LogLevel != "warn" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Resource.CacheTimeout != 60 {
		t.Errorf("CacheTimeout = %d", cfg.Resource.CacheTimeout)
	}
}

func TestSetDevDefaults(t *testing.T) {
	cfg := &Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.Server.LogLevel)
	}
	if cfg.Resource.CacheTimeout != DefaultDevCacheTime {
		t.Errorf("CacheTimeout = %d", cfg.Resource.CacheTimeout)
	}
	if cfg.Token.Key == "" {
		t.Error("dev mode must supply a signing key")
	}

	// Outside dev mode nothing changes.
	cfg = validConfig()
	cfg.SetDevDefaults()
	if cfg.Server.LogLevel != DefaultLogLevel || cfg.Token.Key != "signing-key" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()

	if cfg.CacheTTL() != time.Duration(DefaultCacheTimeout)*time.Second {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL())
	}
	if cfg.TokenValidity() != time.Hour {
		t.Errorf("TokenValidity = %v", cfg.TokenValidity())
	}
	if cfg.ReadTimeout() != time.Duration(DefaultReadTimeout)*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout())
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing customer ID",
			mutate:  func(c *Config) { c.Resource.CustomerID = "" },
			wantMsg: "CustomerID is required",
		},
		{
			name:    "bad domain",
			mutate:  func(c *Config) { c.Resource.Domain = "not a domain" },
			wantMsg: "must be a valid domain name",
		},
		{
			name:    "no environments",
			mutate:  func(c *Config) { c.Resource.Environments = nil },
			wantMsg: "Environments is required",
		},
		{
			name: "relative policy locator",
			mutate: func(c *Config) {
				c.Resource.Environments = map[string]string{"corp": "corp.yaml"}
			},
			wantMsg: "absolute path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantMsg: "must be one of",
		},
		{
			name:    "bad listen address",
			mutate:  func(c *Config) { c.Server.Addr = "no-port" },
			wantMsg: "host:port",
		},
		{
			name:    "missing token key",
			mutate:  func(c *Config) { c.Token.Key = "" },
			wantMsg: "token.key is required outside dev mode",
		},
		{
			name: "smtp host without sender",
			mutate: func(c *Config) {
				c.SMTP.Host = "relay.example.com"
				c.SMTP.Port = DefaultSMTPPort
			},
			wantMsg: "smtp.sender is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate must fail")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("Validate = %q, want it to mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestValidateAllowsMissingTokenKeyInDevMode(t *testing.T) {
	cfg := validConfig()
	cfg.DevMode = true
	cfg.Token.Key = ""
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestPolicyLocatorAcceptsFileScheme(t *testing.T) {
	cfg := validConfig()
	cfg.Resource.Environments = map[string]string{
		"corp": "file:///etc/groupgate/corp.yaml",
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestApplyEnvironmentLocators(t *testing.T) {
	cfg := &Config{
		Resource: ResourceConfig{
			Environments: map[string]string{"corp": "/etc/groupgate/corp.yaml"},
		},
	}

	applyEnvironmentLocators(cfg, []string{
		"GROUPGATE_RESOURCE_ENVIRONMENT_LAB=/etc/groupgate/lab.yaml",
		"GROUPGATE_RESOURCE_ENVIRONMENT_CORP=/srv/policies/corp.yaml",
		"GROUPGATE_RESOURCE_ENVIRONMENT_=ignored",
		"GROUPGATE_RESOURCE_ENVIRONMENT_EMPTY=",
		"PATH=/usr/bin",
		"malformed-entry",
	})

	want := map[string]string{
		"corp": "/srv/policies/corp.yaml",
		"lab":  "/etc/groupgate/lab.yaml",
	}
	if len(cfg.Resource.Environments) != len(want) {
		t.Fatalf("environments = %v", cfg.Resource.Environments)
	}
	for name, locator := range want {
		if cfg.Resource.Environments[name] != locator {
			t.Errorf("environments[%q] = %q, want %q", name, cfg.Resource.Environments[name], locator)
		}
	}
}

func TestApplyEnvironmentLocatorsInitializesMap(t *testing.T) {
	cfg := &Config{}
	applyEnvironmentLocators(cfg, []string{
		"GROUPGATE_RESOURCE_ENVIRONMENT_PROD=/etc/groupgate/prod.yaml",
	})
	if cfg.Resource.Environments["prod"] != "/etc/groupgate/prod.yaml" {
		t.Errorf("environments = %v", cfg.Resource.Environments)
	}
}
