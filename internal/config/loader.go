package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment-variable overrides, e.g.
// GROUPGATE_RESOURCE_CUSTOMER_ID overrides resource.customer_id.
const envPrefix = "GROUPGATE"

// environmentLocatorPrefix introduces per-environment policy locators:
// GROUPGATE_RESOURCE_ENVIRONMENT_PROD=/etc/groupgate/prod.yaml
// registers environment "prod".
const environmentLocatorPrefix = envPrefix + "_RESOURCE_ENVIRONMENT_"

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, standard locations
// are searched for groupgate.yaml/.yml. The search requires an
// explicit YAML extension to avoid matching the binary itself.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found; ReadInConfig will return
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("groupgate")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".groupgate"),
		"/etc/groupgate",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "groupgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment-variable
// support. Maps (resource.environments) are handled separately by
// applyEnvironmentLocators.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")

	_ = viper.BindEnv("resource.customer_id")
	_ = viper.BindEnv("resource.domain")
	_ = viper.BindEnv("resource.cache_timeout")

	_ = viper.BindEnv("backend.connect_timeout")
	_ = viper.BindEnv("backend.read_timeout")
	_ = viper.BindEnv("backend.write_timeout")

	_ = viper.BindEnv("token.key")
	_ = viper.BindEnv("token.validity")

	_ = viper.BindEnv("smtp.host")
	_ = viper.BindEnv("smtp.port")
	_ = viper.BindEnv("smtp.sender")
	_ = viper.BindEnv("smtp.username")
	_ = viper.BindEnv("smtp.password")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment
// overrides and defaults, and validates the result. Callers that
// apply CLI flag overrides (such as --dev) should use LoadConfigRaw
// and finish with SetDevDefaults and Validate themselves.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does not apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; environment variables may still carry a
		// complete configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvironmentLocators(&cfg, os.Environ())
	cfg.SetDefaults()
	return &cfg, nil
}

// applyEnvironmentLocators merges GROUPGATE_RESOURCE_ENVIRONMENT_<NAME>
// variables into the environment map. Variables take precedence over
// file entries of the same name.
func applyEnvironmentLocators(cfg *Config, environ []string) {
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, environmentLocatorPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, environmentLocatorPrefix))
		if name == "" || value == "" {
			continue
		}
		if cfg.Resource.Environments == nil {
			cfg.Resource.Environments = map[string]string{}
		}
		cfg.Resource.Environments[name] = value
	}
}

// ConfigFileUsed returns the path of the loaded configuration file, or
// an empty string when running on environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
