package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tanq16/gdvl/internal/utils"
)

const envPrefix = "GDVL"

// flagKeys maps command-line flag names onto config keys where they differ.
var flagKeys = map[string]string{
	"header": "headers",
}

// Config is the merged view of defaults, the config file, GDVL_* variables
// and command-line flags, in increasing order of precedence.
type Config struct {
	Connections      int           `mapstructure:"connections"`
	Workers          int           `mapstructure:"workers"`
	ChunkSize        string        `mapstructure:"chunk-size"`
	Timeout          time.Duration `mapstructure:"timeout"`
	KeepAliveTimeout time.Duration `mapstructure:"keep-alive-timeout"`
	Retries          int           `mapstructure:"retries"`
	RangeRetries     int           `mapstructure:"range-retries"`
	RetryBackoff     time.Duration `mapstructure:"retry-backoff"`
	LimitRate        string        `mapstructure:"limit-rate"`
	UserAgent        string        `mapstructure:"user-agent"`
	Proxy            string        `mapstructure:"proxy"`
	ProxyUsername    string        `mapstructure:"proxy-username"`
	ProxyPassword    string        `mapstructure:"proxy-password"`
	Headers          []string      `mapstructure:"headers"`
	Cookies          string        `mapstructure:"cookies"`
	Profile          string        `mapstructure:"profile"`
	Debug            bool          `mapstructure:"debug"`
	Plain            bool          `mapstructure:"plain"`

	// Parsed from ChunkSize and LimitRate by Load
	ChunkBytes int64 `mapstructure:"-"`
	RateBytes  int64 `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connections", utils.DefaultConnections)
	v.SetDefault("workers", 1)
	v.SetDefault("chunk-size", "0")
	v.SetDefault("timeout", utils.DefaultTimeout)
	v.SetDefault("keep-alive-timeout", utils.DefaultKATimeout)
	v.SetDefault("retries", utils.DefaultRetries)
	v.SetDefault("range-retries", utils.DefaultRangeRetries)
	v.SetDefault("retry-backoff", utils.DefaultRetryBackoff)
	v.SetDefault("limit-rate", "0")
	v.SetDefault("user-agent", utils.ToolUserAgent)
	v.SetDefault("headers", []string{})
	v.SetDefault("profile", "default")
}

// DefaultPath is $HOME/.config/gdvl/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gdvl", "config.yaml")
}

// Load reads configuration. An explicit configPath must exist; the default
// location is optional. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Connections < 1 {
		return fmt.Errorf("connections must be at least 1, got %d", c.Connections)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Retries < 0 || c.RangeRetries < 0 {
		return fmt.Errorf("retry counts cannot be negative")
	}
	if c.Timeout < 0 || c.KeepAliveTimeout < 0 || c.RetryBackoff < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	var err error
	if c.ChunkBytes, err = utils.ParseSize(c.ChunkSize); err != nil {
		return fmt.Errorf("chunk-size: %w", err)
	}
	if c.RateBytes, err = utils.ParseSize(c.LimitRate); err != nil {
		return fmt.Errorf("limit-rate: %w", err)
	}
	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	return nil
}

// HTTPClientConfig builds the client settings. Credentials embedded in the
// proxy URL are lifted into the username and password fields.
func (c *Config) HTTPClientConfig() (utils.HTTPClientConfig, error) {
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	proxyURL, proxyUsername, proxyPassword := c.Proxy, c.ProxyUsername, c.ProxyPassword
	if parsedProxy, err := url.Parse(proxyURL); err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	cfg := utils.HTTPClientConfig{
		Timeout:       c.Timeout,
		KATimeout:     c.KeepAliveTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		Headers:       utils.ParseHeaderArgs(c.Headers),
	}
	if c.Cookies != "" {
		cookies, err := utils.LoadCookies(c.Cookies)
		if err != nil {
			return cfg, err
		}
		cfg.Cookies = cookies
	}
	return cfg, nil
}

// Transfer returns the engine settings.
func (c *Config) Transfer() utils.TransferConfig {
	return utils.TransferConfig{
		ChunkSize:    c.ChunkBytes,
		Retries:      c.Retries,
		RangeRetries: c.RangeRetries,
		RetryBackoff: c.RetryBackoff,
		RateLimit:    c.RateBytes,
	}
}

// ConnectionsPerJob scales connections down so that all parallel jobs
// together stay within utils.MaxTotalConnections.
func (c *Config) ConnectionsPerJob() int {
	if c.Workers*c.Connections > utils.MaxTotalConnections {
		return max(utils.MaxTotalConnections/c.Workers, 1)
	}
	return c.Connections
}
