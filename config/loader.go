// Package config provides configuration loading and parsing functionality
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from files and the environment.
//
// Durations are written as Go duration strings ("100ms", "1m30s") in both
// YAML and JSON files; an integer is read as nanoseconds.
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"/etc/bobnet",
			os.Getenv("HOME") + "/.bobnet",
		},
		envPrefix:     "BOBNET",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, or the defaults when
// filename is empty, then applies environment overrides
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	return l.loadFromFile(filename)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader parses configuration from an io.Reader without defaults or
// environment overrides
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	return l.parseConfig(data, format, &Config{})
}

// AutoLoad discovers a configuration file in the search paths. Without one
// the defaults are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.FindConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// FindConfigFile searches for configuration files in search paths
func (l *Loader) FindConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"bobnet.yaml", "bobnet.yml", "bobnet.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err != nil {
				continue
			}
			format, err := formatOf(fullPath)
			if err != nil {
				continue
			}
			return fullPath, format, nil
		}
	}

	return "", "", ErrConfigFileNotFound
}

func formatOf(filename string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported config file format: %s", ErrConfigParseError, ext)
	}
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	// copy so repeated loads never share state
	cfg := *l.defaultConfig
	cfg.Hub.Subscriptions = append([]string(nil), l.defaultConfig.Hub.Subscriptions...)
	cfg.Hub.Peers = append([]string(nil), l.defaultConfig.Hub.Peers...)
	return &cfg
}

// loadFromFile decodes the file over the defaults, so absent keys keep their
// default value
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatOf(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format, l.defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
	}
	return l.finish(config)
}

// finish applies environment overrides and validates
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

// parseConfig decodes data over config
func (l *Loader) parseConfig(data []byte, format ConfigFormat, config *Config) (*Config, error) {
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := decodeJSON(data, config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported config format: %s", ErrConfigParseError, format)
	}

	return config, nil
}

var durationType = reflect.TypeOf((*time.Duration)(nil)).Elem()

// decodeJSON decodes data over config, accepting duration strings the way
// the YAML decoder does
func decodeJSON(data []byte, config *Config) error {
	var tree any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return err
	}
	if err := parseDurations(tree, reflect.TypeOf(config).Elem()); err != nil {
		return err
	}

	normalized, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalized, config)
}

// parseDurations replaces duration strings in node, a decoded JSON object
// shaped like t, with their nanosecond counts
func parseDurations(node any, t reflect.Type) error {
	obj, ok := node.(map[string]any)
	if !ok || t.Kind() != reflect.Struct {
		return nil
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		value, ok := obj[name]
		if !ok {
			continue
		}

		switch {
		case field.Type == durationType:
			s, ok := value.(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			obj[name] = d.Nanoseconds()
		case field.Type.Kind() == reflect.Struct:
			if err := parseDurations(value, field.Type); err != nil {
				return fmt.Errorf("%s.%w", name, err)
			}
		}
	}
	return nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	env := func(key string) string {
		return os.Getenv(l.envPrefix + "_" + key)
	}

	// App configuration
	if val := env("APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := env("APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := env("APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val := env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Network configuration
	if val := env("NETWORK_ADDRESS"); val != "" {
		config.Network.Address = val
	}
	if val := env("NETWORK_PORT"); val != "" {
		port, err := parsePort(val)
		if err != nil {
			return fmt.Errorf("%w: %s_NETWORK_PORT: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Network.Port = port
	}
	if val := env("NETWORK_MAX_CONNECTIONS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_NETWORK_MAX_CONNECTIONS: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Network.MaxConnections = n
	}
	if val := env("NETWORK_ACCEPT_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s_NETWORK_ACCEPT_TIMEOUT: %v", ErrEnvironmentVarError, l.envPrefix, err)
		}
		config.Network.AcceptTimeout = d
	}

	// Hub configuration
	if val, ok := os.LookupEnv(l.envPrefix + "_HUB_SUBSCRIPTIONS"); ok {
		config.Hub.Subscriptions = splitList(val)
	}
	if val, ok := os.LookupEnv(l.envPrefix + "_HUB_PEERS"); ok {
		config.Hub.Peers = splitList(val)
	}

	// Store configuration
	if val := env("STORE_JOURNAL_FILE"); val != "" {
		config.Store.JournalFile = val
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// splitList splits a comma-separated list, dropping empty items
func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
