// Package config provides configuration management for bobnet nodes
package config

import (
	"time"

	"github.com/najoast/bobnet/hub"
	"github.com/najoast/bobnet/network"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete node configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Listening socket configuration
	Network NetworkConfig `yaml:"network" json:"network"`

	// Actor runtime configuration
	Actor ActorConfig `yaml:"actor" json:"actor"`

	// Gossip hub configuration
	Hub HubConfig `yaml:"hub" json:"hub"`

	// Store configuration
	Store StoreConfig `yaml:"store" json:"store"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// NetworkConfig contains the listener configuration
type NetworkConfig struct {
	// Listening address
	Address string `yaml:"address" json:"address"`

	// Listening port, 0 picks a free one
	Port int `yaml:"port" json:"port"`

	// Maximum concurrent connections
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// Accepted connections per second, 0 disables the limit
	AcceptRate float64 `yaml:"accept_rate" json:"accept_rate"`

	// Accept burst size
	AcceptBurst int `yaml:"accept_burst" json:"accept_burst"`

	// Accept timeout, which is also the hub replication period
	AcceptTimeout time.Duration `yaml:"accept_timeout" json:"accept_timeout"`

	// Pause between accept attempts
	Interval time.Duration `yaml:"interval" json:"interval"`

	// TCP keep-alive period
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`

	// Wait after force-stopping connections on shutdown
	Grace time.Duration `yaml:"grace" json:"grace"`
}

// ActorConfig contains actor runtime configuration
type ActorConfig struct {
	// Default interval between OnInterval calls
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Timeout for stopping every actor on shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// HubConfig contains gossip hub configuration
type HubConfig struct {
	// Channels applied to the local store
	Subscriptions []string `yaml:"subscriptions" json:"subscriptions"`

	// Peer addresses dialed at startup
	Peers []string `yaml:"peers" json:"peers"`

	// Pause between peer receive rounds
	PeerInterval time.Duration `yaml:"peer_interval" json:"peer_interval"`

	// Bound on each peer receive attempt
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// Bound on each frame write
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// Bound on the handshake reply
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// Dial timeout per attempt
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`

	// Dial attempts per peer
	DialAttempts int `yaml:"dial_attempts" json:"dial_attempts"`

	// Wait between dial attempts
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval"`

	// Bloom filter capacity for dedup, 0 keeps every ID
	SeenCapacity uint `yaml:"seen_capacity" json:"seen_capacity"`

	// Bloom filter false positive rate
	SeenFalsePositive float64 `yaml:"seen_false_positive" json:"seen_false_positive"`
}

// StoreConfig contains store configuration
type StoreConfig struct {
	// Journal database file, empty keeps the journal in memory only
	JournalFile string `yaml:"journal_file" json:"journal_file"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	listener := network.DefaultListenerOptions()
	peer := hub.DefaultPeerOptions()
	dial := network.DefaultDialOptions()

	return &Config{
		App: AppConfig{
			Name:        "bobnet",
			Version:     "0.1.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stderr",
		},
		Network: NetworkConfig{
			Address:        listener.Host,
			Port:           7380,
			MaxConnections: hub.MaxPeers,
			AcceptTimeout:  listener.AcceptTimeout,
			Interval:       listener.Interval,
			Grace:          listener.Grace,
		},
		Actor: ActorConfig{
			Interval:        time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Hub: HubConfig{
			Subscriptions:     []string{"X"},
			PeerInterval:      peer.Interval,
			ReadTimeout:       peer.ReadTimeout,
			WriteTimeout:      peer.WriteTimeout,
			HandshakeTimeout:  peer.HandshakeTimeout,
			DialTimeout:       dial.Timeout,
			DialAttempts:      dial.Attempts,
			RetryInterval:     dial.RetryInterval,
			SeenFalsePositive: 0.0001,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	// Validate network config
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Network.MaxConnections < 0 {
		return ErrInvalidMaxConnections
	}
	if c.Network.AcceptTimeout <= 0 || c.Network.Interval < 0 {
		return ErrInvalidInterval
	}

	// Validate actor config
	if c.Actor.Interval < 0 {
		return ErrInvalidInterval
	}

	// Validate hub config
	if c.Hub.PeerInterval < 0 || c.Hub.ReadTimeout < 0 || c.Hub.HandshakeTimeout < 0 {
		return ErrInvalidInterval
	}
	if c.Hub.SeenCapacity > 0 && (c.Hub.SeenFalsePositive <= 0 || c.Hub.SeenFalsePositive >= 1) {
		return ErrInvalidSeenSet
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.Log.Level == LogLevelDebug || c.Log.Level == LogLevelTrace
}

// ListenerOptions converts the network section for a network.Listener.
func (n NetworkConfig) ListenerOptions() network.ListenerOptions {
	opts := network.DefaultListenerOptions()
	opts.Host = n.Address
	opts.Port = n.Port
	opts.MaxConnections = n.MaxConnections
	opts.AcceptRate = n.AcceptRate
	opts.AcceptBurst = n.AcceptBurst
	opts.KeepAlive = n.KeepAlive
	if n.AcceptTimeout > 0 {
		opts.AcceptTimeout = n.AcceptTimeout
	}
	if n.Interval > 0 {
		opts.Interval = n.Interval
	}
	if n.Grace > 0 {
		opts.Grace = n.Grace
	}
	return opts
}

// HubOptions converts the network and hub sections for hub.New.
func (c *Config) HubOptions() hub.Options {
	listener := c.Network.ListenerOptions()

	opts := hub.DefaultOptions()
	opts.Host = listener.Host
	opts.Port = listener.Port
	opts.MaxPeers = listener.MaxConnections
	opts.AcceptRate = listener.AcceptRate
	opts.AcceptBurst = listener.AcceptBurst
	opts.AcceptTimeout = listener.AcceptTimeout
	opts.Interval = listener.Interval
	opts.Grace = listener.Grace
	opts.KeepAlive = listener.KeepAlive
	opts.Subscriptions = append([]string(nil), c.Hub.Subscriptions...)

	opts.Peer = hub.PeerOptions{
		Interval:         c.Hub.PeerInterval,
		ReadTimeout:      c.Hub.ReadTimeout,
		WriteTimeout:     c.Hub.WriteTimeout,
		HandshakeTimeout: c.Hub.HandshakeTimeout,
	}
	opts.Dial = network.DialOptions{
		Timeout:       c.Hub.DialTimeout,
		KeepAlive:     c.Network.KeepAlive,
		Attempts:      c.Hub.DialAttempts,
		RetryInterval: c.Hub.RetryInterval,
	}
	if c.Hub.SeenCapacity > 0 {
		opts.Seen = hub.NewBloomSeen(c.Hub.SeenCapacity, c.Hub.SeenFalsePositive)
	}
	return opts
}
