package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/viper"
)

// Config captures the node runtime parameters.
type Config struct {
	ListenAddress       string          `mapstructure:"listen_address"`
	WSPath              string          `mapstructure:"ws_path"`
	LogLevel            string          `mapstructure:"log_level"`
	LogEncoding         string          `mapstructure:"log_encoding"`
	ShutdownGracePeriod time.Duration   `mapstructure:"shutdown_grace_period"`
	InstanceID          string          `mapstructure:"instance_id"`
	Auth                AuthConfig      `mapstructure:"auth"`
	WebSocket           WebSocketConfig `mapstructure:"websocket"`
	Backplane           BackplaneConfig `mapstructure:"backplane"`
	Admin               AdminConfig     `mapstructure:"admin"`
}

// AuthConfig holds the shared secret tokens are derived from.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// WebSocketConfig tunes the client endpoint transport.
type WebSocketConfig struct {
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// BackplaneConfig selects and addresses the cross-instance channel.
type BackplaneConfig struct {
	Driver   string `mapstructure:"driver"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AdminConfig describes the metrics and health listener. An empty address disables it.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// Backplane drivers.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

const (
	defaultListenAddress       = "0.0.0.0:8080"
	defaultWSPath              = "/ws"
	defaultLogLevel            = "info"
	defaultLogEncoding         = "json"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultInstanceID          = "0"
	defaultAuthSecret          = "clave-maestra-oculta"
	defaultPingPeriod          = 60 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultWriteTimeout        = 10 * time.Second
	defaultMaxMessageBytes     = 1 << 20
	defaultBackplaneDriver     = DriverRedis
	defaultBackplaneAddress    = "localhost:6379"
	defaultBackplaneChannel    = "ws-channel"
	defaultReadHeaderTimeout   = 5 * time.Second
)

// legacyEnv holds the unprefixed variables read by earlier deployments of the relay.
type legacyEnv struct {
	InstanceID string `env:"INSTANCE_ID"`
	RedisHost  string `env:"REDIS_HOST"`
}

var durationKeys = []string{
	"shutdown_grace_period",
	"websocket.ping_period",
	"websocket.idle_timeout",
	"websocket.write_timeout",
	"admin.read_header_timeout",
}

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables are prefixed with RELAY_ and override file values. The
// unprefixed INSTANCE_ID and REDIS_HOST are honoured when no RELAY_ value is set.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("ws_path", defaultWSPath)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_encoding", defaultLogEncoding)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("instance_id", defaultInstanceID)
	v.SetDefault("auth.secret", defaultAuthSecret)
	v.SetDefault("websocket.ping_period", defaultPingPeriod.String())
	v.SetDefault("websocket.idle_timeout", defaultIdleTimeout.String())
	v.SetDefault("websocket.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("websocket.max_message_bytes", defaultMaxMessageBytes)
	v.SetDefault("websocket.allowed_origins", []string{})
	v.SetDefault("backplane.driver", defaultBackplaneDriver)
	v.SetDefault("backplane.address", defaultBackplaneAddress)
	v.SetDefault("backplane.password", "")
	v.SetDefault("backplane.db", 0)
	v.SetDefault("backplane.channel", defaultBackplaneChannel)
	v.SetDefault("admin.address", "")
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var legacy legacyEnv
	if err := envdecode.Decode(&legacy); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode legacy env: %w", err)
	}
	if legacy.InstanceID != "" && !envSet("RELAY_INSTANCE_ID") {
		v.Set("instance_id", legacy.InstanceID)
	}
	if legacy.RedisHost != "" && !envSet("RELAY_BACKPLANE_ADDRESS") {
		v.Set("backplane.address", withDefaultPort(legacy.RedisHost))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for _, key := range durationKeys {
		dur, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		setDuration(&cfg, key, dur)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the node cannot start with.
func (c Config) Validate() error {
	switch c.Backplane.Driver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unknown backplane driver %q", c.Backplane.Driver)
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret must not be empty")
	}
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id must not be empty")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws_path must start with /, got %q", c.WSPath)
	}
	if c.WebSocket.PingPeriod <= 0 || c.WebSocket.IdleTimeout <= c.WebSocket.PingPeriod {
		return fmt.Errorf("websocket.idle_timeout (%s) must exceed websocket.ping_period (%s)",
			c.WebSocket.IdleTimeout, c.WebSocket.PingPeriod)
	}
	return nil
}

func setDuration(cfg *Config, key string, dur time.Duration) {
	switch key {
	case "shutdown_grace_period":
		cfg.ShutdownGracePeriod = dur
	case "websocket.ping_period":
		cfg.WebSocket.PingPeriod = dur
	case "websocket.idle_timeout":
		cfg.WebSocket.IdleTimeout = dur
	case "websocket.write_timeout":
		cfg.WebSocket.WriteTimeout = dur
	case "admin.read_header_timeout":
		cfg.Admin.ReadHeaderTimeout = dur
	}
}

// withDefaultPort appends the Redis port to a bare host name, matching how the
// legacy REDIS_HOST variable was interpreted.
func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), "6379")
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}
