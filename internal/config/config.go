package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	JWT         JWTConfig         `yaml:"jwt"`
	Admin       AdminConfig       `yaml:"admin"`
	Log         LogConfig         `yaml:"log"`
	PTS         PTSConfig         `yaml:"pts"`
	Integration IntegrationConfig `yaml:"integration"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// WebSocketConfig represents the controller-facing WebSocket listener
type WebSocketConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Path       string `yaml:"path"`
	MaxPayload int64  `yaml:"max_payload"`
}

// APIConfig represents the admin REST API listener
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration for the tag balance cache
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// AdminConfig holds the operator credentials for the admin API.
// PasswordHash is a bcrypt hash.
type AdminConfig struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PTSConfig represents protocol settings for PTS controllers
type PTSConfig struct {
	// MaxPacketID bounds device and server packet ids (1..MaxPacketID).
	MaxPacketID int `yaml:"max_packet_id"`
	// HeartbeatInterval is the probe tick; a probe unanswered for one
	// full interval marks the session dead.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// ShortConnectionThreshold flags anomalously short sessions.
	ShortConnectionThreshold time.Duration `yaml:"short_connection_threshold"`
	// EventBufferSize is the async event sink queue depth.
	EventBufferSize int `yaml:"event_buffer_size"`
	// DefaultTagBalance is returned for tags absent from storage.
	DefaultTagBalance float64 `yaml:"default_tag_balance"`
}

// IntegrationConfig represents outbound event forwarding
type IntegrationConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	MQTTBroker     string        `yaml:"mqtt_broker"`
	MQTTTopic      string        `yaml:"mqtt_topic"`
	MQTTClientID   string        `yaml:"mqtt_client_id"`
	MQTTUsername   string        `yaml:"mqtt_username"`
	MQTTPassword   string        `yaml:"mqtt_password"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if wsPath := os.Getenv("PTS_WS_PATH"); wsPath != "" {
		c.WebSocket.Path = wsPath
	}
}

// setDefaults fills unset fields with the documented PTS defaults
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "pts-server"
	}

	if c.WebSocket.Port == 0 {
		c.WebSocket.Port = 3000
	}
	if c.WebSocket.Path == "" {
		c.WebSocket.Path = "/ptsWebSocket"
	}
	if c.WebSocket.MaxPayload == 0 {
		c.WebSocket.MaxPayload = 1 << 20 // 1MB
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 5 * time.Minute
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	// Protocol defaults per the PTS documentation: packet ids 1-65535,
	// 30 second ping interval.
	if c.PTS.MaxPacketID == 0 {
		c.PTS.MaxPacketID = 65535
	}
	if c.PTS.HeartbeatInterval == 0 {
		c.PTS.HeartbeatInterval = 30 * time.Second
	}
	if c.PTS.WriteTimeout == 0 {
		c.PTS.WriteTimeout = 10 * time.Second
	}
	if c.PTS.ShortConnectionThreshold == 0 {
		c.PTS.ShortConnectionThreshold = 5 * time.Second
	}
	if c.PTS.EventBufferSize == 0 {
		c.PTS.EventBufferSize = 1024
	}

	if c.Integration.WebhookTimeout == 0 {
		c.Integration.WebhookTimeout = 30 * time.Second
	}
	if c.Integration.MQTTClientID == "" {
		c.Integration.MQTTClientID = "pts-server-forwarder"
	}
}

// validate rejects configurations the server cannot run with
func (c *Config) validate() error {
	if c.PTS.MaxPacketID < 1 || c.PTS.MaxPacketID > 65535 {
		return fmt.Errorf("pts.max_packet_id must be in [1, 65535], got %d", c.PTS.MaxPacketID)
	}

	if c.WebSocket.Port == c.API.Port {
		return fmt.Errorf("websocket and api listeners share port %d", c.API.Port)
	}

	return nil
}

// WebSocketAddr returns the controller listener address
func (c *Config) WebSocketAddr() string {
	return fmt.Sprintf("%s:%d", c.WebSocket.Host, c.WebSocket.Port)
}

// APIAddr returns the admin API listener address
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
