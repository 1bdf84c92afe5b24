package webcore

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// BearerCallbacks groups the three pluggable callbacks the Bearer auth
// pipeline needs (§4.10). DecodeVerify decodes and checks the signature
// of a raw bearer token, returning the decoded token on success.
// Expiration extracts the absolute expiration instant from a decoded
// token. Scope, if non-nil, checks the decoded token against the
// resource URL being requested.
type BearerCallbacks struct {
	DecodeVerify func(token string) (decoded string, ok bool)
	Expiration   func(decoded string) (exp time.Time, ok bool)
	Scope        func(decoded string, resourceURL string) bool
}

// Config is the recognized configuration surface (§6).
type Config struct {
	Port int `mapstructure:"port"`

	ThreadPoolSize int           `mapstructure:"thread_pool_size"`
	SocketTimeout  time.Duration `mapstructure:"socket_timeout"`

	DisableIPv4 bool   `mapstructure:"disable_ipv4"`
	DisableIPv6 bool   `mapstructure:"disable_ipv6"`
	Device      string `mapstructure:"device"` // Linux only

	HostAllowList []string `mapstructure:"host_allow_list"` // CIDR strings

	TLSEnabled  bool   `mapstructure:"tls_enabled"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
	TLSKeyPass  string `mapstructure:"tls_key_pass"`

	MutualTLS    bool     `mapstructure:"mutual_tls"`
	TLSCAFile    string   `mapstructure:"tls_ca_file"`
	AllowedDNs   []string `mapstructure:"allowed_dns"`

	BasicAuthUsers []string `mapstructure:"basic_auth_users"` // "user:password" or "user:$2a$..bcrypt"

	BearerAuthEnabled bool   `mapstructure:"bearer_auth_enabled"`
	BearerRealm       string `mapstructure:"bearer_realm"`
	BearerCallbacks   BearerCallbacks

	MultipartTempDir    string `mapstructure:"multipart_temp_dir"`
	MultipartMaxBuffer  int64  `mapstructure:"multipart_max_buffer"`

	SessionLifeTime  time.Duration `mapstructure:"session_life_time"`
	SessionSweepEvery time.Duration `mapstructure:"session_sweep_every"`

	ServerIdentity string `mapstructure:"server_identity"`

	MaxKeepAliveRequests int `mapstructure:"max_keep_alive_requests"`
	MaxForwards          int `mapstructure:"max_forwards"`

	// WebSocketMaxLatency bounds how long an outbound websocket message
	// may sit in a client's send queue before the sender drops it and
	// tears the client down as a slow consumer (§4.9).
	WebSocketMaxLatency time.Duration `mapstructure:"websocket_max_latency"`
}

// websocketMaxLatency returns the configured slow-consumer threshold, or
// a sensible default when unset.
func (c *Config) websocketMaxLatency() time.Duration {
	if c.WebSocketMaxLatency > 0 {
		return c.WebSocketMaxLatency
	}
	return 5 * time.Second
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                 8080,
		ThreadPoolSize:       64,
		SocketTimeout:        3 * time.Second,
		MultipartTempDir:     "",
		MultipartMaxBuffer:   16 << 20,
		SessionLifeTime:      20 * time.Minute,
		SessionSweepEvery:    60 * time.Second,
		ServerIdentity:       "webcore",
		MaxKeepAliveRequests: 25,
		MaxForwards:          8,
	}
}

// LoadConfig reads a YAML/TOML/JSON configuration file (auto-detected by
// extension) and env-var overrides (prefixed WEBCORE_) on top of
// DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("WEBCORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("webcore: read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("webcore: parse config %s: %w", path, err)
	}
	return cfg, nil
}
