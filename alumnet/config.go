package alumnet

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls how the SDK connects.
type Config struct {
	// URL is the full websocket URL of the broadcast server. When empty it is
	// built from Scheme, Host, Port and AppKey.
	URL    string `yaml:"url"`
	AppKey string `yaml:"app_key"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Scheme string `yaml:"scheme"` // "http" or "https"

	// RESTBaseURL is the API root, e.g. http://localhost/api.
	RESTBaseURL string `yaml:"rest_base_url"`
	// AuthEndpoint signs private channel subscriptions.
	// Defaults to RESTBaseURL + "/broadcasting/auth".
	AuthEndpoint string `yaml:"auth_endpoint"`
	// Token is a bearer credential to start with (optional).
	Token string `yaml:"token"`

	// EventNamespace prefixes event names passed to Subscribe.
	EventNamespace string `yaml:"event_namespace"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// ReadTimeout bounds a single read. Zero derives it from the server's
	// activity timeout.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RequestTimeout bounds REST calls made on the SDK's own behalf
	// (channel authorization during resubscribe).
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectDelay is the pause between disconnect and connect on a
	// manual Reconnect.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// AutoReconnect retries after transport errors with capped exponential
	// backoff. Authentication failures are never retried.
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectTries int           `yaml:"max_reconnect_tries"`

	// TypingTTL is how long a typing indicator stays on without renewal.
	TypingTTL time.Duration `yaml:"typing_ttl"`

	// StoreDir holds the persisted session. Empty keeps it in memory.
	StoreDir string `yaml:"store_dir"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scheme:            "http",
		Port:              8080,
		EventNamespace:    "App.Events",
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		RequestTimeout:    15 * time.Second,
		ReconnectDelay:    time.Second,
		ReconnectInterval: 2 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		MaxReconnectTries: 5,
		TypingTTL:         time.Second,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. ${VAR} references are
// expanded from the environment before parsing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, NewError(ErrorInvalidConfig, "config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "read config", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, WrapError(ErrorInvalidConfig, "parse "+path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that the broadcast server can be located.
func (c Config) Validate() error {
	if c.URL == "" {
		if c.Host == "" {
			return NewError(ErrorInvalidConfig, "either url or host is required")
		}
		if c.AppKey == "" {
			return NewError(ErrorInvalidConfig, "app_key is required when url is not set")
		}
	}
	if c.Scheme != "" && c.Scheme != "http" && c.Scheme != "https" {
		return NewError(ErrorInvalidConfig, fmt.Sprintf("scheme must be http or https, got %q", c.Scheme))
	}
	if c.MaxReconnectTries < 0 {
		return NewError(ErrorInvalidConfig, "max_reconnect_tries must not be negative")
	}
	return nil
}

// WebSocketURL returns the broadcast server URL including protocol query
// parameters.
func (c Config) WebSocketURL() (string, error) {
	if c.URL != "" {
		if _, err := url.Parse(c.URL); err != nil {
			return "", WrapError(ErrorInvalidConfig, "parse url", err)
		}
		return c.URL, nil
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	scheme := "ws"
	if c.Scheme == "https" {
		scheme = "wss"
	}
	host := c.Host
	if c.Port > 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	q := url.Values{}
	q.Set("protocol", strconv.Itoa(ProtocolVersion))
	q.Set("client", clientName)
	q.Set("version", clientVersion)
	q.Set("flash", "false")
	u := url.URL{Scheme: scheme, Host: host, Path: "/app/" + c.AppKey, RawQuery: q.Encode()}
	return u.String(), nil
}

// authEndpoint resolves the private channel authorization URL.
func (c Config) authEndpoint() string {
	if c.AuthEndpoint != "" {
		return c.AuthEndpoint
	}
	if c.RESTBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.RESTBaseURL, "/") + "/broadcasting/auth"
}
