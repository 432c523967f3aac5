package eventstreamrpc

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/viper"
)

// SocketDomain selects the address family used to reach the server.
type SocketDomain int

const (
	SocketDomainIPv4 SocketDomain = iota
	SocketDomainIPv6
	// SocketDomainLocal treats the host name as a unix domain socket path.
	SocketDomainLocal
)

func (domain SocketDomain) String() string {
	switch domain {
	case SocketDomainIPv4:
		return "ipv4"
	case SocketDomainIPv6:
		return "ipv6"
	case SocketDomainLocal:
		return "local"
	}
	return "unknown"
}

// ParseSocketDomain parses ipv4, ipv6, or local.
func ParseSocketDomain(value string) (SocketDomain, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "ipv4":
		return SocketDomainIPv4, nil
	case "ipv6":
		return SocketDomainIPv6, nil
	case "local", "unix":
		return SocketDomainLocal, nil
	}
	return SocketDomainIPv4, fmt.Errorf("unknown socket domain %q", value)
}

// SocketOptions configures the transport socket.
type SocketOptions struct {
	Domain         SocketDomain
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// WebSocketPath, when set, carries frames as binary websocket messages
	// on ws(s)://host:port/WebSocketPath instead of a raw stream socket.
	WebSocketPath string
}

// ConnectionConfig is the snapshot Connect works from.
type ConnectionConfig struct {
	HostName      string
	Port          *uint16
	SocketOptions SocketOptions
	TLSConfig     *tls.Config

	// ConnectAmendment contributes headers and payload to the CONNECT message.
	ConnectAmendment *MessageAmendment

	// ConnectRequestCallback fires when the CONNECT message is flushed.
	ConnectRequestCallback OnMessageFlushCallback

	// Engine opens native connections. Nil selects DefaultEngine.
	Engine ChannelEngine

	Metrics *Metrics
}

// SetPort sets the port and returns config.
func (config *ConnectionConfig) SetPort(port uint16) *ConnectionConfig {
	config.Port = &port
	return config
}

// Validate checks that the fields Connect requires are present.
func (config *ConnectionConfig) Validate() error {
	if config == nil {
		return errors.New("connection config is nil")
	}
	if config.HostName == "" {
		return errors.New("host name is required")
	}
	if config.Port == nil {
		return errors.New("port is required")
	}
	if config.SocketOptions.ConnectTimeout < 0 {
		return errors.New("connect timeout must not be negative")
	}
	return nil
}

// clone returns the snapshot taken at Connect time.
func (config *ConnectionConfig) clone() *ConnectionConfig {
	snapshot := *config
	if config.Port != nil {
		port := *config.Port
		snapshot.Port = &port
	}
	snapshot.ConnectAmendment = config.ConnectAmendment.Clone()
	if config.TLSConfig != nil {
		snapshot.TLSConfig = config.TLSConfig.Clone()
	}
	return &snapshot
}

type fileConnectionConfig struct {
	HostName string `mapstructure:"host_name"`
	Port     int    `mapstructure:"port"`
	Socket   struct {
		Domain         string        `mapstructure:"domain"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		KeepAlive      time.Duration `mapstructure:"keep_alive"`
		WebSocketPath  string        `mapstructure:"websocket_path"`
	} `mapstructure:"socket"`
	TLS struct {
		Enabled            bool   `mapstructure:"enabled"`
		CAFile             string `mapstructure:"ca_file"`
		ServerName         string `mapstructure:"server_name"`
		InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	} `mapstructure:"tls"`
	ConnectAmendment struct {
		Headers map[string]string `mapstructure:"headers"`
		Payload string            `mapstructure:"payload"`
	} `mapstructure:"connect_amendment"`
}

// EnvPrefix is the prefix of environment overrides read by LoadConnectionConfig.
const EnvPrefix = "EVENTSTREAMRPC"

// LoadConnectionConfig reads a YAML configuration file and applies
// EVENTSTREAMRPC_* environment overrides. An empty path reads the
// environment only.
func LoadConnectionConfig(path string) (*ConnectionConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("host_name", "")
	v.SetDefault("port", -1)
	v.SetDefault("socket.domain", "ipv4")
	v.SetDefault("socket.connect_timeout", 10*time.Second)
	v.SetDefault("socket.keep_alive", time.Duration(0))
	v.SetDefault("socket.websocket_path", "")
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.ca_file", "")
	v.SetDefault("tls.server_name", "")
	v.SetDefault("tls.insecure_skip_verify", false)
	v.SetDefault("connect_amendment.payload", "")

	v.AutomaticEnv()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var raw fileConnectionConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	config, err := raw.toConnectionConfig()
	if err != nil {
		return nil, fmt.Errorf("validate config failed: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config failed: %w", err)
	}
	return config, nil
}

func (raw fileConnectionConfig) toConnectionConfig() (*ConnectionConfig, error) {
	domain, err := ParseSocketDomain(raw.Socket.Domain)
	if err != nil {
		return nil, err
	}

	config := &ConnectionConfig{
		HostName: raw.HostName,
		SocketOptions: SocketOptions{
			Domain:         domain,
			ConnectTimeout: raw.Socket.ConnectTimeout,
			KeepAlive:      raw.Socket.KeepAlive,
			WebSocketPath:  raw.Socket.WebSocketPath,
		},
	}
	if raw.Port >= 0 {
		if raw.Port > 65535 {
			return nil, fmt.Errorf("port %d out of range", raw.Port)
		}
		config.SetPort(uint16(raw.Port))
	}

	if raw.TLS.Enabled {
		tlsConfig := &tls.Config{
			ServerName:         raw.TLS.ServerName,
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
		if raw.TLS.CAFile != "" {
			pem, err := os.ReadFile(raw.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates in %s", raw.TLS.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		config.TLSConfig = tlsConfig
	}

	if len(raw.ConnectAmendment.Headers) > 0 || raw.ConnectAmendment.Payload != "" {
		amendment := &MessageAmendment{}
		for _, name := range sortedKeys(raw.ConnectAmendment.Headers) {
			amendment.AddHeader(NewStringHeader(name, raw.ConnectAmendment.Headers[name]))
		}
		if raw.ConnectAmendment.Payload != "" {
			amendment.SetPayload([]byte(raw.ConnectAmendment.Payload))
		}
		config.ConnectAmendment = amendment
	}
	return config, nil
}

// Environment variables read by NewGreengrassConnectionConfig.
const (
	GreengrassSocketPathEnv = "AWS_GG_NUCLEUS_DOMAIN_SOCKET_FILEPATH_FOR_COMPONENT"
	GreengrassAuthTokenEnv  = "SVCUID"
)

type greengrassConnectPayload struct {
	AuthToken string `json:"authToken"`
}

// NewGreengrassConnectionConfig returns the configuration a Greengrass
// component uses to reach the nucleus IPC socket.
func NewGreengrassConnectionConfig() (*ConnectionConfig, error) {
	socketPath := os.Getenv(GreengrassSocketPathEnv)
	if socketPath == "" {
		return nil, fmt.Errorf("%s is not set", GreengrassSocketPathEnv)
	}
	authToken := os.Getenv(GreengrassAuthTokenEnv)
	if authToken == "" {
		return nil, fmt.Errorf("%s is not set", GreengrassAuthTokenEnv)
	}

	payload, err := json.Marshal(greengrassConnectPayload{AuthToken: authToken})
	if err != nil {
		return nil, err
	}

	config := &ConnectionConfig{
		HostName:         socketPath,
		SocketOptions:    SocketOptions{Domain: SocketDomainLocal, ConnectTimeout: 10 * time.Second},
		ConnectAmendment: NewMessageAmendment(nil, payload),
	}
	config.SetPort(0)
	return config, nil
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
