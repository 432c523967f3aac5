package eventstreamrpc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connection.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConnectionConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
host_name: echo.local
port: 8033
socket:
  domain: ipv6
  connect_timeout: 3s
  websocket_path: /rpc
connect_amendment:
  headers:
    client-name: accepted.testy_mc_testerson
    build: "42"
  payload: '{"hello":"world"}'
`)

	config, err := LoadConnectionConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "echo.local", config.HostName)
	require.NotNil(t, config.Port)
	assert.Equal(t, uint16(8033), *config.Port)
	assert.Equal(t, SocketDomainIPv6, config.SocketOptions.Domain)
	assert.Equal(t, 3*time.Second, config.SocketOptions.ConnectTimeout)
	assert.Equal(t, "/rpc", config.SocketOptions.WebSocketPath)
	assert.Nil(t, config.TLSConfig)

	headers := config.ConnectAmendment.Headers()
	require.Len(t, headers, 2)
	assert.Equal(t, "build", headers[0].Name(), "amendment headers are sorted by name")
	assert.Equal(t, "client-name", headers[1].Name())
	assert.Equal(t, `{"hello":"world"}`, string(config.ConnectAmendment.Payload()))
}

func TestLoadConnectionConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfigFile(t, "host_name: echo.local\nport: 8033\n")
	t.Setenv("EVENTSTREAMRPC_PORT", "9044")
	t.Setenv("EVENTSTREAMRPC_SOCKET_DOMAIN", "local")

	config, err := LoadConnectionConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(9044), *config.Port)
	assert.Equal(t, SocketDomainLocal, config.SocketOptions.Domain)
}

func TestLoadConnectionConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConnectionConfig(writeConfigFile(t, "port: 8033\n"))
	assert.ErrorContains(t, err, "host name is required")

	_, err = LoadConnectionConfig(writeConfigFile(t, "host_name: a\n"))
	assert.ErrorContains(t, err, "port is required")

	_, err = LoadConnectionConfig(writeConfigFile(t, "host_name: a\nport: 70000\n"))
	assert.ErrorContains(t, err, "out of range")

	_, err = LoadConnectionConfig(writeConfigFile(t, "host_name: a\nport: 1\nsocket:\n  domain: carrier-pigeon\n"))
	assert.ErrorContains(t, err, "unknown socket domain")

	_, err = LoadConnectionConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config failed")
}

func TestLoadConnectionConfigTLS(t *testing.T) {
	path := writeConfigFile(t, `
host_name: echo.local
port: 8443
tls:
  enabled: true
  server_name: echo.example
`)
	config, err := LoadConnectionConfig(path)
	require.NoError(t, err)
	require.NotNil(t, config.TLSConfig)
	assert.Equal(t, "echo.example", config.TLSConfig.ServerName)

	_, err = LoadConnectionConfig(writeConfigFile(t, `
host_name: echo.local
port: 8443
tls:
  enabled: true
  ca_file: /does/not/exist.pem
`))
	assert.ErrorContains(t, err, "read ca file")
}

func TestGreengrassConnectionConfig(t *testing.T) {
	t.Setenv(GreengrassSocketPathEnv, "/greengrass/v2/ipc.socket")
	t.Setenv(GreengrassAuthTokenEnv, "token-123")

	config, err := NewGreengrassConnectionConfig()
	require.NoError(t, err)
	assert.Equal(t, "/greengrass/v2/ipc.socket", config.HostName)
	assert.Equal(t, uint16(0), *config.Port)
	assert.Equal(t, SocketDomainLocal, config.SocketOptions.Domain)
	assert.JSONEq(t, `{"authToken":"token-123"}`, string(config.ConnectAmendment.Payload()))
	assert.NoError(t, config.Validate())
}

func TestGreengrassConnectionConfigRequiresEnvironment(t *testing.T) {
	t.Setenv(GreengrassSocketPathEnv, "")
	t.Setenv(GreengrassAuthTokenEnv, "token")
	_, err := NewGreengrassConnectionConfig()
	assert.ErrorContains(t, err, GreengrassSocketPathEnv)

	t.Setenv(GreengrassSocketPathEnv, "/tmp/ipc.socket")
	t.Setenv(GreengrassAuthTokenEnv, "")
	_, err = NewGreengrassConnectionConfig()
	assert.ErrorContains(t, err, GreengrassAuthTokenEnv)
}

func TestConnectionConfigCloneIsIndependent(t *testing.T) {
	config := testConfig(nil)
	config.ConnectAmendment = NewMessageAmendment([]Header{NewStringHeader("a", "1")}, nil)

	snapshot := config.clone()
	config.SetPort(1)
	config.ConnectAmendment.AddHeader(NewStringHeader("b", "2"))

	assert.Equal(t, uint16(8033), *snapshot.Port)
	assert.Len(t, snapshot.ConnectAmendment.Headers(), 1)
}

func TestParseSocketDomain(t *testing.T) {
	for input, expected := range map[string]SocketDomain{"": SocketDomainIPv4, "IPv4": SocketDomainIPv4, "ipv6": SocketDomainIPv6, "unix": SocketDomainLocal} {
		domain, err := ParseSocketDomain(input)
		require.NoError(t, err)
		assert.Equal(t, expected, domain)
	}
	_, err := ParseSocketDomain("x25")
	assert.Error(t, err)
}
