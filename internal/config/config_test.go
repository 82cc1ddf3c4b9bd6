package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseLocalConfig(t *testing.T) {
	cfg, err := ParseLocalConfig([]byte(`{
		// 注释与尾随逗号
		"mirror": {"enable": true, "interface": "eth1"},
		"icap-remote": {"enable": true, "ip": "10.1.2.3", "port": 11344},
		"icap": {"threadCnt": 4},
	}`))
	require.NoError(t, err)

	assert.True(t, cfg.Mirror.Enable)
	assert.Equal(t, "eth1", cfg.Mirror.Interface)
	assert.True(t, cfg.ICAPRemote.Enable)
	assert.Equal(t, uint16(11344), cfg.ICAPRemote.Port)
	assert.Equal(t, 4, cfg.ThreadNum)
	assert.Equal(t, "10.1.2.3:11344", cfg.ICAPAddr(constants.DefaultICAPAddr))
}

func TestParseLocalConfig_Defaults(t *testing.T) {
	cfg, err := ParseLocalConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultLocalConfig(), cfg)
	assert.Equal(t, constants.DefaultThreadNum, cfg.ThreadNum)
	assert.Equal(t, uint16(constants.DefaultICAPPort), cfg.ICAPRemote.Port)
	assert.Equal(t, constants.DefaultICAPAddr, cfg.ICAPAddr(constants.DefaultICAPAddr))
}

func TestParseLocalConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `mirror = true`},
		{"wrong type", `{"icap": {"threadCnt": "four"}}`},
		{"zero threads", `{"icap": {"threadCnt": 0}}`},
		{"remote without ip", `{"icap-remote": {"enable": true}}`},
		{"remote port zero", `{"icap-remote": {"enable": true, "ip": "10.0.0.1", "port": 0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLocalConfig([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
		})
	}
}

func TestLoadLocalConfig_Missing(t *testing.T) {
	_, err := LoadLocalConfig(filepath.Join(t.TempDir(), "Local.json"))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
}

func TestClientModeConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "NdlpConfig.json", `{"ClientMode": "BRIDGE", "Other": [1, 2]}`)

	cfg, err := LoadClientModeConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsListenMode())

	cfg, err = ParseClientModeConfig([]byte(`{"ClientMode": "GATEWAY"}`))
	require.NoError(t, err)
	assert.False(t, cfg.IsListenMode())

	cfg, err = ParseClientModeConfig([]byte(`{}`))
	require.NoError(t, err)
	assert.False(t, cfg.IsListenMode())

	_, err = ParseClientModeConfig([]byte(`{"ClientMode": 3}`))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
}

func TestLoadServiceConfig(t *testing.T) {
	cfg, err := LoadServiceConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceConfig(), cfg)

	path := writeFile(t, t.TempDir(), "ndlp-proxy.yaml", `
log:
  level: debug
  format: json
proxy:
  listen_addr: "127.0.0.1:3128"
  max_headers: 32
  drain_timeout: 2s
  reparse_headers: true
metrics:
  enabled: true
  listen_addr: ":9100"
`)
	cfg, err = LoadServiceConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:3128", cfg.Proxy.ListenAddr)
	assert.Equal(t, 32, cfg.Proxy.MaxHeaders)
	assert.Equal(t, 2*time.Second, cfg.Proxy.DrainTimeout)
	assert.True(t, cfg.Proxy.ReparseHeaders)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path, "unset fields keep defaults")
	assert.Equal(t, constants.DefaultICAPAddr, cfg.Proxy.ICAPAddr)
}

func TestServiceConfig_Validate(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Log.Level = "verbose"
	cfg.Proxy.ListenAddr = "2128"
	cfg.Proxy.MaxHeaders = 0
	cfg.Proxy.AcceptRate = 10

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
	for _, field := range []string{"log.level", "proxy.listen_addr", "proxy.max_headers", "proxy.accept_burst"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoadServiceConfig_BadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "proxy: [unterminated")
	_, err := LoadServiceConfig(path)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
}

func TestLogConfig_ToLogConfig(t *testing.T) {
	lc := LogConfig{Level: "warn", Format: "json", Output: "file", File: "/tmp/x.log"}.ToLogConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "/tmp/x.log", lc.File)
}
