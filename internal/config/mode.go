package config

import (
	"encoding/json"
	"os"

	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"

	"github.com/tidwall/jsonc"
)

// ClientModeConfig NdlpConfig.json 快照，其余字段忽略
type ClientModeConfig struct {
	ClientMode string `json:"ClientMode"`
}

// IsListenMode 仅 BRIDGE 模式需要监听
func (c ClientModeConfig) IsListenMode() bool {
	return c.ClientMode == constants.ClientModeBridge
}

// ParseClientModeConfig 解析 NdlpConfig.json 内容
func ParseClientModeConfig(data []byte) (ClientModeConfig, error) {
	var cfg ClientModeConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return ClientModeConfig{}, coreerrors.Wrap(err, coreerrors.CodeConfigError, "parse client mode config")
	}
	return cfg, nil
}

// LoadClientModeConfig 读取并解析 NdlpConfig.json
func LoadClientModeConfig(path string) (ClientModeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientModeConfig{}, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "read client mode config %q", path)
	}
	cfg, err := ParseClientModeConfig(data)
	if err != nil {
		return ClientModeConfig{}, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "client mode config %q", path)
	}
	return cfg, nil
}
