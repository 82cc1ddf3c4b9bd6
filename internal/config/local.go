// Package config 加载客户端本地配置、客户端模式配置与服务自身的 YAML 配置，
// 并监听配置文件变更
package config

import (
	"encoding/json"
	"net"
	"os"
	"strconv"

	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"

	"github.com/tidwall/jsonc"
)

// MirrorConfig 流量镜像设置（仅记录，不影响转发）
type MirrorConfig struct {
	Enable    bool   `json:"enable"`
	Interface string `json:"interface"`
}

// ICAPRemoteConfig 远程审计服务
type ICAPRemoteConfig struct {
	Enable bool   `json:"enable"`
	IP     string `json:"ip"`
	Port   uint16 `json:"port"`
}

// LocalConfig Local.json 快照
type LocalConfig struct {
	Mirror     MirrorConfig
	ICAPRemote ICAPRemoteConfig
	// ThreadNum Worker 数量，仅启动时生效
	ThreadNum int
}

type localFile struct {
	Mirror     *MirrorConfig `json:"mirror"`
	ICAPRemote *struct {
		Enable bool    `json:"enable"`
		IP     string  `json:"ip"`
		Port   *uint16 `json:"port"`
	} `json:"icap-remote"`
	ICAP *struct {
		ThreadCnt *int `json:"threadCnt"`
	} `json:"icap"`
}

// DefaultLocalConfig 所有字段缺失时的配置
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		ICAPRemote: ICAPRemoteConfig{Port: constants.DefaultICAPPort},
		ThreadNum:  constants.DefaultThreadNum,
	}
}

// ParseLocalConfig 解析 Local.json 内容，允许注释与尾随逗号
func ParseLocalConfig(data []byte) (LocalConfig, error) {
	var f localFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return LocalConfig{}, coreerrors.Wrap(err, coreerrors.CodeConfigError, "parse local config")
	}

	cfg := DefaultLocalConfig()
	if f.Mirror != nil {
		cfg.Mirror = *f.Mirror
	}
	if f.ICAPRemote != nil {
		cfg.ICAPRemote.Enable = f.ICAPRemote.Enable
		cfg.ICAPRemote.IP = f.ICAPRemote.IP
		if f.ICAPRemote.Port != nil {
			cfg.ICAPRemote.Port = *f.ICAPRemote.Port
		}
	}
	if f.ICAP != nil && f.ICAP.ThreadCnt != nil {
		cfg.ThreadNum = *f.ICAP.ThreadCnt
	}

	if err := cfg.Validate(); err != nil {
		return LocalConfig{}, err
	}
	return cfg, nil
}

// LoadLocalConfig 读取并解析 Local.json
func LoadLocalConfig(path string) (LocalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LocalConfig{}, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "read local config %q", path)
	}
	cfg, err := ParseLocalConfig(data)
	if err != nil {
		return LocalConfig{}, coreerrors.Wrapf(err, coreerrors.CodeConfigError, "local config %q", path)
	}
	return cfg, nil
}

// Validate 校验取值范围
func (c LocalConfig) Validate() error {
	var result ValidationResult
	if c.ThreadNum < 1 || c.ThreadNum > 1024 {
		result.AddError("icap.threadCnt", strconv.Itoa(c.ThreadNum), "must be between 1 and 1024", "")
	}
	if c.ICAPRemote.Enable {
		if net.ParseIP(c.ICAPRemote.IP) == nil {
			result.AddError("icap-remote.ip", c.ICAPRemote.IP, "not a valid IP address", "set icap-remote.enable to false to use the local service")
		}
		if c.ICAPRemote.Port == 0 {
			result.AddError("icap-remote.port", "0", "port must be non-zero", "")
		}
	}
	return result.Err()
}

// ICAPAddr 会话使用的审计服务地址，未启用远程服务时返回 fallback
func (c LocalConfig) ICAPAddr(fallback string) string {
	if !c.ICAPRemote.Enable {
		return fallback
	}
	return net.JoinHostPort(c.ICAPRemote.IP, strconv.Itoa(int(c.ICAPRemote.Port)))
}
