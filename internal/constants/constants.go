package constants

import "time"

// 监听与转发相关常量
const (
	// DefaultListenAddr 桥接模式下的透明代理监听地址
	DefaultListenAddr = "0.0.0.0:2128"

	// DefaultICAPAddr 本地内容审计服务地址
	DefaultICAPAddr = "127.0.0.1:1344"

	// DefaultICAPPort icap-remote 未配置端口时的默认值
	DefaultICAPPort = 1344

	// DefaultThreadNum icap.threadCnt 未配置时的默认 Worker 数
	DefaultThreadNum = 1

	// ClientModeBridge 唯一需要监听的客户端模式
	ClientModeBridge = "BRIDGE"
)

// 配置文件默认路径
const (
	DefaultLocalConfigFile      = "/usr/setup/NetworkDLP/config/NDLP/Local.json"
	DefaultClientModeConfigFile = "/usr/setup/NetworkDLP/config/NDLP/NdlpConfig.json"
)

// 会话相关常量
const (
	// ReadBufferSize 每次从套接字读取的最大字节数
	ReadBufferSize = 32 * 1024

	// DefaultMaxHeaders HTTP 头部字段上限，超出视为格式错误
	DefaultMaxHeaders = 16

	// ICAPMaxHeaders ICAP 响应头部字段上限
	ICAPMaxHeaders = 32

	// DefaultMaxHeaderBytes 单个 HTTP 头部块的最大字节数
	DefaultMaxHeaderBytes = 64 * 1024

	// DefaultMaxBodyBytes 单次送审的最大消息体，超出后放行
	DefaultMaxBodyBytes = 4 * 1024 * 1024

	// DefaultDialTimeout 连接源站与审计服务的超时
	DefaultDialTimeout = 10 * time.Second

	// DefaultDrainTimeout 一端关闭后等待审计结果的最长时间
	DefaultDrainTimeout = 5 * time.Second

	// ConfigChannelSize 配置广播通道容量
	ConfigChannelSize = 32

	// DefaultWatchDebounce 配置文件变更去抖间隔
	DefaultWatchDebounce = 100 * time.Millisecond
)
