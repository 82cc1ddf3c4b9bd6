package constants

// 日志级别常量
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// 日志字段名常量
const (
	LogFieldSession  = "session"
	LogFieldWorker   = "worker"
	LogFieldClient   = "client"
	LogFieldOrigin   = "origin"
	LogFieldICAP     = "icap"
	LogFieldExchange = "exchange"
	LogFieldError    = "error"
	LogFieldPath     = "path"
	LogFieldDuration = "duration"
)

// 日志格式常量
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// 日志输出常量
const (
	LogOutputStdout = "stdout"
	LogOutputStderr = "stderr"
	LogOutputFile   = "file"
)
