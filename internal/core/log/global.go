package log

// Errorf 通过默认日志记录错误，供尚未持有 Logger 的底层包使用
func Errorf(format string, args ...interface{}) {
	Default().Errorf(format, args...)
}

// WithField 基于默认日志派生带字段的 Logger，调用方未注入日志时使用
func WithField(key string, value interface{}) Logger {
	return Default().WithField(key, value)
}
