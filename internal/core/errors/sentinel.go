package errors

// 预定义哨兵错误（用于 errors.Is 比较）
var (
	ErrConfig            = New(CodeConfigError, "configuration error")
	ErrOriginalDstFailed = New(CodeOriginalDstFailed, "original destination unavailable")
	ErrConnection        = New(CodeConnectionError, "connection failed")
	ErrProtocol          = New(CodeProtocolError, "protocol error")
	ErrNetwork           = New(CodeNetworkError, "network error")
	ErrBindFailed        = New(CodeBindFailed, "bind failed")
	ErrServiceClosed     = New(CodeServiceClosed, "service closed")
	ErrNotImplemented    = New(CodeNotImplemented, "not implemented on this platform")
)
