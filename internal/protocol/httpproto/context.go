// Package httpproto 维护单个连接上两个方向的 HTTP 解析状态
//
// 一旦任一方向出现无法解析的输入，连接进入直通模式且不可恢复。
package httpproto

import (
	"ndlp-proxy/internal/constants"
	coreerrors "ndlp-proxy/internal/core/errors"
	"ndlp-proxy/internal/protocol/wire"
)

// Direction 报文方向
type Direction int

const (
	// Request 客户端 -> 源站
	Request Direction = iota
	// Response 源站 -> 客户端
	Response
)

func (d Direction) String() string {
	if d == Request {
		return "request"
	}
	return "response"
}

// Mode 连接解析模式
type Mode int

const (
	// ModeAdapting 正常解析并送审
	ModeAdapting Mode = iota
	// ModePassthrough 解析失败后的直通模式，不可逆
	ModePassthrough
)

func (m Mode) String() string {
	if m == ModeAdapting {
		return "adapting"
	}
	return "passthrough"
}

// 直通原因
const (
	ReasonMalformedRequest  = "malformed_request"
	ReasonMalformedResponse = "malformed_response"
	ReasonMalformedICAP     = "malformed_icap"
	ReasonBodyTooLarge      = "body_too_large"
)

type message struct {
	seenHeader bool
	method     string
	statusCode int
	bytesSeen  uint64
	head       []byte
	bodyLength int64

	// 待解析缓冲区开头已计入 bytesSeen 的字节数
	counted int
}

// Context 连接级 HTTP 解析上下文
type Context struct {
	mode   Mode
	reason string
	limits wire.Limits
	msgs   [2]message
}

// NewContext 创建解析上下文，limits 为零值时使用默认限制
func NewContext(limits wire.Limits) *Context {
	if limits.MaxHeaders <= 0 {
		limits.MaxHeaders = constants.DefaultMaxHeaders
	}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = constants.DefaultMaxHeaderBytes
	}
	c := &Context{limits: limits}
	c.msgs[Request].bodyLength = -1
	c.msgs[Response].bodyLength = -1
	return c
}

// Valid 是否仍处于正常解析模式
func (c *Context) Valid() bool {
	return c.mode == ModeAdapting
}

// Mode 当前模式
func (c *Context) Mode() Mode {
	return c.mode
}

// Fallback 切换到直通模式，仅首次调用生效
func (c *Context) Fallback(reason string) {
	if c.mode == ModePassthrough {
		return
	}
	c.mode = ModePassthrough
	c.reason = reason
}

// FallbackReason 进入直通模式的原因
func (c *Context) FallbackReason() string {
	return c.reason
}

// ParseRequestHeader 解析累积的请求头部
//
// 头部完整时返回头部块长度，未完整或已进入直通模式返回 0。
// 格式错误会切换到直通模式。
func (c *Context) ParseRequestHeader(data []byte) int {
	return c.Parse(Request, data)
}

// ParseResponseHeader 解析累积的响应头部
func (c *Context) ParseResponseHeader(data []byte) int {
	return c.Parse(Response, data)
}

// Parse 按方向解析头部
func (c *Context) Parse(dir Direction, data []byte) int {
	if !c.Valid() {
		return 0
	}

	var (
		head *wire.Head
		err  error
	)
	if dir == Request {
		head, err = wire.ParseRequestHead(data, c.limits)
	} else {
		head, err = wire.ParseResponseHead(data, "HTTP", c.limits)
	}
	if err == wire.ErrIncomplete {
		return 0
	}
	if err != nil {
		c.Fallback(malformedReason(dir))
		return 0
	}

	length, err := c.bodyLength(dir, head)
	if err != nil {
		c.Fallback(malformedReason(dir))
		return 0
	}

	m := &c.msgs[dir]
	m.seenHeader = true
	m.head = append([]byte(nil), data[:head.Length]...)
	m.bodyLength = length
	if fresh := len(data) - m.counted; fresh > 0 {
		m.bytesSeen += uint64(fresh)
	}
	m.counted = 0
	if dir == Request {
		m.method = head.Method
	} else {
		m.statusCode = head.StatusCode
	}
	return head.Length
}

// bodyLength 报文体长度，-1 表示长度未知（流式）
func (c *Context) bodyLength(dir Direction, head *wire.Head) (int64, error) {
	if dir == Response {
		code := head.StatusCode
		if (code >= 100 && code < 200) || code == 204 || code == 304 || c.msgs[Request].method == "HEAD" {
			return 0, nil
		}
	}
	if head.Chunked() {
		return -1, nil
	}
	n, err := head.ContentLength()
	if err != nil {
		return 0, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "body length")
	}
	if n < 0 && dir == Request {
		return 0, nil
	}
	return n, nil
}

func malformedReason(dir Direction) string {
	if dir == Request {
		return ReasonMalformedRequest
	}
	return ReasonMalformedResponse
}

// SeenHeader 该方向头部是否已解析完成
func (c *Context) SeenHeader(dir Direction) bool {
	return c.msgs[dir].seenHeader
}

// AddBytes 头部之后的报文体字节计入统计
func (c *Context) AddBytes(dir Direction, n int) {
	c.msgs[dir].bytesSeen += uint64(n)
}

// BytesSeen 该方向累计字节数
func (c *Context) BytesSeen(dir Direction) uint64 {
	return c.msgs[dir].bytesSeen
}

// Method 请求方法
func (c *Context) Method() string {
	return c.msgs[Request].method
}

// StatusCode 响应状态码
func (c *Context) StatusCode() int {
	return c.msgs[Response].statusCode
}

// Head 该方向最近解析的原始头部块
func (c *Context) Head(dir Direction) []byte {
	return c.msgs[dir].head
}

// BodyLength 该方向报文体长度，-1 表示未知
func (c *Context) BodyLength(dir Direction) int64 {
	return c.msgs[dir].bodyLength
}

// NextMessage 清除该方向的头部状态以解析同一连接上的下一个报文，累计字节数保留
//
// carried 为上一报文遗留且已计数的字节数，它们将作为下一个头部缓冲区的开头。
func (c *Context) NextMessage(dir Direction, carried int) {
	m := &c.msgs[dir]
	m.seenHeader = false
	m.head = nil
	m.bodyLength = -1
	m.counted = carried
}
