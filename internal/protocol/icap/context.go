// Package icap 实现内容审计服务（ICAP 变体）的请求构造与响应解析
package icap

import (
	"ndlp-proxy/internal/constants"
	"ndlp-proxy/internal/protocol/wire"
)

// 审计结论状态码
const (
	StatusOK        = 200
	StatusNoContent = 204
)

// Context 单条审计响应的解析结果
type Context struct {
	body       []byte
	code       int
	seenHeader bool
	valid      bool
	consumed   int
}

// NewContext 创建解析上下文
func NewContext() *Context {
	c := &Context{}
	c.Reset()
	return c
}

// Reset 恢复初始状态以解析下一条响应
func (c *Context) Reset() {
	c.body = nil
	c.code = StatusNoContent
	c.seenHeader = false
	c.valid = true
	c.consumed = 0
}

var limits = wire.Limits{
	MaxHeaders: constants.ICAPMaxHeaders,
	MaxBytes:   constants.DefaultMaxHeaderBytes,
}

// Parse 解析累积的审计响应缓冲区，返回完整响应占用的字节数，未完整时返回 0
//
// 声明了 Content-Length 时等待完整报文体并只取该长度；
// 否则头部之后的全部字节视为报文体。1xx 与 204 不带报文体。
func (c *Context) Parse(data []byte) int {
	head, err := wire.ParseResponseHead(data, "ICAP", limits)
	if err == wire.ErrIncomplete {
		return 0
	}
	if err != nil {
		c.valid = false
		return 0
	}

	length, err := head.ContentLength()
	if err != nil {
		c.valid = false
		return 0
	}

	rest := data[head.Length:]
	switch {
	case head.StatusCode < 200 || head.StatusCode == StatusNoContent:
		rest = nil
	case length >= 0:
		if int64(len(rest)) < length {
			return 0
		}
		rest = rest[:length]
	}

	c.seenHeader = true
	c.code = head.StatusCode
	c.body = append([]byte(nil), rest...)
	c.consumed = head.Length + len(rest)
	return c.consumed
}

// Body 审计服务返回的报文体
func (c *Context) Body() []byte {
	return c.body
}

// StatusCode 状态码，未解析时为 204
func (c *Context) StatusCode() int {
	return c.code
}

// SeenHeader 是否已解析出完整响应
func (c *Context) SeenHeader() bool {
	return c.seenHeader
}

// Valid 响应格式是否合法
func (c *Context) Valid() bool {
	return c.valid
}

// Consumed 完整响应占用的字节数
func (c *Context) Consumed() int {
	return c.consumed
}
