// Package wire 实现 HTTP/ICAP 起始行与头部块的增量识别
//
// 解析器不保存状态：调用方每次传入完整的累积缓冲区。
// 数据不足时返回 ErrIncomplete；一旦可见的字节已构成语法错误，
// 立即返回 PROTOCOL_ERROR，不等待头部结束，避免非 HTTP 流被无限缓存。
package wire

import (
	"errors"
	"strconv"
	"strings"

	coreerrors "ndlp-proxy/internal/core/errors"
)

// ErrIncomplete 数据不足，需要继续累积
var ErrIncomplete = errors.New("wire: incomplete message head")

// Limits 头部解析限制
type Limits struct {
	// MaxHeaders 头部字段数上限
	MaxHeaders int
	// MaxBytes 头部块字节数上限，0 表示不限制
	MaxBytes int
}

// Header 单个头部字段
type Header struct {
	Name  string
	Value string
}

// Head 解析出的起始行与头部
type Head struct {
	// 请求
	Method string
	Target string

	// 响应
	StatusCode int
	Reason     string

	Version string
	Headers []Header

	// Length 头部块长度（含结尾空行）
	Length int
}

// Get 按名称（不区分大小写）取第一个头部值
func (h *Head) Get(name string) (string, bool) {
	for _, hdr := range h.Headers {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// ContentLength 返回 Content-Length，未声明时返回 -1
func (h *Head) ContentLength() (int64, error) {
	v, ok := h.Get("Content-Length")
	if !ok {
		return -1, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1, coreerrors.Newf(coreerrors.CodeProtocolError, "invalid Content-Length %q", v)
	}
	return n, nil
}

// Chunked 是否声明了分块传输编码
func (h *Head) Chunked() bool {
	v, ok := h.Get("Transfer-Encoding")
	return ok && strings.Contains(strings.ToLower(v), "chunked")
}

// ParseRequestHead 解析 HTTP 请求行与头部
func ParseRequestHead(data []byte, lim Limits) (*Head, error) {
	s := &scanner{data: data, lim: lim}
	head := &Head{}

	// 允许请求前出现空行
	for s.pos < len(s.data) && (s.data[s.pos] == '\r' || s.data[s.pos] == '\n') {
		s.pos++
	}

	method, err := s.token(' ', "method")
	if err != nil {
		return nil, s.finish(err)
	}
	head.Method = method

	target, err := s.target()
	if err != nil {
		return nil, s.finish(err)
	}
	head.Target = target

	version, err := s.version("HTTP")
	if err != nil {
		return nil, s.finish(err)
	}
	head.Version = version

	if err := s.eol(); err != nil {
		return nil, s.finish(err)
	}
	if err := s.headers(head); err != nil {
		return nil, s.finish(err)
	}
	return s.complete(head)
}

// ParseResponseHead 解析状态行与头部，proto 为 "HTTP" 或 "ICAP"
func ParseResponseHead(data []byte, proto string, lim Limits) (*Head, error) {
	s := &scanner{data: data, lim: lim}
	head := &Head{}

	version, err := s.version(proto)
	if err != nil {
		return nil, s.finish(err)
	}
	head.Version = version

	if err := s.expect(' ', "status line"); err != nil {
		return nil, s.finish(err)
	}
	code, err := s.status()
	if err != nil {
		return nil, s.finish(err)
	}
	head.StatusCode = code

	reason, err := s.reason()
	if err != nil {
		return nil, s.finish(err)
	}
	head.Reason = reason

	if err := s.headers(head); err != nil {
		return nil, s.finish(err)
	}
	return s.complete(head)
}
