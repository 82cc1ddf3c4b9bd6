package icap

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Method 审计请求方法
type Method string

const (
	// ReqMod 审计客户端请求
	ReqMod Method = "REQMOD"
	// RespMod 审计源站响应
	RespMod Method = "RESPMOD"
)

// Path 服务路径
func (m Method) Path() string {
	if m == ReqMod {
		return "reqmod"
	}
	return "respmod"
}

// Request 一次送审请求
type Request struct {
	Method Method
	// Service 审计服务地址 host:port
	Service string
	// ClientIP / ServerIP 连接两端地址，可为空
	ClientIP string
	ServerIP string

	// RequestHead 原始 HTTP 请求头部块
	RequestHead []byte
	// ResponseHead 原始 HTTP 响应头部块，仅 RESPMOD
	ResponseHead []byte
	Body         []byte
}

// Marshal 编码为线上格式
//
// 封装顺序遵循 Encapsulated 头：req-hdr、res-hdr、报文体，报文体按分块编码发送。
func (r *Request) Marshal() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s icap://%s/%s ICAP/1.0\r\n", r.Method, r.Service, r.Method.Path())
	fmt.Fprintf(&buf, "Host: %s\r\n", r.Service)
	buf.WriteString("Allow: 204\r\n")
	if r.ClientIP != "" {
		fmt.Fprintf(&buf, "X-Client-IP: %s\r\n", r.ClientIP)
	}
	if r.ServerIP != "" {
		fmt.Fprintf(&buf, "X-Server-IP: %s\r\n", r.ServerIP)
	}
	fmt.Fprintf(&buf, "Encapsulated: %s\r\n\r\n", r.encapsulated())

	buf.Write(r.RequestHead)
	if r.Method == RespMod {
		buf.Write(r.ResponseHead)
	}
	if len(r.Body) > 0 {
		buf.WriteString(strconv.FormatInt(int64(len(r.Body)), 16))
		buf.WriteString("\r\n")
		buf.Write(r.Body)
		buf.WriteString("\r\n0\r\n\r\n")
	}
	return buf.Bytes()
}

func (r *Request) encapsulated() string {
	var parts []string
	offset := 0
	if len(r.RequestHead) > 0 {
		parts = append(parts, "req-hdr=0")
		offset = len(r.RequestHead)
	}
	bodyKey := "req-body"
	if r.Method == RespMod {
		if len(r.ResponseHead) > 0 {
			parts = append(parts, fmt.Sprintf("res-hdr=%d", offset))
			offset += len(r.ResponseHead)
		}
		bodyKey = "res-body"
	}
	if len(r.Body) == 0 {
		bodyKey = "null-body"
	}
	parts = append(parts, fmt.Sprintf("%s=%d", bodyKey, offset))

	return strings.Join(parts, ", ")
}
