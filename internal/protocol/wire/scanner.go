package wire

import (
	"bytes"
	"fmt"

	coreerrors "ndlp-proxy/internal/core/errors"
)

type scanner struct {
	data []byte
	pos  int
	lim  Limits
}

func malformed(format string, args ...interface{}) error {
	return coreerrors.New(coreerrors.CodeProtocolError, fmt.Sprintf(format, args...))
}

// finish 数据不足且已超出字节上限时转为格式错误
func (s *scanner) finish(err error) error {
	if err == ErrIncomplete && s.lim.MaxBytes > 0 && len(s.data) >= s.lim.MaxBytes {
		return malformed("message head exceeds %d bytes", s.lim.MaxBytes)
	}
	return err
}

func (s *scanner) complete(head *Head) (*Head, error) {
	head.Length = s.pos
	if s.lim.MaxBytes > 0 && head.Length > s.lim.MaxBytes {
		return nil, malformed("message head exceeds %d bytes", s.lim.MaxBytes)
	}
	return head, nil
}

// isTchar RFC 7230 token 字符
func isTchar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return bytes.IndexByte([]byte("!#$%&'*+-.^_`|~"), c) >= 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// isFieldChar 字段值与原因短语允许的字符（VCHAR、obs-text、SP、HTAB）
func isFieldChar(c byte) bool {
	return c == '\t' || (c >= 0x20 && c != 0x7f)
}

// token 读取非空 token，直到分隔符
func (s *scanner) token(delim byte, what string) (string, error) {
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == delim {
			if s.pos == start {
				return "", malformed("empty %s", what)
			}
			tok := string(s.data[start:s.pos])
			s.pos++
			return tok, nil
		}
		if !isTchar(c) {
			return "", malformed("invalid byte 0x%02x in %s", c, what)
		}
		s.pos++
	}
	return "", ErrIncomplete
}

func (s *scanner) target() (string, error) {
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == ' ' {
			if s.pos == start {
				return "", malformed("empty request target")
			}
			t := string(s.data[start:s.pos])
			s.pos++
			return t, nil
		}
		if c < 0x21 || c == 0x7f {
			return "", malformed("invalid byte 0x%02x in request target", c)
		}
		s.pos++
	}
	return "", ErrIncomplete
}

func (s *scanner) expect(c byte, what string) error {
	if s.pos >= len(s.data) {
		return ErrIncomplete
	}
	if s.data[s.pos] != c {
		return malformed("unexpected byte 0x%02x in %s", s.data[s.pos], what)
	}
	s.pos++
	return nil
}

// version 匹配 PROTO/d.d
func (s *scanner) version(proto string) (string, error) {
	start := s.pos
	prefix := proto + "/"
	for i := 0; i < len(prefix); i++ {
		if err := s.expect(prefix[i], "version"); err != nil {
			return "", err
		}
	}
	for i, want := range []byte{0, '.', 0} {
		if s.pos >= len(s.data) {
			return "", ErrIncomplete
		}
		c := s.data[s.pos]
		if (want == 0 && !isDigit(c)) || (want != 0 && c != want) {
			return "", malformed("invalid version byte 0x%02x at %d", c, i)
		}
		s.pos++
	}
	return string(s.data[start:s.pos]), nil
}

func (s *scanner) status() (int, error) {
	code := 0
	for i := 0; i < 3; i++ {
		if s.pos >= len(s.data) {
			return 0, ErrIncomplete
		}
		c := s.data[s.pos]
		if !isDigit(c) {
			return 0, malformed("invalid status code byte 0x%02x", c)
		}
		code = code*10 + int(c-'0')
		s.pos++
	}
	return code, nil
}

// reason 读取状态行余下部分（可为空）并消费行尾
func (s *scanner) reason() (string, error) {
	if s.pos >= len(s.data) {
		return "", ErrIncomplete
	}
	if c := s.data[s.pos]; c == '\r' || c == '\n' {
		return "", s.eol()
	}
	if err := s.expect(' ', "status line"); err != nil {
		return "", err
	}
	start := s.pos
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == '\r' || c == '\n' {
			reason := string(s.data[start:s.pos])
			return reason, s.eol()
		}
		if !isFieldChar(c) {
			return "", malformed("invalid byte 0x%02x in reason phrase", c)
		}
		s.pos++
	}
	return "", ErrIncomplete
}

// eol 消费 CRLF 或单独的 LF
func (s *scanner) eol() error {
	if s.pos >= len(s.data) {
		return ErrIncomplete
	}
	switch s.data[s.pos] {
	case '\n':
		s.pos++
		return nil
	case '\r':
		if s.pos+1 >= len(s.data) {
			return ErrIncomplete
		}
		if s.data[s.pos+1] != '\n' {
			return malformed("bare CR in line ending")
		}
		s.pos += 2
		return nil
	}
	return malformed("expected line ending, got 0x%02x", s.data[s.pos])
}

// headers 读取头部字段直到空行
func (s *scanner) headers(head *Head) error {
	for {
		if s.pos >= len(s.data) {
			return ErrIncomplete
		}
		if c := s.data[s.pos]; c == '\r' || c == '\n' {
			return s.eol()
		}

		name, err := s.token(':', "header name")
		if err != nil {
			return err
		}

		for s.pos < len(s.data) && (s.data[s.pos] == ' ' || s.data[s.pos] == '\t') {
			s.pos++
		}
		start := s.pos
		for {
			if s.pos >= len(s.data) {
				return ErrIncomplete
			}
			c := s.data[s.pos]
			if c == '\r' || c == '\n' {
				break
			}
			if !isFieldChar(c) {
				return malformed("invalid byte 0x%02x in header %q", c, name)
			}
			s.pos++
		}
		value := string(bytes.TrimRight(s.data[start:s.pos], " \t"))
		if err := s.eol(); err != nil {
			return err
		}

		if s.lim.MaxHeaders > 0 && len(head.Headers) >= s.lim.MaxHeaders {
			return malformed("too many headers (limit %d)", s.lim.MaxHeaders)
		}
		head.Headers = append(head.Headers, Header{Name: name, Value: value})
	}
}
