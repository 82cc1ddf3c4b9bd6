package wire

import (
	"fmt"
	"testing"

	coreerrors "ndlp-proxy/internal/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLimits = Limits{MaxHeaders: 16, MaxBytes: 64 * 1024}

func TestParseRequestHead(t *testing.T) {
	raw := []byte("POST /upload?x=1 HTTP/1.1\r\nHost: a.example\r\nContent-Length: 5\r\nX-Pad:   v  \r\n\r\nhello")
	head, err := ParseRequestHead(raw, testLimits)
	require.NoError(t, err)

	assert.Equal(t, "POST", head.Method)
	assert.Equal(t, "/upload?x=1", head.Target)
	assert.Equal(t, "HTTP/1.1", head.Version)
	assert.Equal(t, len(raw)-5, head.Length)
	v, ok := head.Get("x-pad")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	n, err := head.ContentLength()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestParseRequestHead_BareLF(t *testing.T) {
	head, err := ParseRequestHead([]byte("GET / HTTP/1.0\nHost: x\n\n"), testLimits)
	require.NoError(t, err)
	assert.Equal(t, 24, head.Length)
}

func TestParseResponseHead(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		proto  string
		code   int
		reason string
	}{
		{"http ok", "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", "HTTP", 200, "OK"},
		{"empty reason", "HTTP/1.1 204\r\n\r\n", "HTTP", 204, ""},
		{"icap no content", "ICAP/1.0 204 No Content\r\nEncapsulated: null-body=0\r\n\r\n", "ICAP", 204, "No Content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head, err := ParseResponseHead([]byte(tt.raw), tt.proto, testLimits)
			require.NoError(t, err)
			assert.Equal(t, tt.code, head.StatusCode)
			assert.Equal(t, tt.reason, head.Reason)
			assert.Equal(t, len(tt.raw), head.Length)
		})
	}
}

func TestParse_IncompleteVersusMalformed(t *testing.T) {
	incomplete := []string{
		"",
		"GE",
		"GET ",
		"GET /index.html HTT",
		"GET / HTTP/1.1\r",
		"GET / HTTP/1.1\r\nHost: a",
		"GET / HTTP/1.1\r\nHost: a\r\n",
		"GET / HTTP/1.1\r\nHost: a\r\n\r",
	}
	for _, raw := range incomplete {
		_, err := ParseRequestHead([]byte(raw), testLimits)
		assert.ErrorIs(t, err, ErrIncomplete, "%q", raw)
	}

	malformed := []string{
		"GARBAGE\r\n\r\n",
		"GET /a b HTTP/1.1\r\n",
		"GET / FTP/1.1\r\n",
		"GET / HTTP/x.1\r\n",
		"GET / HTTP/1.1\rX",
		"GET / HTTP/1.1\r\nBad Header: x\r\n",
		"GET / HTTP/1.1\r\n: empty\r\n",
		"\x16\x03\x01\x02\x00",
	}
	for _, raw := range malformed {
		_, err := ParseRequestHead([]byte(raw), testLimits)
		require.Error(t, err, "%q", raw)
		assert.NotErrorIs(t, err, ErrIncomplete, "%q", raw)
		assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError), "%q", raw)
	}
}

func TestParse_HeaderLimit(t *testing.T) {
	build := func(n int) []byte {
		raw := "GET / HTTP/1.1\r\n"
		for i := 0; i < n; i++ {
			raw += "X-H: v\r\n"
		}
		return []byte(raw + "\r\n")
	}

	head, err := ParseRequestHead(build(16), testLimits)
	require.NoError(t, err)
	assert.Len(t, head.Headers, 16)

	_, err = ParseRequestHead(build(17), testLimits)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError))
}

func TestParse_ByteLimit(t *testing.T) {
	lim := Limits{MaxHeaders: 16, MaxBytes: 32}
	_, err := ParseRequestHead([]byte("GET /aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), lim)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeProtocolError))

	_, err = ParseRequestHead([]byte("GET /a HTTP/1.1\r\n"), lim)
	assert.ErrorIs(t, err, ErrIncomplete)
}

// feedHead 按 cuts 给出的前缀长度逐段累积解析，直到不再返回 ErrIncomplete
func feedHead(parse func([]byte) (*Head, error), raw string, cuts []int) (*Head, error) {
	var (
		head *Head
		err  error = ErrIncomplete
	)
	for _, end := range append(cuts, len(raw)) {
		head, err = parse([]byte(raw[:end]))
		if err != ErrIncomplete {
			break
		}
	}
	return head, err
}

// 任意切分方式逐段累积解析，结果与一次性解析一致
func TestParse_ChunkBoundaryIndependence(t *testing.T) {
	parseRequest := func(b []byte) (*Head, error) { return ParseRequestHead(b, testLimits) }
	parseResponse := func(b []byte) (*Head, error) { return ParseResponseHead(b, "HTTP", testLimits) }

	tests := []struct {
		name  string
		parse func([]byte) (*Head, error)
		raw   string
	}{
		{"request with body", parseRequest, "GET /a HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\n\r\nabc"},
		{"request lf only", parseRequest, "\r\nPOST /b HTTP/1.0\nX-A: 1\n\n"},
		{"request garbage", parseRequest, "GARBAGE FOLLOWS\r\n\r\n"},
		{"request bad header", parseRequest, "GET / HTTP/1.1\r\nBad Header: x\r\n\r\n"},
		{"response with body", parseResponse, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"},
		{"response no reason", parseResponse, "HTTP/1.1 204\r\nServer: s\r\n\r\n"},
		{"response bad status", parseResponse, "HTTP/1.1 2x0 OK\r\n\r\n"},
		{"response bare cr", parseResponse, "HTTP/1.1 200 OK\rX: y\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			whole, wholeErr := tt.parse([]byte(tt.raw))

			check := func(got *Head, gotErr error, how string) {
				if wholeErr != nil {
					assert.Error(t, gotErr, how)
					assert.NotErrorIs(t, gotErr, ErrIncomplete, how)
					return
				}
				require.NoError(t, gotErr, how)
				assert.Equal(t, whole.Length, got.Length, how)
				assert.Equal(t, whole.Method, got.Method, how)
				assert.Equal(t, whole.Target, got.Target, how)
				assert.Equal(t, whole.StatusCode, got.StatusCode, how)
				assert.Equal(t, whole.Headers, got.Headers, how)
			}

			for split := 1; split < len(tt.raw); split++ {
				got, gotErr := feedHead(tt.parse, tt.raw, []int{split})
				check(got, gotErr, fmt.Sprintf("split at %d", split))
			}

			bytewise := make([]int, 0, len(tt.raw))
			for end := 1; end < len(tt.raw); end++ {
				bytewise = append(bytewise, end)
			}
			got, gotErr := feedHead(tt.parse, tt.raw, bytewise)
			check(got, gotErr, "byte at a time")
		})
	}
}

func TestContentLength(t *testing.T) {
	head, err := ParseResponseHead([]byte("HTTP/1.1 200 OK\r\nContent-Length: nope\r\n\r\n"), "HTTP", testLimits)
	require.NoError(t, err)
	_, err = head.ContentLength()
	assert.Error(t, err)

	head, err = ParseResponseHead([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n"), "HTTP", testLimits)
	require.NoError(t, err)
	assert.True(t, head.Chunked())
	n, err := head.ContentLength()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}
