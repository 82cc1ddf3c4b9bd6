package icap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Defaults(t *testing.T) {
	c := NewContext()
	assert.Equal(t, StatusNoContent, c.StatusCode())
	assert.True(t, c.Valid())
	assert.False(t, c.SeenHeader())
	assert.Empty(t, c.Body())
}

func TestParse_NoContent(t *testing.T) {
	c := NewContext()
	raw := "ICAP/1.0 204 No Content\r\nEncapsulated: null-body=0\r\n\r\n"
	n := c.Parse([]byte(raw))
	assert.Equal(t, len(raw), n)
	assert.True(t, c.SeenHeader())
	assert.Equal(t, StatusNoContent, c.StatusCode())
	assert.Empty(t, c.Body())
}

func TestParse_ContentLength(t *testing.T) {
	c := NewContext()
	head := "ICAP/1.0 200 OK\r\nContent-Length: 8\r\n\r\n"

	// 报文体不足时等待
	assert.Equal(t, 0, c.Parse([]byte(head+"REDA")))
	assert.False(t, c.SeenHeader())
	assert.True(t, c.Valid())

	n := c.Parse([]byte(head + "REDACTEDICAP/1.0 204"))
	assert.Equal(t, len(head)+8, n)
	assert.Equal(t, 200, c.StatusCode())
	assert.Equal(t, []byte("REDACTED"), c.Body())
	assert.Equal(t, n, c.Consumed())
}

func TestParse_WithoutLengthTakesRemainder(t *testing.T) {
	c := NewContext()
	raw := "ICAP/1.0 200 OK\r\n\r\nreplacement body"
	assert.Equal(t, len(raw), c.Parse([]byte(raw)))
	assert.Equal(t, []byte("replacement body"), c.Body())
}

func TestParse_InterimHasNoBody(t *testing.T) {
	c := NewContext()
	interim := "ICAP/1.0 100 Continue\r\n\r\n"
	n := c.Parse([]byte(interim + "ICAP/1.0 204 No Content\r\n\r\n"))
	assert.Equal(t, len(interim), n)
	assert.Equal(t, 100, c.StatusCode())
	assert.Empty(t, c.Body())
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{
		"HTTP/1.1 200 OK\r\n\r\n",
		"ICAP/1.0 2x4\r\n\r\n",
		"ICAP/1.0 200 OK\r\nContent-Length: abc\r\n\r\n",
	} {
		c := NewContext()
		assert.Equal(t, 0, c.Parse([]byte(raw)), raw)
		assert.False(t, c.Valid(), raw)
	}
}

func TestReset(t *testing.T) {
	c := NewContext()
	c.Parse([]byte("ICAP/1.0 200 OK\r\n\r\nabc"))
	require.True(t, c.SeenHeader())

	c.Reset()
	assert.Equal(t, StatusNoContent, c.StatusCode())
	assert.False(t, c.SeenHeader())
	assert.True(t, c.Valid())
	assert.Nil(t, c.Body())
	assert.Equal(t, 0, c.Consumed())
}

func TestRequest_Marshal(t *testing.T) {
	reqHead := "POST /upload HTTP/1.1\r\nContent-Length: 5\r\n\r\n"
	r := &Request{
		Method:      ReqMod,
		Service:     "127.0.0.1:1344",
		ClientIP:    "10.0.0.2",
		RequestHead: []byte(reqHead),
		Body:        []byte("hello"),
	}
	out := string(r.Marshal())

	assert.True(t, strings.HasPrefix(out, "REQMOD icap://127.0.0.1:1344/reqmod ICAP/1.0\r\n"))
	assert.Contains(t, out, "Host: 127.0.0.1:1344\r\n")
	assert.Contains(t, out, "Allow: 204\r\n")
	assert.Contains(t, out, "X-Client-IP: 10.0.0.2\r\n")
	assert.NotContains(t, out, "X-Server-IP")
	assert.Contains(t, out, "Encapsulated: req-hdr=0, req-body=44\r\n\r\n")
	assert.True(t, strings.HasSuffix(out, reqHead+"5\r\nhello\r\n0\r\n\r\n"))
}

func TestRequest_MarshalRespModNullBody(t *testing.T) {
	reqHead := "GET / HTTP/1.1\r\n\r\n"
	respHead := "HTTP/1.1 204 No Content\r\n\r\n"
	r := &Request{
		Method:       RespMod,
		Service:      "icap.local:1344",
		RequestHead:  []byte(reqHead),
		ResponseHead: []byte(respHead),
	}
	out := string(r.Marshal())

	assert.True(t, strings.HasPrefix(out, "RESPMOD icap://icap.local:1344/respmod ICAP/1.0\r\n"))
	assert.Contains(t, out, "Encapsulated: req-hdr=0, res-hdr=18, null-body=45\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"+reqHead+respHead))
}
