// Package session 实现单个被拦截连接的转发状态机
//
// 每个会话持有三条连接：客户端、源站和内容审计服务。头部解析完成后立即转发，
// 报文体按方向缓存并提交审计，审计结论决定转发原始报文体（204）还是替换内容（200）。
// 任何无法解析的输入都会让连接永久进入直通模式。
package session

import (
	"strconv"
	"time"

	"ndlp-proxy/internal/constants"
	corelog "ndlp-proxy/internal/core/log"
	"ndlp-proxy/internal/core/metrics"
	"ndlp-proxy/internal/protocol/httpproto"
	"ndlp-proxy/internal/protocol/icap"
	"ndlp-proxy/internal/protocol/wire"
)

// Options 会话参数
type Options struct {
	// ICAPService 审计请求行中的服务地址
	ICAPService string
	// ClientIP / ServerIP 透传给审计服务的连接端点
	ClientIP string
	ServerIP string

	Limits         wire.Limits
	MaxBodyBytes   int
	ReparseHeaders bool
	DrainTimeout   time.Duration
}

func (o *Options) applyDefaults() {
	if o.ICAPService == "" {
		o.ICAPService = constants.DefaultICAPAddr
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}
}

// exchange 一次送审
type exchange struct {
	id       uint64
	dir      httpproto.Direction
	reqHead  []byte
	respHead []byte
	body     []byte
	slot     *segment
	sentAt   time.Time
}

// Output 一次事件处理后各连接待写出的数据
type Output struct {
	ToOrigin     []byte
	ToClient     []byte
	ToAdaptation []byte
}

// Session 连接状态机，非并发安全，由 Run 所在的 goroutine 独占
type Session struct {
	id      string
	opts    Options
	logger  corelog.Logger
	metrics metrics.Metrics

	proto *httpproto.Context
	icap  *icap.Context

	head         [2][]byte
	body         [2][]byte
	remaining    [2]int64
	pendingFlush [2]bool
	out          [2]outQueue

	icapBuf  []byte
	icapOut  []byte
	queue    []*exchange
	inFlight bool
	nextID   uint64
}

// New 创建会话
func New(id string, opts Options, logger corelog.Logger, m metrics.Metrics) *Session {
	opts.applyDefaults()
	if logger == nil {
		logger = corelog.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewMemoryMetrics()
	}
	return &Session{
		id:        id,
		opts:      opts,
		logger:    logger,
		metrics:   m,
		proto:     httpproto.NewContext(opts.Limits),
		icap:      icap.NewContext(),
		remaining: [2]int64{-1, -1},
	}
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// Protocol 连接的 HTTP 解析上下文
func (s *Session) Protocol() *httpproto.Context {
	return s.proto
}

// Pending 是否有尚未得到结论的送审
func (s *Session) Pending() bool {
	return len(s.queue) > 0
}

// HandleClient 处理客户端发来的数据
func (s *Session) HandleClient(chunk []byte) {
	s.handle(httpproto.Request, chunk)
}

// HandleOrigin 处理源站发来的数据
func (s *Session) HandleOrigin(chunk []byte) {
	s.handle(httpproto.Response, chunk)
}

func (s *Session) handle(dir httpproto.Direction, chunk []byte) {
	if !s.proto.Valid() {
		s.out[dir].push(chunk)
		return
	}
	if s.proto.SeenHeader(dir) {
		s.proto.AddBytes(dir, len(chunk))
		s.body[dir] = append(s.body[dir], chunk...)
		s.cutBodies(dir)
		return
	}
	s.head[dir] = append(s.head[dir], chunk...)
	s.parseHead(dir)
}

func (s *Session) parseHead(dir httpproto.Direction) {
	n := s.proto.Parse(dir, s.head[dir])
	if !s.proto.Valid() {
		s.fallback(s.proto.FallbackReason())
		return
	}
	if n == 0 {
		return
	}

	s.body[dir] = append(s.body[dir], s.head[dir][n:]...)
	s.head[dir] = s.head[dir][:n:n]
	s.remaining[dir] = s.proto.BodyLength(dir)
	s.pendingFlush[dir] = true

	s.logger.WithField("direction", dir.String()).Debugf("header parsed, %d bytes, body length %d", n, s.remaining[dir])
	s.cutBodies(dir)
}

// ServicePending 转发本轮已解析完成但尚未写出的头部，返回是否有数据入队
func (s *Session) ServicePending() bool {
	flushed := false
	for dir := range s.pendingFlush {
		if !s.pendingFlush[dir] {
			continue
		}
		s.out[dir].push(s.head[dir])
		s.head[dir] = nil
		s.pendingFlush[dir] = false
		flushed = true
	}
	return flushed
}

// cutBodies 从报文体缓存中切出完整的报文体提交审计
func (s *Session) cutBodies(dir httpproto.Direction) {
	// 头部必须先于其报文体的占位段入队
	s.ServicePending()

	for s.proto.Valid() {
		want := s.remaining[dir]
		body := s.body[dir]

		if want < 0 {
			if len(body) > 0 {
				s.submit(dir, body)
				s.body[dir] = nil
			}
			return
		}
		if want > int64(s.opts.MaxBodyBytes) {
			s.fallback(httpproto.ReasonBodyTooLarge)
			return
		}
		if int64(len(body)) < want {
			return
		}

		s.submit(dir, body[:want])
		rest := append([]byte(nil), body[want:]...)
		s.body[dir] = nil

		if !s.opts.ReparseHeaders {
			// 每个方向只识别一次头部，其后的字节按长度未知的报文体处理
			s.remaining[dir] = -1
			s.body[dir] = rest
			continue
		}

		s.proto.NextMessage(dir, len(rest))
		s.remaining[dir] = -1
		if len(rest) > 0 {
			s.head[dir] = rest
			s.parseHead(dir)
		}
		return
	}
}

func (s *Session) submit(dir httpproto.Direction, body []byte) {
	s.nextID++
	ex := &exchange{
		id:       s.nextID,
		dir:      dir,
		reqHead:  s.proto.Head(httpproto.Request),
		respHead: s.proto.Head(httpproto.Response),
		body:     append([]byte(nil), body...),
		slot:     s.out[dir].hold(),
	}
	s.queue = append(s.queue, ex)
	s.dispatchNext()
}

// dispatchNext 同一时间只有一个送审在途
func (s *Session) dispatchNext() {
	if s.inFlight || len(s.queue) == 0 {
		return
	}
	ex := s.queue[0]

	method := icap.ReqMod
	if ex.dir == httpproto.Response {
		method = icap.RespMod
	}
	req := &icap.Request{
		Method:       method,
		Service:      s.opts.ICAPService,
		ClientIP:     s.opts.ClientIP,
		ServerIP:     s.opts.ServerIP,
		RequestHead:  ex.reqHead,
		ResponseHead: ex.respHead,
		Body:         ex.body,
	}
	s.icapOut = append(s.icapOut, req.Marshal()...)
	s.inFlight = true
	ex.sentAt = time.Now()

	s.logger.WithField(constants.LogFieldExchange, ex.id).Debugf("%s submitted, %d body bytes", method, len(ex.body))
}

// HandleAdaptation 处理审计服务返回的数据
func (s *Session) HandleAdaptation(chunk []byte) {
	if !s.proto.Valid() {
		return
	}
	s.icapBuf = append(s.icapBuf, chunk...)
	if len(s.icapBuf) > s.opts.MaxBodyBytes+constants.DefaultMaxHeaderBytes {
		s.fallback(httpproto.ReasonMalformedICAP)
		return
	}

	for len(s.icapBuf) > 0 {
		s.icap.Reset()
		n := s.icap.Parse(s.icapBuf)
		if !s.icap.Valid() {
			s.fallback(httpproto.ReasonMalformedICAP)
			return
		}
		if n == 0 {
			return
		}
		code, body := s.icap.StatusCode(), s.icap.Body()
		s.icapBuf = append([]byte(nil), s.icapBuf[n:]...)
		s.icap.Reset()
		s.verdict(code, body)
	}
}

func (s *Session) verdict(code int, body []byte) {
	if !s.inFlight || len(s.queue) == 0 {
		s.logger.Warnf("unsolicited adaptation response %d dropped", code)
		return
	}
	ex := s.queue[0]

	switch {
	case code == icap.StatusNoContent:
		s.complete(ex, code, ex.body)
	case code == icap.StatusOK:
		s.complete(ex, code, body)
	case code >= 400:
		// 审计服务自身出错，放行原始报文体
		s.logger.WithField(constants.LogFieldExchange, ex.id).Warnf("adaptation service error %d, forwarding original body", code)
		s.complete(ex, code, ex.body)
	default:
		// 中间状态，继续等待
	}
}

func (s *Session) complete(ex *exchange, code int, data []byte) {
	ex.slot.fill(data)
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.inFlight = false

	labels := map[string]string{"direction": ex.dir.String(), "code": strconv.Itoa(code)}
	_ = s.metrics.IncrementCounter(metrics.AdaptationVerdicts, labels)
	_ = s.metrics.ObserveHistogram(metrics.AdaptationLatency, time.Since(ex.sentAt).Seconds(),
		map[string]string{"direction": ex.dir.String()})

	s.dispatchNext()
}

// fallback 切换到直通模式并放行所有缓存数据
//
// 在途与排队中的送审全部以原始报文体放行，之后到达的审计数据被丢弃。
func (s *Session) fallback(reason string) {
	s.proto.Fallback(reason)
	s.logger.WithField("reason", reason).Warn("connection switched to passthrough")
	_ = s.metrics.IncrementCounter(metrics.PassthroughFallback, map[string]string{"reason": reason})

	for _, ex := range s.queue {
		ex.slot.fill(ex.body)
	}
	s.queue = nil
	s.inFlight = false
	s.icapBuf = nil
	s.icapOut = nil

	for dir := range s.head {
		s.out[dir].push(s.head[dir])
		s.out[dir].push(s.body[dir])
		s.head[dir] = nil
		s.body[dir] = nil
		s.pendingFlush[dir] = false
	}
}

// TakeOutput 取出待写出的数据
func (s *Session) TakeOutput() Output {
	out := Output{
		ToOrigin:     s.out[httpproto.Request].drain(),
		ToClient:     s.out[httpproto.Response].drain(),
		ToAdaptation: s.icapOut,
	}
	s.icapOut = nil
	return out
}
