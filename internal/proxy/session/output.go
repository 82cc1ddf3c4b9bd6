package session

// segment 输出队列中的一段数据，待审计结论的段在结论到达前为未就绪
type segment struct {
	data  []byte
	ready bool
}

func (s *segment) fill(data []byte) {
	s.data = append([]byte(nil), data...)
	s.ready = true
}

// outQueue 单个方向的有序输出队列
//
// 只有队首连续的就绪段可以发出，保证后到的字节不会越过未决的报文体。
type outQueue struct {
	segs []*segment
}

// push 追加已就绪数据
func (q *outQueue) push(data []byte) {
	if len(data) == 0 {
		return
	}
	if n := len(q.segs); n > 0 && q.segs[n-1].ready {
		q.segs[n-1].data = append(q.segs[n-1].data, data...)
		return
	}
	q.segs = append(q.segs, &segment{data: append([]byte(nil), data...), ready: true})
}

// hold 追加一个占位段
func (q *outQueue) hold() *segment {
	seg := &segment{}
	q.segs = append(q.segs, seg)
	return seg
}

// drain 取出队首所有就绪数据
func (q *outQueue) drain() []byte {
	var out []byte
	i := 0
	for ; i < len(q.segs) && q.segs[i].ready; i++ {
		out = append(out, q.segs[i].data...)
		q.segs[i] = nil
	}
	q.segs = q.segs[i:]
	return out
}

