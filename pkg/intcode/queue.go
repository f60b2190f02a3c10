package intcode

// queue is a FIFO of words. Values are appended at the back and consumed
// from the front; the consumed prefix is reclaimed once it dominates.
type queue struct {
	buf  []int64
	head int
}

func newQueue(values []int64) queue {
	q := queue{buf: make([]int64, 0, len(values))}
	q.buf = append(q.buf, values...)
	return q
}

func (q *queue) push(values ...int64) {
	q.buf = append(q.buf, values...)
}

func (q *queue) pop() (int64, bool) {
	if q.head >= len(q.buf) {
		return 0, false
	}
	v := q.buf[q.head]
	q.head++
	if q.head == len(q.buf) {
		q.buf = q.buf[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.buf) {
		n := copy(q.buf, q.buf[q.head:])
		q.buf = q.buf[:n]
		q.head = 0
	}
	return v, true
}

// drain removes and returns every queued value in order.
func (q *queue) drain() []int64 {
	out := make([]int64, len(q.buf)-q.head)
	copy(out, q.buf[q.head:])
	q.buf = q.buf[:0]
	q.head = 0
	return out
}

// values returns a copy of the queued values without consuming them.
func (q *queue) values() []int64 {
	out := make([]int64, len(q.buf)-q.head)
	copy(out, q.buf[q.head:])
	return out
}

func (q *queue) len() int {
	return len(q.buf) - q.head
}
