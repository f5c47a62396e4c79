package transport

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Pipe creates a synchronous, unbuffered in-memory connection pair.
// Reads block until the counterpart writes; deadlines run on the given
// clock so tests can drive timeouts deterministically.
func Pipe(addr1, addr2 Addr, clk clock.Clock) (c1, c2 *PipeConn) {
	c1 = &PipeConn{
		stream:        make(chan []byte),
		consumed:      make(chan int),
		closed:        make(chan struct{}),
		readDeadline:  newChanDeadline(clk),
		writeDeadline: newChanDeadline(clk),
		addr:          addr1,
	}
	c2 = &PipeConn{
		stream:        make(chan []byte),
		consumed:      make(chan int),
		closed:        make(chan struct{}),
		readDeadline:  newChanDeadline(clk),
		writeDeadline: newChanDeadline(clk),
		addr:          addr2,
	}
	c1.counterpart, c2.counterpart = c2, c1
	return c1, c2
}

// PipeConn is one end of a [Pipe].
type PipeConn struct {
	stream   chan []byte // bytes offered by the counterpart.
	consumed chan int    // how much of an offer the counterpart took.

	writeMu sync.Mutex

	closed chan struct{}
	once   sync.Once

	readDeadline  *chanDeadline
	writeDeadline *chanDeadline

	counterpart *PipeConn

	addr Addr
}

var _ Conn = (*PipeConn)(nil)

func (p *PipeConn) LocalAddr() Addr  { return p.addr }
func (p *PipeConn) RemoteAddr() Addr { return p.counterpart.addr }

func (p *PipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *PipeConn) Read(b []byte) (n int, err error) {
	if err := p.checkOpen(p.readDeadline); err != nil {
		return 0, err
	}

	select {
	case received := <-p.stream:
		n := copy(b, received)
		p.counterpart.consumed <- n
		return n, nil
	case <-p.closed:
		return 0, ErrConnClosed
	case <-p.counterpart.closed:
		return 0, ErrConnClosed
	case <-p.readDeadline.wait():
		return 0, ErrDeadlineExceeded
	}
}

func (p *PipeConn) Write(b []byte) (n int, err error) {
	if err := p.checkOpen(p.writeDeadline); err != nil {
		return 0, err
	}

	if len(b) == 0 {
		return 0, nil
	}

	// Serialize writers so concurrent writes don't interleave.
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	nn := 0
	for len(b) > 0 {
		select {
		case p.counterpart.stream <- b:
			n := <-p.consumed
			b = b[n:]
			nn += n
		case <-p.closed:
			return nn, ErrConnClosed
		case <-p.counterpart.closed:
			return nn, ErrConnClosed
		case <-p.writeDeadline.wait():
			return nn, ErrDeadlineExceeded
		}
	}

	return nn, nil
}

func (p *PipeConn) checkOpen(d *chanDeadline) error {
	switch {
	case isClosed(p.closed):
		return ErrConnClosed
	case isClosed(p.counterpart.closed):
		return ErrConnClosed
	case isClosed(d.wait()):
		return ErrDeadlineExceeded
	}
	return nil
}

func (p *PipeConn) SetReadDeadline(t time.Time)  { p.readDeadline.set(t) }
func (p *PipeConn) SetWriteDeadline(t time.Time) { p.writeDeadline.set(t) }

// chanDeadline exposes a deadline as a channel that closes on expiry.
type chanDeadline struct {
	clock clock.Clock

	t *clock.Timer
	m sync.Mutex

	closed chan struct{}
}

func newChanDeadline(clk clock.Clock) *chanDeadline {
	return &chanDeadline{
		clock:  clk,
		closed: make(chan struct{}),
	}
}

func (d *chanDeadline) set(t time.Time) {
	d.m.Lock()
	defer d.m.Unlock()

	if d.t != nil {
		d.t.Stop()
	}
	d.t = nil

	if isClosed(d.closed) {
		d.closed = make(chan struct{})
	}

	if t.IsZero() {
		// No limit.
		return
	}

	d.t = d.clock.AfterFunc(d.clock.Until(t), func() {
		close(d.closed)
	})
}

func (d *chanDeadline) wait() <-chan struct{} {
	d.m.Lock()
	defer d.m.Unlock()
	return d.closed
}

func isClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
