package server

import (
	"net"

	"rtmp-ingest-core/internal/pool"
)

// pooledConnReader wraps a net.Conn's Read calls with a single pool-backed
// scratch buffer, so the chunk reader's repeated small reads off the wire
// draw from one reused allocation per connection instead of letting the
// runtime size ad hoc buffers for every Read call.
type pooledConnReader struct {
	conn net.Conn
	bp   *pool.BytePool
	buf  []byte
	pos  int
	n    int
}

func newPooledConnReader(conn net.Conn, bp *pool.BytePool) *pooledConnReader {
	return &pooledConnReader{conn: conn, bp: bp}
}

func (p *pooledConnReader) Read(out []byte) (int, error) {
	if p.pos >= p.n {
		if p.buf == nil {
			p.buf = p.bp.Get()
		}
		n, err := p.conn.Read(p.buf)
		if n == 0 {
			return 0, err
		}
		p.pos, p.n = 0, n
	}
	copied := copy(out, p.buf[p.pos:p.n])
	p.pos += copied
	return copied, nil
}

// release returns the scratch buffer to its pool. Safe to call once, at the
// end of the connection's life.
func (p *pooledConnReader) release() {
	if p.buf != nil {
		p.bp.Put(p.buf)
		p.buf = nil
	}
}

// pooledConn overrides net.Conn's Read with a pooledConnReader while
// forwarding Write and every other method to the wrapped connection.
type pooledConn struct {
	net.Conn
	r *pooledConnReader
}

func (p *pooledConn) Read(b []byte) (int, error) { return p.r.Read(b) }
