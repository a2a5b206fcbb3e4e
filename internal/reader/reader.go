// Package reader implements the per-port UDP ingest task described in
// spec.md §4.D: bind a socket, size its receive buffer, and pump datagrams
// into the shared pool as fast as the kernel delivers them. It is a
// translation of readflows.c's Bind/ReadCISCOFlow/ReadThread trio.
package reader

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/netflowd/netflowd/internal/cflowd"
	"github.com/netflowd/netflowd/internal/pool"
)

// startRcvBuf and floorRcvBuf bound the SO_RCVBUF sizing search described in
// spec.md §4.D step 2: start at 2 MiB, halve on any error, give up once the
// 2 KiB floor is rejected.
const (
	startRcvBuf = 1 << 21
	floorRcvBuf = 1 << 11
)

// Logger is the subset of internal/logger.Logger a reader needs; defined
// here so this package doesn't import logger directly and can be tested
// without constructing one.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Done() bool
}

// Reader owns one UDP socket and feeds the shared pool.
type Reader struct {
	port          int
	dropDetection bool
	pool          *pool.Pool
	log           Logger

	conn *net.UDPConn
}

// New binds a UDP socket on 0.0.0.0:port and returns a Reader ready to Run.
func New(port int, dropDetection bool, p *pool.Pool, log Logger) (*Reader, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("reader: bind port %d: %w", port, err)
	}

	size, err := setLargestRcvBuf(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reader: sizing SO_RCVBUF on port %d: %w", port, err)
	}
	log.Info("set receive buffer size", "port", port, "bytes", size)

	return &Reader{
		port:          port,
		dropDetection: dropDetection,
		pool:          p,
		log:           log,
		conn:          conn,
	}, nil
}

// Run is the reader's main loop (spec.md §4.D): acquire a free buffer, read
// one datagram into it, stamp it, and submit it to the ready queue. It
// returns only after Close has closed the socket (the buffer it held goes
// back to the free queue); any other unretriable socket error terminates the
// process, matching the reference's ReadCISCOFlow/ReadThread behavior.
func (r *Reader) Run() {
	r.log.Info("starting read thread", "port", r.port)

	for {
		buf := r.pool.AcquireFree(true)

		n, addr, err := r.readDatagram(buf.Data)
		if errors.Is(err, net.ErrClosed) {
			r.pool.ReleaseFree(buf)
			return
		}
		if err != nil {
			if !r.log.Done() {
				r.log.Error("recvmsg failed, exiting", "port", r.port, "error", err)
			}
			panic(fmt.Sprintf("reader: fatal read error on port %d: %v", r.port, err))
		}

		buf.Len = n
		buf.Router = addr.IP
		buf.DropDetection = r.dropDetection

		r.pool.Submit(buf)
	}
}

// LocalPort returns the UDP port actually bound, which may differ from the
// configured port when it was 0 (let the kernel choose), as in tests.
func (r *Reader) LocalPort() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close releases the reader's socket. Readers are not explicitly stopped by
// the supervisor on shutdown (spec.md §4.G, §9 Open Questions); Close exists
// for tests and for any future quiesce step.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// readDatagram retries on EINTR, matching readflows.c's ReadCISCOFlow loop;
// any other error is fatal for the process.
func (r *Reader) readDatagram(buf []byte) (int, *net.UDPAddr, error) {
	for {
		n, addr, err := r.conn.ReadFromUDP(buf[:cflowd.MaxDatagramSize])
		if err == nil {
			return n, addr, nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return 0, nil, err
	}
}

// setLargestRcvBuf implements spec.md §4.D step 2: try progressively
// smaller SO_RCVBUF sizes until the kernel accepts one, or until even the
// floor is rejected. Errors are not told apart: ENOBUFS is treated like any
// other error, both when halving and when the floor is rejected.
func setLargestRcvBuf(conn *net.UDPConn) (int, error) {
	n := startRcvBuf
	for {
		err := conn.SetReadBuffer(n)
		if err == nil {
			return n, nil
		}
		if n <= floorRcvBuf {
			return 0, fmt.Errorf("setsockopt(SO_RCVBUF, %d): %w", n, err)
		}
		n /= 2
	}
}
