// Package transport frames a byte stream into packet.Packet values
// and serializes outbound writes, one Stream per accepted connection.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glennswest/netpkt/bufpool"
	"github.com/glennswest/netpkt/logging"
	"github.com/glennswest/netpkt/packet"
)

// State is a Stream's lifecycle state.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed describes a stream that has transitioned to StateClosed.
// Send and SendAsync report that case as a false result rather than
// returning this error.
var ErrClosed = errors.New("transport: stream is closed")

// FrameReadyFunc is invoked once per fully-framed inbound packet.
type FrameReadyFunc func(p packet.Packet)

// DisconnectedFunc is invoked exactly once when the receive loop
// exits, whether from a clean EOF, a read error, or Dispose.
type DisconnectedFunc func(err error)

// Config configures a Stream.
type Config struct {
	Codec           packet.Codec
	Pool            *bufpool.Pool
	Logger          logging.Logger
	OnFrameReady    FrameReadyFunc
	OnDisconnected  DisconnectedFunc
	RecentCacheSize int // capacity of the sent/received digest caches; 0 uses a default
}

// Stream frames packet.Codec-encoded frames off of a net.Conn (or any
// io.ReadWriteCloser, so tests can drive it over an in-memory pipe)
// and serializes writes behind a single lock.
type Stream struct {
	conn   io.ReadWriteCloser
	codec  packet.Codec
	pool   *bufpool.Pool
	logger logging.Logger

	onFrameReady   FrameReadyFunc
	onDisconnected DisconnectedFunc

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once

	sentCache     *recentCache
	receivedCache *recentCache
	lastPing      atomic.Int64 // UnixNano of the last successfully read frame
}

const defaultRecentCacheSize = 32

// New constructs a Stream. Call ReceiveLoop (typically in its own
// goroutine) to start framing inbound data.
func New(conn io.ReadWriteCloser, cfg Config) *Stream {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	cacheSize := cfg.RecentCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultRecentCacheSize
	}
	s := &Stream{
		conn:           conn,
		codec:          cfg.Codec,
		pool:           cfg.Pool,
		logger:         logger,
		onFrameReady:   cfg.OnFrameReady,
		onDisconnected: cfg.OnDisconnected,
		sentCache:      newRecentCache(cacheSize),
		receivedCache:  newRecentCache(cacheSize),
	}
	return s
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// LastPing returns the time of the last successfully received frame,
// or the zero Time if none has arrived yet.
func (s *Stream) LastPing() time.Time {
	ns := s.lastPing.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ReceiveLoop reads frames until the connection closes or an error
// occurs, firing OnFrameReady for each and OnDisconnected exactly
// once on exit. It blocks; callers run it in its own goroutine.
func (s *Stream) ReceiveLoop() {
	headerSize := s.codec.HeaderSize()
	header := make([]byte, headerSize)

	for {
		if s.State() != StateOpen {
			s.fireDisconnected(nil)
			return
		}

		if _, err := io.ReadFull(s.conn, header); err != nil {
			s.fireDisconnected(readErr(err))
			return
		}

		total, err := s.codec.PeekLength(header)
		if err != nil {
			s.logger.Warnf("transport: malformed length prefix: %v", err)
			s.fireDisconnected(err)
			return
		}
		if total > s.pool.MaxBufferSize() {
			s.logger.Warnf("transport: frame length %d exceeds max buffer size %d, dropping connection", total, s.pool.MaxBufferSize())
			s.fireDisconnected(fmt.Errorf("%w: frame length %d exceeds max buffer size", packet.ErrInvalidPacket, total))
			return
		}
		if total < headerSize {
			s.logger.Warnf("transport: frame length %d shorter than header size %d", total, headerSize)
			s.fireDisconnected(packet.ErrInvalidPacket)
			return
		}

		buf := s.pool.Rent(total)
		copy(buf, header)
		if remaining := total - headerSize; remaining > 0 {
			if _, err := io.ReadFull(s.conn, buf[headerSize:total]); err != nil {
				s.pool.Return(buf)
				s.fireDisconnected(readErr(err))
				return
			}
		}

		s.lastPing.Store(time.Now().UnixNano())
		s.receivedCache.Add(buf[:total])

		p, err := s.codec.Deserialize(buf[:total])
		s.pool.Return(buf)
		if err != nil {
			s.logger.Warnf("transport: deserialize failed: %v", err)
			continue
		}

		if s.onFrameReady != nil {
			s.onFrameReady(p)
		}
	}
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Send synchronously writes raw bytes and reports whether the write
// succeeded. A failure logs and returns false; it does not itself
// close the connection (the caller's receive loop will observe the
// broken connection independently).
func (s *Stream) Send(frame []byte) bool {
	if s.State() == StateClosed {
		return false
	}
	s.writeMu.Lock()
	_, err := s.conn.Write(frame)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warnf("transport: send failed: %v", err)
		return false
	}
	s.sentCache.Add(frame)
	return true
}

// SendAsync writes frame on a new goroutine, respecting ctx
// cancellation before the write is attempted (once a write has
// started it runs to completion; net.Conn writes aren't
// cancel-interruptible without a deadline).
func (s *Stream) SendAsync(ctx interface{ Done() <-chan struct{} }, frame []byte) <-chan bool {
	result := make(chan bool, 1)
	go func() {
		select {
		case <-ctx.Done():
			result <- false
		default:
			result <- s.Send(frame)
		}
	}()
	return result
}

// WasRecentlySent reports whether frame's digest was recently
// written via Send/SendAsync.
func (s *Stream) WasRecentlySent(frame []byte) bool { return s.sentCache.Contains(frame) }

// WasRecentlyReceived reports whether frame's digest was recently
// read by ReceiveLoop.
func (s *Stream) WasRecentlyReceived(frame []byte) bool { return s.receivedCache.Contains(frame) }

func (s *Stream) fireDisconnected(err error) {
	wasOpen := s.state.Swap(int32(StateClosed)) != int32(StateClosed)
	if wasOpen && s.onDisconnected != nil {
		s.onDisconnected(err)
	}
}

// Dispose shuts down the connection and transitions to StateClosed.
// It is idempotent and safe to call from any goroutine, including
// concurrently with an in-flight ReceiveLoop.
func (s *Stream) Dispose() error {
	var err error
	s.closeOnce.Do(func() {
		wasOpen := s.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		err = s.conn.Close()
		if wasOpen {
			// Moves the state to StateClosed and fires OnDisconnected
			// unless the receive loop already did so.
			s.fireDisconnected(nil)
		}
	})
	return err
}
