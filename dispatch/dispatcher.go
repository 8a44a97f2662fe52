// Package dispatch resolves incoming packets to registered handlers
// through a middleware pipeline (rate limit, concurrency limit,
// decompression, decryption, permission, timeout).
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/glennswest/netpkt/logging"
	"github.com/glennswest/netpkt/packet"
	"github.com/glennswest/netpkt/session"
)

// OpStats accumulates per-opcode diagnostics surfaced through the
// admin HTTP /stats route.
type OpStats struct {
	Received    atomic.Int64
	Dispatched  atomic.Int64
	RateLimited atomic.Int64
	Overloaded  atomic.Int64
	Forbidden   atomic.Int64
	TimedOut    atomic.Int64
	Errored     atomic.Int64
}

type registeredHandler struct {
	descriptor HandlerDescriptor
	fn         HandlerFunc
	stats      *OpStats

	sem         *semaphore.Weighted
	queueTokens chan struct{}

	limitersMu sync.Mutex
	limiters   map[uint64]*rate.Limiter
}

func newRegisteredHandler(descriptor HandlerDescriptor, fn HandlerFunc) *registeredHandler {
	rh := &registeredHandler{
		descriptor: descriptor,
		fn:         fn,
		stats:      &OpStats{},
		limiters:   make(map[uint64]*rate.Limiter),
	}
	if descriptor.Concurrency.Max > 0 {
		rh.sem = semaphore.NewWeighted(descriptor.Concurrency.Max)
		if descriptor.Concurrency.Queue {
			queueMax := descriptor.Concurrency.QueueMax
			if queueMax <= 0 {
				queueMax = int(descriptor.Concurrency.Max)
			}
			rh.queueTokens = make(chan struct{}, queueMax)
		}
	}
	return rh
}

func (rh *registeredHandler) limiterFor(sessionID uint64) *rate.Limiter {
	cfg := rh.descriptor.RateLimit
	if cfg.RPS <= 0 {
		return nil
	}
	rh.limitersMu.Lock()
	defer rh.limitersMu.Unlock()
	l, ok := rh.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		rh.limiters[sessionID] = l
	}
	return l
}

func (rh *registeredHandler) acquireConcurrency(ctx context.Context) (release func(), err error) {
	if rh.sem == nil {
		return func() {}, nil
	}
	if !rh.descriptor.Concurrency.Queue {
		if !rh.sem.TryAcquire(1) {
			return nil, ErrOverloaded
		}
		return func() { rh.sem.Release(1) }, nil
	}

	select {
	case rh.queueTokens <- struct{}{}:
	default:
		return nil, ErrOverloaded
	}
	if err := rh.sem.Acquire(ctx, 1); err != nil {
		<-rh.queueTokens
		return nil, err
	}
	return func() {
		rh.sem.Release(1)
		<-rh.queueTokens
	}, nil
}

// Dispatcher maps opcodes to registered handlers and runs the
// middleware pipeline ahead of each invocation.
type Dispatcher struct {
	codec           packet.Codec
	logger          logging.Logger
	traceSink       logging.Logger
	defaultTimeout  time.Duration
	compressionAlgo packet.CompressionAlgo
	onRejected      func(opcode uint16, sessionID uint64, err error)

	mu       sync.RWMutex
	handlers map[uint16]*registeredHandler
	frozen   bool

	queuesMu sync.Mutex
	queues   map[uint64]*PriorityQueue

	unknownKinds sync.Map // ResultKind -> struct{}, logged once
}

// Config configures a Dispatcher.
type Config struct {
	Codec           packet.Codec
	Logger          logging.Logger
	DefaultTimeout  time.Duration
	CompressionAlgo packet.CompressionAlgo

	// TraceSink, if set, receives a PacketTrace line for every packet
	// that reaches a terminal dispatch state (response sent or handler
	// error). It is typically a *logging.FileSink so traces land on
	// disk independently of the main application log.
	TraceSink logging.Logger

	// OnRejected, if set, is called whenever the middleware pipeline
	// rejects a packet before it reaches its handler, with the sentinel
	// from errors.go describing why (ErrWrongTransport, ErrRateLimited,
	// ErrOverloaded, ErrEncryptionRequired, ErrForbidden, ErrTimeout).
	OnRejected func(opcode uint16, sessionID uint64, err error)
}

// New builds an empty Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		codec:           cfg.Codec,
		logger:          logger,
		traceSink:       cfg.TraceSink,
		defaultTimeout:  timeout,
		compressionAlgo: cfg.CompressionAlgo,
		onRejected:      cfg.OnRejected,
		handlers:        make(map[uint16]*registeredHandler),
		queues:          make(map[uint64]*PriorityQueue),
	}
}

func (d *Dispatcher) reject(opcode uint16, sessionID uint64, err error) {
	if d.onRejected != nil {
		d.onRejected(opcode, sessionID, err)
	}
}

// RegisterHandler adds fn for opcode under descriptor. Registering
// the same opcode twice is a fatal configuration error, returned
// rather than panicking so callers can report it and exit cleanly.
// Registration after Freeze also fails.
func (d *Dispatcher) RegisterHandler(opcode uint16, descriptor HandlerDescriptor, fn HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return fmt.Errorf("dispatch: cannot register opcode 0x%04x after Freeze", opcode)
	}
	if _, exists := d.handlers[opcode]; exists {
		return fmt.Errorf("%w: 0x%04x", ErrDuplicateOpcode, opcode)
	}
	d.handlers[opcode] = newRegisteredHandler(descriptor, fn)
	return nil
}

// Freeze marks registration complete; RegisterHandler fails from this
// point on. Lookups still take the read lock.
func (d *Dispatcher) Freeze() { d.mu.Lock(); d.frozen = true; d.mu.Unlock() }

func (d *Dispatcher) lookup(opcode uint16) (*registeredHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rh, ok := d.handlers[opcode]
	return rh, ok
}

// Stats returns a snapshot of every registered opcode's diagnostics.
func (d *Dispatcher) Stats() map[uint16]*OpStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uint16]*OpStats, len(d.handlers))
	for op, rh := range d.handlers {
		out[op] = rh.stats
	}
	return out
}

// queueFor returns conn's PriorityQueue, creating it on first use. Each
// connection gets its own queue so that one slow or backed-up session
// never head-of-line blocks another; within a connection the queue is
// what gives Urgent packets their head start over Normal/Low ones.
func (d *Dispatcher) queueFor(sessionID uint64) *PriorityQueue {
	d.queuesMu.Lock()
	defer d.queuesMu.Unlock()
	q, ok := d.queues[sessionID]
	if !ok {
		q = NewPriorityQueue(16)
		d.queues[sessionID] = q
	}
	return q
}

// ReleaseConnection stops and discards sessionID's PriorityQueue. Call
// this once a connection has disconnected so its consumer goroutine
// doesn't leak.
func (d *Dispatcher) ReleaseConnection(sessionID uint64) {
	d.queuesMu.Lock()
	q, ok := d.queues[sessionID]
	delete(d.queues, sessionID)
	d.queuesMu.Unlock()
	if ok {
		q.Close()
	}
}

// Dispatch schedules p for the middleware pipeline and handler lookup
// on conn's priority queue, returning immediately. On the same
// connection, Urgent packets already waiting are delivered ahead of
// High/Normal/Low ones, the other classes are picked without a fixed
// order between them, and each class is FIFO; see PriorityQueue.
func (d *Dispatcher) Dispatch(ctx context.Context, p packet.Packet, conn *session.Session) {
	d.queueFor(conn.ID).Enqueue(p, func(queued packet.Packet) {
		d.dispatchNow(ctx, queued, conn)
	})
}

// dispatchNow runs the full middleware pipeline for p on conn and
// invokes the matched handler. Errors at any stage are logged with
// the opcode (and the session id or remote address) and never
// propagate to the caller;
// a rejection is also reported through Config.OnRejected, when set.
func (d *Dispatcher) dispatchNow(ctx context.Context, p packet.Packet, conn *session.Session) {
	rh, ok := d.lookup(p.OpCode)
	if !ok {
		d.logger.Warnf("dispatch: no handler for opcode 0x%04x from %s, dropping", p.OpCode, conn.RemoteAddress)
		return
	}
	rh.stats.Received.Add(1)

	if !rh.descriptor.AllowedTransport.allows(p.Transport) {
		d.logger.Warnf("dispatch: opcode 0x%04x not allowed over transport %d", p.OpCode, p.Transport)
		d.reject(p.OpCode, conn.ID, ErrWrongTransport)
		return
	}

	if limiter := rh.limiterFor(conn.ID); limiter != nil && !limiter.Allow() {
		rh.stats.RateLimited.Add(1)
		d.logger.Warnf("dispatch: opcode 0x%04x rate limited for session %d", p.OpCode, conn.ID)
		d.reject(p.OpCode, conn.ID, ErrRateLimited)
		return
	}

	release, err := rh.acquireConcurrency(ctx)
	if err != nil {
		rh.stats.Overloaded.Add(1)
		d.logger.Warnf("dispatch: opcode 0x%04x overloaded for session %d: %v", p.OpCode, conn.ID, err)
		d.reject(p.OpCode, conn.ID, err)
		return
	}
	defer release()

	if p.Flags.Has(packet.FlagCompressed) {
		dp, err := packet.Decompress(p, d.compressionAlgo)
		if err != nil {
			d.logger.Warnf("dispatch: decompress failed for opcode 0x%04x: %v", p.OpCode, err)
			return
		}
		p = dp
	}

	if rh.descriptor.RequiresEncryption {
		if !p.Flags.Has(packet.FlagEncrypted) {
			d.logger.Warnf("dispatch: opcode 0x%04x requires encryption, packet was plaintext", p.OpCode)
			d.reject(p.OpCode, conn.ID, ErrEncryptionRequired)
			return
		}
		dp, err := packet.Decrypt(p, conn.SessionKey, rh.descriptor.EncryptionAlgo)
		if err != nil {
			d.logger.Warnf("dispatch: decrypt failed for opcode 0x%04x: %v", p.OpCode, err)
			return
		}
		p = dp
	}

	if conn.Role < rh.descriptor.Permission {
		rh.stats.Forbidden.Add(1)
		d.logger.Warnf("dispatch: opcode 0x%04x forbidden for session %d (role %s)", p.OpCode, conn.ID, conn.Role)
		d.reject(p.OpCode, conn.ID, ErrForbidden)
		return
	}

	timeout := rh.descriptor.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := rh.fn(p, conn)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	rh.stats.Dispatched.Add(1)
	select {
	case <-hctx.Done():
		rh.stats.TimedOut.Add(1)
		d.logger.Warnf("dispatch: opcode 0x%04x timed out for session %d", p.OpCode, conn.ID)
		d.reject(p.OpCode, conn.ID, ErrTimeout)
		d.emitTrace(p, conn, "errored")
	case err := <-errCh:
		rh.stats.Errored.Add(1)
		d.logger.Errorf("dispatch: handler for opcode 0x%04x from %s failed: %v", p.OpCode, conn.RemoteAddress, err)
		d.emitTrace(p, conn, "errored")
	case result := <-resultCh:
		d.writeResult(result, conn)
		d.emitTrace(p, conn, "response_sent")
	}
}

func (d *Dispatcher) writeResult(result Result, conn *session.Session) {
	switch result.Kind {
	case ResultNone:
		return
	case ResultBytes:
		if !conn.Send(result.Bytes) {
			d.logger.Warnf("dispatch: failed to send response to session %d", conn.ID)
		}
	case ResultPacket:
		buf, err := d.codec.Serialize(result.Packet)
		if err != nil {
			d.logger.Warnf("dispatch: failed to serialize response packet: %v", err)
			return
		}
		if !conn.Send(buf) {
			d.logger.Warnf("dispatch: failed to send response to session %d", conn.ID)
		}
	case ResultAsync:
		go func() {
			inner, ok := <-result.Async
			if !ok {
				return
			}
			d.writeResult(inner, conn)
		}()
	default:
		if _, loaded := d.unknownKinds.LoadOrStore(result.Kind, struct{}{}); !loaded {
			d.logger.Warnf("dispatch: unknown result kind %d, logged once", result.Kind)
		}
	}
}
