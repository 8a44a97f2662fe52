package dispatch

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glennswest/netpkt/bufpool"
	"github.com/glennswest/netpkt/logging"
	"github.com/glennswest/netpkt/packet"
	"github.com/glennswest/netpkt/session"
	"github.com/glennswest/netpkt/transport"
)

// waitFor polls cond until it reports true or timeout elapses, since
// Dispatch enqueues onto a per-connection PriorityQueue and returns
// before the middleware pipeline actually runs.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func newConnectedSession(t *testing.T, id uint64) (*session.Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	pool, err := bufpool.New(bufpool.Config{MinClass: 256, MaxClass: 65536})
	if err != nil {
		t.Fatalf("bufpool.New: %v", err)
	}
	stream := transport.New(server, transport.Config{
		Codec:  packet.PrimaryCodec{},
		Pool:   pool,
		Logger: logging.Nop{},
	})
	s := session.New(id, "10.0.0.1:1", session.RoleUser, time.Minute)
	if err := s.Connect(stream); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Disconnect() })
	return s, client
}

func pingPacket() packet.Packet {
	return packet.Packet{
		Magic:     packet.MagicPrimary,
		OpCode:    0x0001,
		Priority:  packet.PriorityNormal,
		Transport: packet.TransportTCP,
		Payload:   []byte("ping"),
	}
}

// TestDispatchPongScenario verifies that a
// handler that returns the string "pong" results in those UTF-8 bytes
// being written back to the connection.
func TestDispatchPongScenario(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	conn, client := newConnectedSession(t, 1)

	err := d.RegisterHandler(0x0001, HandlerDescriptor{Permission: session.RoleGuest}, func(p packet.Packet, c *session.Session) (Result, error) {
		return FromString("pong"), nil
	})
	if err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	d.Dispatch(context.Background(), pingPacket(), conn)

	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("response = %q, want %q", buf, "pong")
	}
}

func TestDispatchUnknownOpcodeIsNoop(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	conn, _ := newConnectedSession(t, 1)
	d.Dispatch(context.Background(), pingPacket(), conn)
}

func TestRegisterHandlerRejectsDuplicateOpcode(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	noop := func(p packet.Packet, c *session.Session) (Result, error) { return None(), nil }

	if err := d.RegisterHandler(0x0001, HandlerDescriptor{}, noop); err != nil {
		t.Fatalf("first RegisterHandler: %v", err)
	}
	if err := d.RegisterHandler(0x0001, HandlerDescriptor{}, noop); err == nil {
		t.Fatal("second RegisterHandler with the same opcode should fail")
	}
}

func TestRegisterHandlerRejectedAfterFreeze(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	d.Freeze()
	noop := func(p packet.Packet, c *session.Session) (Result, error) { return None(), nil }
	if err := d.RegisterHandler(0x0001, HandlerDescriptor{}, noop); err == nil {
		t.Fatal("RegisterHandler after Freeze should fail")
	}
}

func TestDispatchDeniesInsufficientPermission(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	var called bool
	d.RegisterHandler(0x0001, HandlerDescriptor{Permission: session.RoleAdmin}, func(p packet.Packet, c *session.Session) (Result, error) {
		called = true
		return None(), nil
	})

	conn, _ := newConnectedSession(t, 1) // RoleUser < RoleAdmin
	d.Dispatch(context.Background(), pingPacket(), conn)

	if called {
		t.Fatal("handler ran despite insufficient permission")
	}
}

// TestDispatchRateLimitScenario verifies that with
// RateLimit{RPS:1, Burst:1}, three packets sent within 200ms result in
// exactly one dispatched call and two rate-limited rejections.
func TestDispatchRateLimitScenario(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	var calls atomic.Int64
	d.RegisterHandler(0x0001, HandlerDescriptor{
		Permission: session.RoleGuest,
		RateLimit:  RateLimitConfig{RPS: 1, Burst: 1},
	}, func(p packet.Packet, c *session.Session) (Result, error) {
		calls.Add(1)
		return None(), nil
	})

	conn, _ := newConnectedSession(t, 1)
	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), pingPacket(), conn)
	}

	stats := d.Stats()[0x0001]
	waitFor(t, time.Second, func() bool { return stats.RateLimited.Load() == 2 })

	if got := calls.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
	if stats.RateLimited.Load() != 2 {
		t.Fatalf("RateLimited = %d, want 2", stats.RateLimited.Load())
	}
}

// TestDispatchConcurrencyLimitRejectsWithoutQueue exercises the
// per-opcode semaphore, which is shared across connections. It uses
// two distinct sessions because Dispatch now serializes each
// connection's own packets through a per-connection PriorityQueue, so
// two packets on the same connection would never contend for the
// semaphore at the same time.
func TestDispatchConcurrencyLimitRejectsWithoutQueue(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	d.RegisterHandler(0x0001, HandlerDescriptor{
		Permission:  session.RoleGuest,
		Concurrency: ConcurrencyConfig{Max: 1},
	}, func(p packet.Packet, c *session.Session) (Result, error) {
		entered <- struct{}{}
		<-release
		return None(), nil
	})

	connA, _ := newConnectedSession(t, 1)
	connB, _ := newConnectedSession(t, 2)
	d.Dispatch(context.Background(), pingPacket(), connA)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("first dispatch never entered the handler")
	}

	d.Dispatch(context.Background(), pingPacket(), connB)

	stats := d.Stats()[0x0001]
	waitFor(t, time.Second, func() bool { return stats.Overloaded.Load() == 1 })
	close(release)

	if stats.Overloaded.Load() != 1 {
		t.Fatalf("Overloaded = %d, want 1", stats.Overloaded.Load())
	}
}

func TestDispatchTimeoutStage(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	d.RegisterHandler(0x0001, HandlerDescriptor{
		Permission: session.RoleGuest,
		Timeout:    10 * time.Millisecond,
	}, func(p packet.Packet, c *session.Session) (Result, error) {
		time.Sleep(100 * time.Millisecond)
		return None(), nil
	})

	conn, _ := newConnectedSession(t, 1)
	d.Dispatch(context.Background(), pingPacket(), conn)

	stats := d.Stats()[0x0001]
	waitFor(t, time.Second, func() bool { return stats.TimedOut.Load() == 1 })
}

// TestDispatchPrioritizesUrgentPerConnection verifies that Dispatch
// routes packets through the connection's PriorityQueue rather than
// invoking the handler directly: an Urgent packet queued behind a
// blocked Normal one still overtakes a second Normal packet queued
// ahead of it.
func TestDispatchPrioritizesUrgentPerConnection(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	block := make(chan struct{})

	var mu sync.Mutex
	var order []packet.Priority
	first := true

	d.RegisterHandler(0x0001, HandlerDescriptor{Permission: session.RoleGuest}, func(p packet.Packet, c *session.Session) (Result, error) {
		mu.Lock()
		wasFirst := first
		first = false
		mu.Unlock()
		if wasFirst {
			<-block
		}
		mu.Lock()
		order = append(order, p.Priority)
		mu.Unlock()
		return None(), nil
	})

	conn, _ := newConnectedSession(t, 1)
	normal := pingPacket()
	normal.Priority = packet.PriorityNormal
	urgent := pingPacket()
	urgent.Priority = packet.PriorityUrgent

	d.Dispatch(context.Background(), normal, conn) // occupies the handler, blocked on `block`
	time.Sleep(10 * time.Millisecond)              // let the queue's consumer pick it up
	d.Dispatch(context.Background(), normal, conn) // queued second
	d.Dispatch(context.Background(), urgent, conn) // queued third, should still run before the second normal
	close(block)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != packet.PriorityNormal {
		t.Fatalf("order[0] = %v, want the in-flight normal packet first", order[0])
	}
	if order[1] != packet.PriorityUrgent {
		t.Fatalf("order[1] = %v, want urgent ahead of the second normal packet", order[1])
	}
}

func TestDispatchReleaseConnectionIsIdempotent(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	conn, _ := newConnectedSession(t, 1)

	d.RegisterHandler(0x0001, HandlerDescriptor{Permission: session.RoleGuest}, func(p packet.Packet, c *session.Session) (Result, error) {
		return None(), nil
	})
	d.Dispatch(context.Background(), pingPacket(), conn)

	d.ReleaseConnection(conn.ID)
	d.ReleaseConnection(conn.ID) // no queue left; must not panic

	// Dispatch lazily rebuilds the queue after release.
	d.Dispatch(context.Background(), pingPacket(), conn)
}

func TestDispatchRejectsWrongTransport(t *testing.T) {
	d := New(Config{Codec: packet.PrimaryCodec{}, Logger: logging.Nop{}})
	var called bool
	d.RegisterHandler(0x0001, HandlerDescriptor{
		Permission:       session.RoleGuest,
		AllowedTransport: TransportUDPOnly,
	}, func(p packet.Packet, c *session.Session) (Result, error) {
		called = true
		return None(), nil
	})

	conn, _ := newConnectedSession(t, 1)
	d.Dispatch(context.Background(), pingPacket(), conn) // packet carries TransportTCP

	if called {
		t.Fatal("handler ran despite transport mismatch")
	}
}
