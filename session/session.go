// Package session implements the application-level counterpart of a
// TCP connection: identity, role, lifecycle and the SessionManager
// that owns a concurrent map of them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glennswest/netpkt/transport"
)

// Role is a Session's permission level.
type Role uint8

const (
	RoleGuest Role = iota
	RoleUser
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// DefaultTimeout is the inactivity window after which IsTimedOut
// reports true.
const DefaultTimeout = 30 * time.Second

var (
	ErrAlreadyConnected = errors.New("session: already connected")
	ErrDisposed         = errors.New("session: disposed")
)

// Session binds a TransportStream to an identity, role and lifecycle.
// It is exclusively owned by its SessionManager; the TransportStream
// is in turn exclusively owned by the Session — there are no
// back-pointers in either direction.
type Session struct {
	ID            uint64
	RemoteAddress string
	Role          Role
	SessionKey    []byte
	Timeout       time.Duration

	mu           sync.RWMutex
	connected    bool
	disposed     bool
	lastActivity time.Time
	stream       *transport.Stream
}

// New builds a disconnected Session. timeout of zero uses
// DefaultTimeout.
func New(id uint64, remoteAddress string, role Role, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		ID:            id,
		RemoteAddress: remoteAddress,
		Role:          role,
		Timeout:       timeout,
	}
}

// Connect attaches stream, starts its receive loop and marks the
// session connected. stream must already be fully configured (its
// OnFrameReady/OnDisconnected callbacks wired) by the caller.
func (s *Session) Connect(stream *transport.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.connected {
		return ErrAlreadyConnected
	}
	s.stream = stream
	s.connected = true
	s.lastActivity = time.Now()
	go stream.ReceiveLoop()
	return nil
}

// Reconnect retries Connect up to 3 times with exponential backoff
// starting at 2 seconds. It aborts immediately if the session is
// already connected or has been disposed.
func (s *Session) Reconnect(ctx context.Context, dial func(ctx context.Context) (*transport.Stream, error)) error {
	s.mu.RLock()
	connected, disposed := s.connected, s.disposed
	s.mu.RUnlock()
	if disposed {
		return ErrDisposed
	}
	if connected {
		return ErrAlreadyConnected
	}

	const maxAttempts = 3
	backoff := 2 * time.Second
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		stream, err := dial(ctx)
		if err == nil {
			return s.Connect(stream)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("session: reconnect failed after %d attempts: %w", maxAttempts, lastErr)
}

// Disconnect idempotently tears down the underlying transport and
// marks the session disposed. It does not remove the session from
// its SessionManager; callers go through Manager.Remove for that so
// the SessionRemoved hook and the ConnectionLimiter stay consistent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.connected = false
	if s.stream != nil {
		s.stream.Dispose()
	}
}

// IsTimedOut reports whether the session has been inactive longer
// than its configured Timeout.
func (s *Session) IsTimedOut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return false
	}
	return time.Since(s.lastActivity) > s.Timeout
}

// Touch refreshes lastActivity to now; callers invoke this on every
// inbound frame.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// Connected reports whether the session currently has a live stream.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// LastActivity returns the timestamp of the most recent Touch/Connect.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Send writes frame on the session's underlying stream. It returns
// false (without error) if the session has no live stream.
func (s *Session) Send(frame []byte) bool {
	s.mu.RLock()
	stream, connected := s.stream, s.connected
	s.mu.RUnlock()
	if !connected || stream == nil {
		return false
	}
	return stream.Send(frame)
}
