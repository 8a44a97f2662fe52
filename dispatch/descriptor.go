package dispatch

import (
	"time"

	"github.com/glennswest/netpkt/packet"
	"github.com/glennswest/netpkt/session"
)

// TransportFilter restricts which transport an opcode may arrive
// over: "this opcode is only valid over transport X".
type TransportFilter uint8

const (
	TransportAny TransportFilter = iota
	TransportTCPOnly
	TransportUDPOnly
)

func (f TransportFilter) allows(t packet.Transport) bool {
	switch f {
	case TransportTCPOnly:
		return t == packet.TransportTCP
	case TransportUDPOnly:
		return t == packet.TransportUDP
	default:
		return true
	}
}

// RateLimitConfig configures the token-bucket rate limiter applied
// per (connection, opcode).
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ConcurrencyConfig configures the counting semaphore applied per
// descriptor (shared across all connections dispatching that opcode).
type ConcurrencyConfig struct {
	Max      int64
	Queue    bool
	QueueMax int
}

// HandlerDescriptor is the immutable metadata the dispatcher builds
// for each registered opcode.
type HandlerDescriptor struct {
	OpName             string
	Permission         session.Role
	RequiresEncryption bool
	EncryptionAlgo     packet.EncryptionAlgo
	RateLimit          RateLimitConfig
	Concurrency        ConcurrencyConfig
	Timeout            time.Duration
	AllowedTransport   TransportFilter
}

// HandlerFunc is the invoker a descriptor is registered with. It
// receives the decoded packet and the owning session, and returns a
// tagged Result or an error (an error is logged as HandlerException
// and never propagates out of the dispatcher).
type HandlerFunc func(p packet.Packet, conn *session.Session) (Result, error)
