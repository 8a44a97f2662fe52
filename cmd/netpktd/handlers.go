package main

import (
	"time"

	"github.com/glennswest/netpkt/dispatch"
	"github.com/glennswest/netpkt/packet"
	"github.com/glennswest/netpkt/session"
)

const (
	opPing = 0x0001
	opEcho = 0x0002
)

// registerHandlers wires up the daemon's baseline opcodes. Real
// deployments add their own handlers the same way; these two exist
// so the binary is useful out of the box and exercise every stage of
// the dispatch pipeline (rate limit, concurrency, permission, timeout).
func registerHandlers(d *dispatch.Dispatcher) {
	d.RegisterHandler(opPing, dispatch.HandlerDescriptor{
		OpName:           "ping",
		Permission:       session.RoleGuest,
		RateLimit:        dispatch.RateLimitConfig{RPS: 50, Burst: 10},
		Timeout:          time.Second,
		AllowedTransport: dispatch.TransportTCPOnly,
	}, func(p packet.Packet, conn *session.Session) (dispatch.Result, error) {
		return dispatch.FromString("pong"), nil
	})

	d.RegisterHandler(opEcho, dispatch.HandlerDescriptor{
		OpName:           "echo",
		Permission:       session.RoleUser,
		Concurrency:      dispatch.ConcurrencyConfig{Max: 64, Queue: true, QueueMax: 256},
		Timeout:          5 * time.Second,
		AllowedTransport: dispatch.TransportTCPOnly,
	}, func(p packet.Packet, conn *session.Session) (dispatch.Result, error) {
		reply := packet.Packet{
			Magic:     p.Magic,
			OpCode:    opEcho,
			Priority:  p.Priority,
			Transport: p.Transport,
			Payload:   p.Payload,
		}
		return dispatch.FromPacket(reply), nil
	})
}
