package dispatch

import (
	"time"

	"github.com/glennswest/netpkt/packet"
	"github.com/glennswest/netpkt/session"
)

// PacketTrace is an immutable audit record for one packet that reached
// a terminal dispatch state. It carries only the fields that make
// sense for a generic binary protocol, not anything opcode-specific.
type PacketTrace struct {
	Timestamp     time.Time
	Outcome       string
	OpCode        uint16
	Length        int
	Flags         packet.Flag
	RemoteAddress string
	SessionID     uint64
}

// emitTrace writes a PacketTrace line to the configured TraceSink, if
// any. It is a no-op when the dispatcher wasn't given one, so tests
// and deployments that don't care about audit trails pay nothing.
func (d *Dispatcher) emitTrace(p packet.Packet, conn *session.Session, outcome string) {
	if d.traceSink == nil {
		return
	}
	t := PacketTrace{
		Timestamp:     time.Now(),
		Outcome:       outcome,
		OpCode:        p.OpCode,
		Length:        p.Length(d.codec.HeaderSize()),
		Flags:         p.Flags,
		RemoteAddress: conn.RemoteAddress,
		SessionID:     conn.ID,
	}
	d.traceSink.Infof("trace outcome=%s opcode=0x%04x length=%d flags=0x%02x session=%d remote=%s",
		t.Outcome, t.OpCode, t.Length, uint8(t.Flags), t.SessionID, t.RemoteAddress)
}
