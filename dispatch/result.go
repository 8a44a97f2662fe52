package dispatch

import "github.com/glennswest/netpkt/packet"

// ResultKind tags a handler's return value so the dispatcher can route
// it to the connection without reflection.
type ResultKind uint8

const (
	ResultNone ResultKind = iota
	ResultBytes
	ResultPacket
	ResultAsync
)

// Result is the tagged return value a HandlerFunc produces. Exactly
// one field is meaningful, selected by Kind.
type Result struct {
	Kind   ResultKind
	Bytes  []byte
	Packet packet.Packet
	Async  <-chan Result
}

// None is the result for a handler with no outbound write.
func None() Result { return Result{Kind: ResultNone} }

// FromBytes writes b as-is to the connection.
func FromBytes(b []byte) Result { return Result{Kind: ResultBytes, Bytes: b} }

// FromString UTF-8 encodes s and writes it to the connection.
func FromString(s string) Result { return Result{Kind: ResultBytes, Bytes: []byte(s)} }

// FromPacket serializes p with the dispatcher's codec and writes the
// resulting frame to the connection.
func FromPacket(p packet.Packet) Result { return Result{Kind: ResultPacket, Packet: p} }

// FromAsync defers the actual result to whatever arrives on ch. The
// dispatcher writes the inner result once it's available without
// blocking the calling goroutine.
func FromAsync(ch <-chan Result) Result { return Result{Kind: ResultAsync, Async: ch} }
