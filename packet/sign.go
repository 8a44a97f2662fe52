package packet

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Sign appends a 32-byte SHA-256 signature to p's payload and sets
// FlagSigned. The hash covers the header as it will appear in the
// final, post-signing frame (i.e. the length field written into the
// hash input already accounts for the appended signature) followed by
// the pre-signature payload. The header in the hash input already
// carries FlagSigned; for a codec with a checksum field, that checksum
// is computed over the pre-signature payload. Preserving this exact
// preimage is required for Verify to agree with Sign.
func Sign(p Packet, codec Codec) Packet {
	finalLength := uint16(codec.HeaderSize() + len(p.Payload) + SignatureSize)
	p.Flags = p.Flags.Set(FlagSigned)
	header := codec.Header(p, finalLength)

	h := sha256.New()
	h.Write(header)
	h.Write(p.Payload)
	sig := h.Sum(nil)

	p.Payload = append(append([]byte{}, p.Payload...), sig...)
	return p
}

// Verify reports whether p's trailing 32-byte signature matches a
// recomputed hash over the header and the body preceding the
// signature. The header is rebuilt the way Sign built it: stamped
// with the packet's current (post-signing) length, FlagSigned set,
// and any checksum field computed over the body alone. It requires
// FlagSigned; an unsigned packet is never valid.
func Verify(p Packet, codec Codec) bool {
	if !p.Flags.Has(FlagSigned) {
		return false
	}
	if len(p.Payload) < SignatureSize {
		return false
	}
	body := p.Payload[:len(p.Payload)-SignatureSize]
	sig := p.Payload[len(p.Payload)-SignatureSize:]

	currentLength := uint16(codec.HeaderSize() + len(p.Payload))
	header := codec.Header(p.WithPayload(body), currentLength)

	h := sha256.New()
	h.Write(header)
	h.Write(body)
	want := h.Sum(nil)

	return subtle.ConstantTimeCompare(want, sig) == 1
}

// StripSignature removes the trailing 32-byte signature from p's
// payload and clears FlagSigned. It fails with ErrNotSigned if the
// flag isn't set.
func StripSignature(p Packet) (Packet, error) {
	if !p.Flags.Has(FlagSigned) {
		return Packet{}, ErrNotSigned
	}
	if len(p.Payload) < SignatureSize {
		return Packet{}, ErrInvalidPacket
	}
	p.Payload = p.Payload[:len(p.Payload)-SignatureSize]
	p.Flags = p.Flags.Clear(FlagSigned)
	return p, nil
}
