package packet

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// MagicPrimary identifies the canonical 11-byte header.
const MagicPrimary uint32 = 0x4E584C58

// MagicLegacy identifies the legacy 7-byte header (with an optional
// trailing 4-byte CRC32 covering the payload).
const MagicLegacy uint32 = 0x4C45475F

// Codec encodes and decodes one wire-format variant. An implementation
// MUST be internally consistent: a deployment picks exactly one Codec
// and never mixes variants on the same stream (TransportStream pins
// the variant at construction time).
type Codec interface {
	// Serialize writes the header (little-endian) followed by the
	// payload. It fails with ErrInvalidPacket if the resulting frame
	// would exceed MaxPacketSize.
	Serialize(p Packet) ([]byte, error)

	// TrySerialize writes into dest without allocating. It returns
	// (false, 0) if dest is too small instead of erroring.
	TrySerialize(p Packet, dest []byte) (ok bool, n int)

	// Deserialize parses a complete frame. It fails with
	// ErrInvalidPacket on any length mismatch.
	Deserialize(data []byte) (Packet, error)

	// VerifyChecksum recomputes the variant's checksum (if any) over
	// the payload and compares it against the value carried on the
	// wire. Variants without a checksum field always return false.
	VerifyChecksum(data []byte) bool

	// HeaderSize returns the number of fixed bytes this variant puts
	// before the payload, including any checksum field that follows
	// the header.
	HeaderSize() int

	// Header returns the variant's header bytes (including any
	// checksum field) as they would appear on the wire for a frame of
	// the given total length. Used by Sign/Verify to build the
	// exact preimage the signature covers without re-serializing the
	// whole packet.
	Header(p Packet, length uint16) []byte

	// PeekLength reads the total frame length out of a buffer holding
	// exactly this variant's HeaderSize bytes, without parsing the
	// rest of the header. TransportStream uses this to learn how many
	// more bytes to read after the fixed-size header is in hand,
	// before a full Deserialize is possible.
	PeekLength(header []byte) (int, error)
}

// PrimaryCodec implements the canonical 11-byte header. It carries no
// checksum field; integrity for this variant is provided by Sign/
// Verify instead.
type PrimaryCodec struct{}

var _ Codec = PrimaryCodec{}

func (PrimaryCodec) HeaderSize() int { return HeaderSize }

func (PrimaryCodec) Serialize(p Packet) ([]byte, error) {
	total := HeaderSize + len(p.Payload)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidPacket, total, MaxPacketSize)
	}
	buf := make([]byte, total)
	n, err := writePrimaryHeader(buf, p, uint16(total))
	if err != nil {
		return nil, err
	}
	copy(buf[n:], p.Payload)
	return buf, nil
}

func (PrimaryCodec) TrySerialize(p Packet, dest []byte) (bool, int) {
	total := HeaderSize + len(p.Payload)
	if total > MaxPacketSize || len(dest) < total {
		return false, 0
	}
	n, err := writePrimaryHeader(dest, p, uint16(total))
	if err != nil {
		return false, 0
	}
	copy(dest[n:total], p.Payload)
	return true, total
}

func writePrimaryHeader(dest []byte, p Packet, length uint16) (int, error) {
	if len(dest) < HeaderSize {
		return 0, ErrBufferTooSmall
	}
	magic := p.Magic
	if magic == 0 {
		magic = MagicPrimary
	}
	binary.LittleEndian.PutUint32(dest[0:4], magic)
	binary.LittleEndian.PutUint16(dest[4:6], p.OpCode)
	binary.LittleEndian.PutUint16(dest[6:8], length)
	dest[8] = byte(p.Flags)
	dest[9] = byte(p.Priority)
	dest[10] = byte(p.Transport)
	return HeaderSize, nil
}

func (PrimaryCodec) Deserialize(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: frame shorter than %d-byte header", ErrInvalidPacket, HeaderSize)
	}
	length := binary.LittleEndian.Uint16(data[6:8])
	if int(length) < HeaderSize || int(length) > len(data) {
		return Packet{}, fmt.Errorf("%w: length %d out of bounds [%d, %d]", ErrInvalidPacket, length, HeaderSize, len(data))
	}
	p := Packet{
		Magic:     binary.LittleEndian.Uint32(data[0:4]),
		OpCode:    binary.LittleEndian.Uint16(data[4:6]),
		Flags:     Flag(data[8]),
		Priority:  Priority(data[9]),
		Transport: Transport(data[10]),
	}
	payload := data[HeaderSize:length]
	p.Payload = make([]byte, len(payload))
	copy(p.Payload, payload)
	return p, nil
}

func (PrimaryCodec) VerifyChecksum(data []byte) bool {
	return false // this variant carries no checksum field
}

func (PrimaryCodec) Header(p Packet, length uint16) []byte {
	buf := make([]byte, HeaderSize)
	_, _ = writePrimaryHeader(buf, p, length)
	return buf
}

func (PrimaryCodec) PeekLength(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, fmt.Errorf("%w: header shorter than %d bytes", ErrInvalidPacket, HeaderSize)
	}
	return int(binary.LittleEndian.Uint16(header[6:8])), nil
}

// LegacyCodec implements the 7-byte legacy header: length(2), type(1),
// flags(1), priority(1), opcode(2). When WithChecksum is true, a
// trailing 4-byte CRC32 over the payload follows the header.
type LegacyCodec struct {
	WithChecksum bool
}

var _ Codec = LegacyCodec{}

func (c LegacyCodec) headerAndChecksumSize() int {
	if c.WithChecksum {
		return LegacyHeaderSize + 4
	}
	return LegacyHeaderSize
}

func (c LegacyCodec) HeaderSize() int { return c.headerAndChecksumSize() }

func (c LegacyCodec) Serialize(p Packet) ([]byte, error) {
	overhead := c.headerAndChecksumSize()
	total := overhead + len(p.Payload)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrInvalidPacket, total, MaxPacketSize)
	}
	buf := make([]byte, total)
	n, err := c.writeHeader(buf, p, uint16(total))
	if err != nil {
		return nil, err
	}
	copy(buf[n:], p.Payload)
	return buf, nil
}

func (c LegacyCodec) TrySerialize(p Packet, dest []byte) (bool, int) {
	overhead := c.headerAndChecksumSize()
	total := overhead + len(p.Payload)
	if total > MaxPacketSize || len(dest) < total {
		return false, 0
	}
	n, err := c.writeHeader(dest, p, uint16(total))
	if err != nil {
		return false, 0
	}
	copy(dest[n:total], p.Payload)
	return true, total
}

func (c LegacyCodec) writeHeader(dest []byte, p Packet, length uint16) (int, error) {
	if len(dest) < c.headerAndChecksumSize() {
		return 0, ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint16(dest[0:2], length)
	dest[2] = byte(p.Transport)
	dest[3] = byte(p.Flags)
	dest[4] = byte(p.Priority)
	binary.LittleEndian.PutUint16(dest[5:7], p.OpCode)
	n := LegacyHeaderSize
	if c.WithChecksum {
		sum := crc32.ChecksumIEEE(p.Payload)
		binary.LittleEndian.PutUint32(dest[7:11], sum)
		n = LegacyHeaderSize + 4
	}
	return n, nil
}

func (c LegacyCodec) Deserialize(data []byte) (Packet, error) {
	if len(data) < 2 {
		return Packet{}, fmt.Errorf("%w: frame shorter than length prefix", ErrInvalidPacket)
	}
	length := binary.LittleEndian.Uint16(data[0:2])
	overhead := c.headerAndChecksumSize()
	if int(length) < overhead || int(length) > len(data) {
		return Packet{}, fmt.Errorf("%w: length %d out of bounds [%d, %d]", ErrInvalidPacket, length, overhead, len(data))
	}
	p := Packet{
		Magic:     MagicLegacy,
		Transport: Transport(data[2]),
		Flags:     Flag(data[3]),
		Priority:  Priority(data[4]),
		OpCode:    binary.LittleEndian.Uint16(data[5:7]),
	}
	payload := data[overhead:length]
	p.Payload = make([]byte, len(payload))
	copy(p.Payload, payload)
	return p, nil
}

func (c LegacyCodec) VerifyChecksum(data []byte) bool {
	if !c.WithChecksum {
		return false
	}
	if len(data) < 2 {
		return false
	}
	length := binary.LittleEndian.Uint16(data[0:2])
	if int(length) < c.headerAndChecksumSize() || int(length) > len(data) {
		return false
	}
	want := binary.LittleEndian.Uint32(data[7:11])
	got := crc32.ChecksumIEEE(data[LegacyHeaderSize+4 : length])
	return want == got
}

func (c LegacyCodec) Header(p Packet, length uint16) []byte {
	buf := make([]byte, c.headerAndChecksumSize())
	_, _ = c.writeHeader(buf, p, length)
	return buf
}

func (c LegacyCodec) PeekLength(header []byte) (int, error) {
	size := c.headerAndChecksumSize()
	if len(header) < size {
		return 0, fmt.Errorf("%w: header shorter than %d bytes", ErrInvalidPacket, size)
	}
	return int(binary.LittleEndian.Uint16(header[0:2])), nil
}

// CodecForMagic returns the Codec for a magic value: PrimaryCodec for
// MagicPrimary and LegacyCodec (with checksum) for MagicLegacy. The
// legacy header places its length prefix first and carries no magic
// number on the wire (LegacyCodec.Deserialize stamps MagicLegacy), so
// callers that need to distinguish variants on a raw stream must know
// which variant they're speaking ahead of time (TransportStream does,
// via configuration).
func CodecForMagic(magic uint32) (Codec, bool) {
	switch magic {
	case MagicPrimary:
		return PrimaryCodec{}, true
	case MagicLegacy:
		return LegacyCodec{WithChecksum: true}, true
	default:
		return nil, false
	}
}
